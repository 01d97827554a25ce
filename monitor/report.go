package monitor

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Thresholds above which recommendations are emitted.
const (
	rateThresholdPerMinute = 5
	integrityThreshold     = 10
	connectivityThreshold  = 20
)

// PatternCount is a (category, source, type) triple with its live count.
type PatternCount struct {
	Category Category `json:"category"`
	Source   string   `json:"source"`
	Type     string   `json:"type"`
	Count    int      `json:"count"`
}

// Statistics summarizes the buffered events.
type Statistics struct {
	Total            int              `json:"total"`
	ByCategory       map[Category]int `json:"by_category"`
	BySeverity       map[Severity]int `json:"by_severity"`
	BySource         map[string]int   `json:"by_source"`
	ErrorsLastMinute int              `json:"errors_last_minute"`
	TopPatterns      []PatternCount   `json:"top_patterns"`
	Oldest           time.Time        `json:"oldest"`
	Newest           time.Time        `json:"newest"`
}

// Recommendation is a prioritized remediation hint.
type Recommendation struct {
	Priority Severity `json:"priority"`
	Category Category `json:"category,omitempty"`
	Message  string   `json:"message"`
}

// Report is Statistics plus recommendations.
type Report struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	Statistics      Statistics       `json:"statistics"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Statistics counts the buffered events.
func (m *Monitor) Statistics() Statistics {
	if m == nil {
		return Statistics{}
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st := Statistics{
		Total:      len(m.entries),
		ByCategory: make(map[Category]int),
		BySeverity: make(map[Severity]int),
		BySource:   make(map[string]int),
	}
	for _, ev := range m.entries {
		st.ByCategory[ev.Category]++
		st.BySeverity[ev.Severity]++
		st.BySource[ev.Source]++
		if now.Sub(ev.Time) <= time.Minute {
			st.ErrorsLastMinute++
		}
	}
	if len(m.entries) > 0 {
		st.Oldest = m.entries[0].Time
		st.Newest = m.entries[len(m.entries)-1].Time
	}
	for k, n := range m.counts {
		st.TopPatterns = append(st.TopPatterns, PatternCount{Category: k.category, Source: k.source, Type: k.typ, Count: n})
	}
	sort.Slice(st.TopPatterns, func(i, j int) bool {
		a, b := st.TopPatterns[i], st.TopPatterns[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return fmt.Sprint(a.Category, a.Source, a.Type) < fmt.Sprint(b.Category, b.Source, b.Type)
	})
	if len(st.TopPatterns) > 5 {
		st.TopPatterns = st.TopPatterns[:5]
	}
	return st
}

// Report computes statistics and recommendations.
func (m *Monitor) Report() Report {
	if m == nil {
		return Report{}
	}
	st := m.Statistics()
	r := Report{GeneratedAt: m.now(), Statistics: st}

	if n := st.BySeverity[SeverityCritical]; n > 0 {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Priority: SeverityCritical,
			Category: CategoryFilesystem,
			Message:  fmt.Sprintf("%d filesystem failures: check permissions and free disk space in the mods and data directories", n),
		})
	}
	if st.ErrorsLastMinute > rateThresholdPerMinute {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Priority: SeverityHigh,
			Message:  fmt.Sprintf("%d errors in the last minute: pause scheduled checks and investigate the dominant failure", st.ErrorsLastMinute),
		})
	}
	if n := st.ByCategory[CategoryIntegrity]; n > integrityThreshold {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Priority: SeverityHigh,
			Category: CategoryIntegrity,
			Message:  fmt.Sprintf("%d integrity failures: downloads are being corrupted in transit or on disk; re-verify installed mods", n),
		})
	}
	if n := st.ByCategory[CategoryConnectivity]; n > connectivityThreshold {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Priority: SeverityMedium,
			Category: CategoryConnectivity,
			Message:  fmt.Sprintf("%d connectivity failures: check network access to the registry and its CDN", n),
		})
	}
	if n := st.ByCategory[CategoryAuth]; n > 0 {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Priority: SeverityMedium,
			Category: CategoryAuth,
			Message:  fmt.Sprintf("%d authentication failures: check MODRINTH_API_KEY", n),
		})
	}
	sort.SliceStable(r.Recommendations, func(i, j int) bool {
		return r.Recommendations[i].Priority.rank() > r.Recommendations[j].Priority.rank()
	})
	return r
}

// LogReport writes the current report to the log.
func (m *Monitor) LogReport() Report {
	if m == nil {
		return Report{}
	}
	r := m.Report()
	m.log.Infow("Failure report",
		zap.Int("total", r.Statistics.Total),
		zap.Int("last_minute", r.Statistics.ErrorsLastMinute),
		zap.Any("by_category", r.Statistics.ByCategory),
		zap.Any("by_severity", r.Statistics.BySeverity),
		zap.Any("by_source", r.Statistics.BySource),
	)
	for _, rec := range r.Recommendations {
		m.log.Warnw("Recommendation", zap.String("priority", string(rec.Priority)), zap.String("message", rec.Message))
	}
	return r
}
