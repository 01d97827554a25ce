// Package monitor collects failure events from the other components,
// classifies them, detects repeating patterns and produces reports.
// A Monitor is a sink: none of its methods return errors to the caller.
package monitor

import (
	"errors"
	"sync"
	"time"

	"modkeeper/errs"
	"modkeeper/modrinth"
	"modkeeper/store"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const eventsKey = "monitor/events.json"

// Recorder accepts failure events.
type Recorder interface {
	Record(ev Event)
}

// Event is a structured failure.
type Event struct {
	Time       time.Time `json:"time"`
	Source     string    `json:"source"` // component, e.g. "fetcher"
	Type       string    `json:"type"`   // e.g. "download_failure"
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Kind       errs.Kind `json:"kind"`
	Attempt    int       `json:"attempt"`
	Path       string    `json:"path,omitempty"`
	Category   Category  `json:"category"`
	Severity   Severity  `json:"severity"`
}

// FromError builds an event from err, copying its kind and any HTTP status.
func FromError(source, typ string, err error, attempt int) Event {
	ev := Event{Source: source, Type: typ, Attempt: attempt, Kind: errs.KindOf(err)}
	if err != nil {
		ev.Message = err.Error()
	}
	var statusErr *modrinth.StatusError
	if errors.As(err, &statusErr) {
		ev.StatusCode = statusErr.StatusCode
	}
	return ev
}

// PatternAlert is raised when one (category, source, type) triple repeats.
type PatternAlert struct {
	Category Category  `json:"category"`
	Source   string    `json:"source"`
	Type     string    `json:"type"`
	Count    int       `json:"count"`
	RaisedAt time.Time `json:"raised_at"`
}

type patternKey struct {
	category Category
	source   string
	typ      string
}

// Options configure a Monitor. Zero values take the defaults.
type Options struct {
	MaxEntries       int
	Retention        time.Duration
	PatternThreshold int
	OnAlert          func(PatternAlert)
}

const (
	DefaultMaxEntries       = 1000
	DefaultRetention        = 7 * 24 * time.Hour
	DefaultPatternThreshold = 5
	maxAlerts               = 100
)

// Monitor is safe for concurrent use. A nil *Monitor discards events.
type Monitor struct {
	mu      sync.Mutex
	entries []Event
	counts  map[patternKey]int
	alerts  []PatternAlert

	opts  Options
	store store.Store
	log   *zap.SugaredLogger
	now   func() time.Time
	cron  *cron.Cron
}

// New builds a Monitor and restores previously persisted events from st.
// st may be nil.
func New(st store.Store, log *zap.SugaredLogger, opts Options) *Monitor {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.PatternThreshold <= 0 {
		opts.PatternThreshold = DefaultPatternThreshold
	}
	m := &Monitor{
		counts: make(map[patternKey]int),
		opts:   opts,
		store:  st,
		log:    log.Named("monitor"),
		now:    time.Now,
	}
	m.restore()
	return m
}

func (m *Monitor) restore() {
	if m.store == nil {
		return
	}
	var saved []Event
	if err := m.store.Load(eventsKey, &saved); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warnw("Failed to restore error history", zap.Error(err))
		}
		return
	}
	if len(saved) > m.opts.MaxEntries {
		saved = saved[len(saved)-m.opts.MaxEntries:]
	}
	m.entries = saved
	for _, ev := range saved {
		m.counts[keyOf(ev)]++
	}
}

func keyOf(ev Event) patternKey {
	return patternKey{category: ev.Category, source: ev.Source, typ: ev.Type}
}

// Record classifies ev and appends it to the buffer.
func (m *Monitor) Record(ev Event) {
	if m == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = m.now()
	}
	if ev.Category == "" {
		ev.Category = Categorize(ev)
	}
	ev.Severity = SeverityFor(ev.Category, ev.Attempt)

	m.mu.Lock()
	m.entries = append(m.entries, ev)
	for len(m.entries) > m.opts.MaxEntries {
		m.evictLocked(m.entries[0])
		m.entries = m.entries[1:]
	}

	key := keyOf(ev)
	m.counts[key]++
	var raised *PatternAlert
	if m.counts[key] == m.opts.PatternThreshold {
		alert := PatternAlert{Category: key.category, Source: key.source, Type: key.typ, Count: m.counts[key], RaisedAt: ev.Time}
		m.alerts = append(m.alerts, alert)
		if len(m.alerts) > maxAlerts {
			m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
		}
		raised = &alert
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Infow("Recorded failure",
		zap.String("source", ev.Source),
		zap.String("type", ev.Type),
		zap.String("category", string(ev.Category)),
		zap.String("severity", string(ev.Severity)),
		zap.String("message", ev.Message),
	)
	if raised != nil {
		m.log.Warnw("Repeating failure pattern detected",
			zap.String("category", string(raised.Category)),
			zap.String("source", raised.Source),
			zap.String("type", raised.Type),
			zap.Int("count", raised.Count),
		)
		if m.opts.OnAlert != nil {
			m.opts.OnAlert(*raised)
		}
	}
	m.persist(snapshot)
}

func (m *Monitor) evictLocked(ev Event) {
	key := keyOf(ev)
	if m.counts[key] <= 1 {
		delete(m.counts, key)
		return
	}
	m.counts[key]--
}

func (m *Monitor) snapshotLocked() []Event {
	out := make([]Event, len(m.entries))
	copy(out, m.entries)
	return out
}

// persist is best-effort; failures are logged and dropped.
func (m *Monitor) persist(events []Event) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(eventsKey, events); err != nil {
		m.log.Warnw("Failed to persist error history", zap.Error(err))
	}
}

// Prune drops entries older than the retention window and returns how many were removed.
func (m *Monitor) Prune() int {
	if m == nil {
		return 0
	}
	cutoff := m.now().Add(-m.opts.Retention)

	m.mu.Lock()
	kept := m.entries[:0:0]
	removed := 0
	for _, ev := range m.entries {
		if ev.Time.Before(cutoff) {
			m.evictLocked(ev)
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	m.entries = kept
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if removed > 0 {
		m.log.Infow("Pruned old failures", zap.Int("removed", removed))
		m.persist(snapshot)
	}
	return removed
}

// Entries returns a copy of the buffered events, oldest first.
func (m *Monitor) Entries() []Event {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Alerts returns the pattern alerts raised by this process.
func (m *Monitor) Alerts() []PatternAlert {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PatternAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Start schedules hourly pruning and a report every six hours.
func (m *Monitor) Start() error {
	if m == nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc("@every 1h", func() { m.Prune() }); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every 6h", func() { m.LogReport() }); err != nil {
		return err
	}
	c.Start()
	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	return nil
}

// Stop halts the scheduled jobs and waits for a running job to finish.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
