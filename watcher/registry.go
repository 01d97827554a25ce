package watcher

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"modkeeper/errs"
	"modkeeper/resolver"
	"modkeeper/store"

	"go.uber.org/zap"
)

const (
	// MaxHistory bounds the fulfillment history kept per server.
	MaxHistory = 100

	DefaultInterval = 24 * time.Hour

	serversKey  = "watchers/servers.json"
	settingsKey = "watchers/settings.json"
)

// AllowedIntervalHours are the selectable heavy-check intervals.
var AllowedIntervalHours = []int{12, 24}

// Watch is a standing request to re-check a project for a compatible version.
type Watch struct {
	ProjectID     string          `json:"project_id"`
	ModName       string          `json:"mod_name"`
	Target        resolver.Target `json:"target"`
	AddedAt       time.Time       `json:"added_at"`
	LastCheckedAt time.Time       `json:"last_checked_at"`
	LastError     string          `json:"last_error,omitempty"`
}

// FulfillmentRecord is one satisfied watch.
type FulfillmentRecord struct {
	ProjectID    string          `json:"project_id"`
	ModName      string          `json:"mod_name"`
	Target       resolver.Target `json:"target"`
	VersionID    string          `json:"version_id"`
	VersionFound string          `json:"version_found"`
	FoundAt      time.Time       `json:"found_at"`
}

// Schedule is the durable timing state of one server.
type Schedule struct {
	LastCheckedAt time.Time `json:"last_checked_at"`
	NextCheckAt   time.Time `json:"next_check_at"`
}

// Due reports whether a heavy check should run at now.
func (s Schedule) Due(now time.Time) bool {
	return s.NextCheckAt.IsZero() || !now.Before(s.NextCheckAt)
}

type settings struct {
	IntervalHours int `json:"interval_hours"`
}

type serverState struct {
	watches  []Watch
	history  []FulfillmentRecord
	schedule Schedule
}

// canonical is the absolute form of a server directory.
func canonical(serverPath string) string {
	p := filepath.Clean(serverPath)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p
}

// ServerID derives the storage id of a server directory.
func ServerID(serverPath string) string {
	sum := sha1.Sum([]byte(canonical(serverPath)))
	return hex.EncodeToString(sum[:8])
}

func watchesKey(id string) string  { return "watchers/" + id + "/watches.json" }
func historyKey(id string) string  { return "watchers/" + id + "/history.json" }
func scheduleKey(id string) string { return "watchers/" + id + "/schedule.json" }

// Registry owns the per-server watch lists, histories and schedules.
// State is hydrated from the store on first use and saved after every
// mutation. Save failures are logged; memory stays authoritative.
type Registry struct {
	store store.Store
	log   *zap.SugaredLogger

	mu       sync.Mutex
	servers  map[string]*serverState // by absolute server path
	paths    []string
	interval time.Duration
	stored   bool // interval came from the store
	booted   bool
}

// NewRegistry returns a Registry persisting to st.
func NewRegistry(st store.Store, log *zap.SugaredLogger) *Registry {
	return &Registry{store: st, log: log.Named("watch-registry"), servers: make(map[string]*serverState)}
}

func (r *Registry) load(key string, v any) {
	if err := r.store.Load(key, v); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.Warnw("Failed to load watch state", zap.String("key", key), zap.Error(err))
	}
}

func (r *Registry) save(key string, v any) {
	if err := r.store.Save(key, v); err != nil {
		r.log.Warnw("Failed to save watch state", zap.String("key", key), zap.Error(err))
	}
}

// boot loads the server list and settings. Caller holds mu.
func (r *Registry) boot() {
	if r.booted {
		return
	}
	r.booted = true
	r.load(serversKey, &r.paths)

	var s settings
	r.load(settingsKey, &s)
	r.interval = DefaultInterval
	if slices.Contains(AllowedIntervalHours, s.IntervalHours) {
		r.interval = time.Duration(s.IntervalHours) * time.Hour
		r.stored = true
	}
}

// server returns the hydrated state of serverPath. Caller holds mu.
func (r *Registry) server(serverPath string) *serverState {
	r.boot()
	serverPath = canonical(serverPath)
	if s, ok := r.servers[serverPath]; ok {
		return s
	}
	id := ServerID(serverPath)
	s := &serverState{}
	r.load(watchesKey(id), &s.watches)
	r.load(historyKey(id), &s.history)
	r.load(scheduleKey(id), &s.schedule)
	r.servers[serverPath] = s
	return s
}

func (r *Registry) persist(serverPath string, s *serverState, watches, history, schedule bool) {
	id := ServerID(serverPath)
	if watches {
		r.save(watchesKey(id), s.watches)
	}
	if history {
		r.save(historyKey(id), s.history)
	}
	if schedule {
		r.save(scheduleKey(id), s.schedule)
	}
}

func (r *Registry) remember(serverPath string) {
	serverPath = canonical(serverPath)
	if slices.Contains(r.paths, serverPath) {
		return
	}
	r.paths = append(r.paths, serverPath)
	sort.Strings(r.paths)
	r.save(serversKey, r.paths)
}

// AddWatch registers w for serverPath. It reports false when an identical
// (project, target) watch already exists, leaving the list unchanged.
func (r *Registry) AddWatch(serverPath string, w Watch) (bool, error) {
	if serverPath == "" {
		return false, errs.Validationf("add watch", "server path is required")
	}
	if w.Target.ProjectID == "" {
		w.Target.ProjectID = w.ProjectID
	}
	if w.ProjectID == "" {
		w.ProjectID = w.Target.ProjectID
	}
	if err := w.Target.Validate(); err != nil {
		return false, err
	}
	if w.ModName == "" {
		w.ModName = w.ProjectID
	}
	if w.AddedAt.IsZero() {
		w.AddedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.server(serverPath)
	for _, existing := range s.watches {
		if existing.Target.Key() == w.Target.Key() {
			return false, nil
		}
	}
	s.watches = append(s.watches, w)
	r.remember(serverPath)
	r.persist(serverPath, s, true, false, false)
	return true, nil
}

// RemoveWatch drops the watch for target. It reports whether one existed.
func (r *Registry) RemoveWatch(serverPath string, target resolver.Target) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.server(serverPath)
	n := len(s.watches)
	s.watches = slices.DeleteFunc(s.watches, func(w Watch) bool { return w.Target.Key() == target.Key() })
	if len(s.watches) == n {
		return false
	}
	r.persist(serverPath, s, true, false, false)
	return true
}

// Watches returns a copy of the active watches of serverPath.
func (r *Registry) Watches(serverPath string) []Watch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.server(serverPath).watches)
}

// History returns the fulfillment history of serverPath, oldest first.
func (r *Registry) History(serverPath string) []FulfillmentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.server(serverPath).history)
}

// Schedule returns the timing state of serverPath.
func (r *Registry) Schedule(serverPath string) Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.server(serverPath).schedule
}

// Servers lists every server that has ever had a watch.
func (r *Registry) Servers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boot()
	return slices.Clone(r.paths)
}

// Interval returns the heavy-check interval.
func (r *Registry) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boot()
	return r.interval
}

// setInterval stores the interval and recomputes every server's next check
// from its last pass, or from now when it was never checked.
func (r *Registry) setInterval(hours int, now time.Time) error {
	if !slices.Contains(AllowedIntervalHours, hours) {
		return errs.Validationf("set interval", "interval must be one of %v hours, got %d", AllowedIntervalHours, hours)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boot()
	r.interval = time.Duration(hours) * time.Hour
	r.stored = true
	r.save(settingsKey, settings{IntervalHours: hours})

	for _, p := range r.paths {
		s := r.server(p)
		base := s.schedule.LastCheckedAt
		if base.IsZero() {
			base = now
		}
		s.schedule.NextCheckAt = base.Add(r.interval)
		r.persist(p, s, false, false, true)
	}
	return nil
}

// seedInterval applies hours only when no interval was stored yet.
func (r *Registry) seedInterval(hours int, now time.Time) error {
	r.mu.Lock()
	r.boot()
	stored := r.stored
	r.mu.Unlock()
	if stored {
		return nil
	}
	return r.setInterval(hours, now)
}

// touch records a pass over one watch that did not fulfil it.
func (r *Registry) touch(serverPath string, target resolver.Target, at time.Time, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.server(serverPath)
	for i := range s.watches {
		if s.watches[i].Target.Key() == target.Key() {
			s.watches[i].LastCheckedAt = at
			s.watches[i].LastError = ""
			if cause != nil {
				s.watches[i].LastError = cause.Error()
			}
		}
	}
	r.persist(serverPath, s, true, false, false)
}

// fulfill moves the watch for rec.Target into history. It reports false if
// the watch was removed concurrently, in which case nothing is recorded.
func (r *Registry) fulfill(serverPath string, rec FulfillmentRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.server(serverPath)
	n := len(s.watches)
	s.watches = slices.DeleteFunc(s.watches, func(w Watch) bool { return w.Target.Key() == rec.Target.Key() })
	if len(s.watches) == n {
		return false
	}
	s.history = append(s.history, rec)
	if over := len(s.history) - MaxHistory; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	r.persist(serverPath, s, true, true, false)
	return true
}

// completePass stamps the end of a heavy check.
func (r *Registry) completePass(serverPath string, at time.Time) Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boot()
	s := r.server(serverPath)
	s.schedule = Schedule{LastCheckedAt: at, NextCheckAt: at.Add(r.interval)}
	r.persist(serverPath, s, false, false, true)
	return s.schedule
}
