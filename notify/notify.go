// Package notify delivers fulfillment events: a watched mod has a
// compatible version available.
package notify

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"modkeeper/resolver"
	"modkeeper/ui"

	"go.uber.org/zap"
)

// Fulfillment is the event emitted when a watch is satisfied.
type Fulfillment struct {
	ServerPath   string          `json:"server_path"`
	ProjectID    string          `json:"project_id"`
	ModName      string          `json:"mod_name"`
	Target       resolver.Target `json:"target"`
	VersionID    string          `json:"version_id"`
	VersionFound string          `json:"version_found"`
	FoundAt      time.Time       `json:"found_at"`
}

// Sink receives fulfillment events.
type Sink interface {
	Notify(f Fulfillment) error
}

// Func adapts a function to a Sink.
type Func func(Fulfillment) error

func (fn Func) Notify(f Fulfillment) error { return fn(f) }

// LogSink writes events to a zap logger.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink(log *zap.SugaredLogger) *LogSink {
	return &LogSink{log: log.Named("notify")}
}

func (s *LogSink) Notify(f Fulfillment) error {
	s.log.Infow("Compatible version available",
		zap.String("project_id", f.ProjectID),
		zap.String("mod", f.ModName),
		zap.String("version", f.VersionFound),
		zap.String("loader", f.Target.Loader),
		zap.String("game_version", f.Target.GameVersion),
		zap.String("server", f.ServerPath),
	)
	return nil
}

// ConsoleSink prints a styled one-line toast.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Notify(f Fulfillment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, ui.Toast(
		fmt.Sprintf("%s %s is now available for %s %s", f.ModName, f.VersionFound, f.Target.Loader, f.Target.GameVersion),
	))
	return err
}

// Multi fans an event out to every sink. One failing sink does not stop the others.
type Multi []Sink

func (m Multi) Notify(f Fulfillment) error {
	var errList []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(f); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
