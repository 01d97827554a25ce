package integrity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"modkeeper/errs"
	"modkeeper/monitor"

	"go.uber.org/zap"
)

// Outcome is the tri-state result of a verification.
type Outcome int

const (
	// Unverifiable means no expected checksum exists anywhere.
	Unverifiable Outcome = iota
	Valid
	Mismatch
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Mismatch:
		return "mismatch"
	default:
		return "unverifiable"
	}
}

// Result describes one verification.
type Result struct {
	FilePath  string
	Outcome   Outcome
	Expected  string
	Actual    string
	Algorithm Algorithm
}

// VerifyOptions supply an expected checksum. Empty fields fall back to the
// stored record. TrackAs files any corruption alert under a different
// path, used when verifying a temporary download.
type VerifyOptions struct {
	Expected  string
	Algorithm Algorithm
	TrackAs   string
	Attempt   int
}

// Verify hashes filePath and compares it with the expected checksum.
// A mismatch is tracked as corruption. A valid result supersedes the
// stored record. I/O errors are returned.
func (v *Verifier) Verify(filePath string, opts VerifyOptions) (Result, error) {
	path := normalize(filePath)
	unlock := v.lock(path)
	defer unlock()

	res := Result{FilePath: path, Expected: strings.ToLower(opts.Expected), Algorithm: opts.Algorithm}
	var metadata map[string]string
	if res.Expected == "" {
		rec, ok := v.lookup(path)
		if !ok {
			res.Outcome = Unverifiable
			return res, nil
		}
		res.Expected = rec.Checksum
		res.Algorithm = rec.Algorithm
		metadata = rec.Metadata
	}
	if res.Algorithm == "" {
		res.Algorithm = DefaultAlgorithm
	}

	actual, _, err := computeChecksum(path, res.Algorithm)
	if err != nil {
		return res, err
	}
	res.Actual = actual

	if !strings.EqualFold(res.Actual, res.Expected) {
		res.Outcome = Mismatch
		trackAs := path
		if opts.TrackAs != "" {
			trackAs = normalize(opts.TrackAs)
		}
		v.TrackCorruption(trackAs, res, opts.Attempt)
		return res, nil
	}

	res.Outcome = Valid
	if opts.TrackAs == "" {
		if metadata == nil {
			if rec, ok := v.lookup(path); ok {
				metadata = rec.Metadata
			}
		}
		if err := v.storeLocked(path, res.Actual, res.Algorithm, metadata); err != nil {
			v.log.Warnw("Failed to refresh checksum record", zap.String("file", path), zap.Error(err))
		}
	}
	return res, nil
}

// Err converts a mismatch result into a MismatchError.
func (r Result) Err() error {
	if r.Outcome != Mismatch {
		return nil
	}
	return &MismatchError{FilePath: r.FilePath, Expected: r.Expected, Actual: r.Actual, Algorithm: r.Algorithm}
}

// TrackCorruption creates or increments the alert for filePath.
func (v *Verifier) TrackCorruption(filePath string, res Result, attempt int) {
	now := v.now()

	v.alertMu.Lock()
	v.loadAlertsLocked()
	alert, ok := v.alerts[filePath]
	if !ok {
		alert = &CorruptionAlert{FilePath: filePath, FirstSeenAt: now}
		v.alerts[filePath] = alert
	}
	alert.Expected = res.Expected
	alert.Actual = res.Actual
	alert.Algorithm = res.Algorithm
	alert.LastSeenAt = now
	alert.AlertCount++
	count := alert.AlertCount
	v.saveAlertsLocked()
	v.alertMu.Unlock()

	v.log.Warnw("Checksum mismatch detected",
		zap.String("file", filePath),
		zap.String("expected", res.Expected),
		zap.String("actual", res.Actual),
		zap.String("algorithm", string(res.Algorithm)),
		zap.Int("alert_count", count),
	)

	if v.recorder != nil {
		if attempt < 1 {
			attempt = count
		}
		v.recorder.Record(monitor.Event{
			Source:  "integrity",
			Type:    "checksum_mismatch",
			Message: (&MismatchError{FilePath: filePath, Expected: res.Expected, Actual: res.Actual, Algorithm: res.Algorithm}).Error(),
			Kind:    errs.KindIntegrity,
			Path:    filePath,
			Attempt: attempt,
		})
	}
}

func (v *Verifier) loadAlertsLocked() {
	if v.loaded {
		return
	}
	v.loaded = true
	var list []CorruptionAlert
	if err := v.store.Load(alertsKey, &list); err != nil {
		return
	}
	for i := range list {
		a := list[i]
		v.alerts[a.FilePath] = &a
	}
}

func (v *Verifier) saveAlertsLocked() {
	if err := v.store.Save(alertsKey, v.alertListLocked()); err != nil {
		v.log.Warnw("Failed to persist corruption alerts", zap.Error(err))
	}
}

func (v *Verifier) alertListLocked() []CorruptionAlert {
	list := make([]CorruptionAlert, 0, len(v.alerts))
	for _, a := range v.alerts {
		list = append(list, *a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].FilePath < list[j].FilePath })
	return list
}

// Alerts returns all open corruption alerts ordered by path.
func (v *Verifier) Alerts() []CorruptionAlert {
	v.alertMu.Lock()
	defer v.alertMu.Unlock()
	v.loadAlertsLocked()
	return v.alertListLocked()
}

// ClearAlert removes the alert for filePath and reports whether one existed.
func (v *Verifier) ClearAlert(filePath string) bool {
	path := normalize(filePath)
	v.alertMu.Lock()
	defer v.alertMu.Unlock()
	v.loadAlertsLocked()
	if _, ok := v.alerts[path]; !ok {
		return false
	}
	delete(v.alerts, path)
	v.saveAlertsLocked()
	return true
}

// ClearAllAlerts removes every alert and returns how many were cleared.
func (v *Verifier) ClearAllAlerts() int {
	v.alertMu.Lock()
	defer v.alertMu.Unlock()
	v.loadAlertsLocked()
	n := len(v.alerts)
	v.alerts = make(map[string]*CorruptionAlert)
	v.saveAlertsLocked()
	return n
}

// FileResult is one entry of a batch verification.
type FileResult struct {
	Result
	Err error
}

// BatchResult summarizes a batch verification.
type BatchResult struct {
	Total        int
	Valid        int
	Invalid      int
	Unverifiable int
	Errors       int
	Files        []FileResult
}

// Progress is reported after each file of a batch.
type Progress struct {
	Done   int
	Total  int
	Result FileResult
}

// BatchVerify verifies files one at a time against their stored records.
// Per-file I/O errors are collected rather than aborting the batch.
func (v *Verifier) BatchVerify(ctx context.Context, filePaths []string, onProgress func(Progress)) (BatchResult, error) {
	out := BatchResult{Total: len(filePaths), Files: make([]FileResult, 0, len(filePaths))}
	for i, p := range filePaths {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("batch verification interrupted after %d of %d files: %w", i, len(filePaths), err)
		}

		res, err := v.Verify(p, VerifyOptions{})
		fr := FileResult{Result: res, Err: err}
		switch {
		case err != nil:
			out.Errors++
		case res.Outcome == Valid:
			out.Valid++
		case res.Outcome == Mismatch:
			out.Invalid++
		default:
			out.Unverifiable++
		}
		out.Files = append(out.Files, fr)
		if onProgress != nil {
			onProgress(Progress{Done: i + 1, Total: len(filePaths), Result: fr})
		}
	}
	return out, nil
}
