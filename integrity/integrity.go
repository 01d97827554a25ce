// Package integrity computes, records and verifies artifact checksums and
// keeps a running tally of corruption incidents per file.
package integrity

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modkeeper/errs"
	"modkeeper/monitor"
	"modkeeper/store"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// chunkSize bounds memory use while hashing; artifacts can be hundreds of MB.
const chunkSize = 64 * 1024

const alertsKey = "integrity/alerts.json"

// Algorithm names a supported hash function.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	MD5    Algorithm = "md5"
)

// DefaultAlgorithm is used when neither the caller nor a stored record names one.
const DefaultAlgorithm = SHA1

// ParseAlgorithm normalizes an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.ReplaceAll(name, "-", ""))); a {
	case SHA1, SHA256, SHA512, MD5:
		return a, nil
	}
	return "", errs.Validationf("parse algorithm", "unsupported hash algorithm %q", name)
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case MD5:
		return md5.New(), nil
	}
	return nil, errs.Validationf("hash", "unsupported hash algorithm %q", string(a))
}

// Record is the last computed checksum of a file.
type Record struct {
	FilePath  string            `json:"file_path"`
	Checksum  string            `json:"checksum"`
	Algorithm Algorithm         `json:"algorithm"`
	FileSize  int64             `json:"file_size"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CorruptionAlert accumulates mismatches for one path until cleared.
type CorruptionAlert struct {
	FilePath    string    `json:"file_path"`
	Expected    string    `json:"expected"`
	Actual      string    `json:"actual"`
	Algorithm   Algorithm `json:"algorithm"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	AlertCount  int       `json:"alert_count"`
}

// MismatchError reports bytes that do not match the expected checksum.
type MismatchError struct {
	FilePath  string
	Expected  string
	Actual    string
	Algorithm Algorithm
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s (%s): expected %s, got %s", e.FilePath, e.Algorithm, e.Expected, e.Actual)
}

// Is makes errs.IsIntegrity match a bare MismatchError.
func (e *MismatchError) Is(target error) bool { return target == errs.ErrIntegrity }

// Verifier computes and checks checksums. Records are cached in memory
// and persisted as sidecar documents in the store.
type Verifier struct {
	store    store.Store
	recorder monitor.Recorder
	log      *zap.SugaredLogger
	cache    *cache.Cache
	now      func() time.Time

	locks sync.Map // path -> *sync.Mutex

	alertMu sync.Mutex
	alerts  map[string]*CorruptionAlert
	loaded  bool
}

// New returns a Verifier persisting into st. recorder may be nil.
func New(st store.Store, recorder monitor.Recorder, log *zap.SugaredLogger) *Verifier {
	return &Verifier{
		store:    st,
		recorder: recorder,
		log:      log.Named("integrity"),
		cache:    cache.New(cache.NoExpiration, 0),
		now:      time.Now,
		alerts:   make(map[string]*CorruptionAlert),
	}
}

func (v *Verifier) lock(path string) func() {
	m, _ := v.locks.LoadOrStore(path, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// sidecarKey derives a store key from the file path.
func sidecarKey(path string) string {
	sum := sha1.Sum([]byte(path))
	return "integrity/records/" + hex.EncodeToString(sum[:]) + ".json"
}

// ComputeChecksum streams the file through the algorithm in fixed-size chunks.
func (v *Verifier) ComputeChecksum(filePath string, algorithm Algorithm) (string, error) {
	sum, _, err := computeChecksum(filePath, algorithm)
	return sum, err
}

func computeChecksum(filePath string, algorithm Algorithm) (string, int64, error) {
	h, err := algorithm.newHash()
	if err != nil {
		return "", 0, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return "", 0, errs.E(errs.KindFilesystem, "open "+filePath, err)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	n, err := io.CopyBuffer(h, onlyReader{f}, buf)
	if err != nil {
		return "", 0, errs.E(errs.KindFilesystem, "read "+filePath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// onlyReader hides *os.File's WriterTo so CopyBuffer uses our buffer.
type onlyReader struct{ io.Reader }

// StoreChecksum upserts the record for filePath in the cache and the store.
func (v *Verifier) StoreChecksum(filePath, checksum string, algorithm Algorithm, metadata map[string]string) error {
	path := normalize(filePath)
	unlock := v.lock(path)
	defer unlock()
	return v.storeLocked(path, checksum, algorithm, metadata)
}

func (v *Verifier) storeLocked(path, checksum string, algorithm Algorithm, metadata map[string]string) error {
	rec := Record{
		FilePath:  path,
		Checksum:  strings.ToLower(checksum),
		Algorithm: algorithm,
		Timestamp: v.now(),
		Metadata:  metadata,
	}
	if info, err := os.Stat(path); err == nil {
		rec.FileSize = info.Size()
	}
	v.cache.Set(path, rec, cache.NoExpiration)
	if err := v.store.Save(sidecarKey(path), rec); err != nil {
		return fmt.Errorf("failed to persist checksum for '%s': %w", path, err)
	}
	return nil
}

// Lookup returns the stored record for filePath, if any.
func (v *Verifier) Lookup(filePath string) (Record, bool) {
	return v.lookup(normalize(filePath))
}

func (v *Verifier) lookup(path string) (Record, bool) {
	if cached, ok := v.cache.Get(path); ok {
		return cached.(Record), true
	}
	var rec Record
	if err := v.store.Load(sidecarKey(path), &rec); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			v.log.Warnw("Failed to load checksum record", zap.String("file", path), zap.Error(err))
		}
		return Record{}, false
	}
	v.cache.Set(path, rec, cache.NoExpiration)
	return rec, true
}

// Moved carries the record and any open alert of from over to to, after
// the file was renamed.
func (v *Verifier) Moved(from, to string) {
	src, dst := normalize(from), normalize(to)
	if src == dst {
		return
	}
	first, second := src, dst
	if second < first {
		first, second = second, first
	}
	unlockFirst := v.lock(first)
	defer unlockFirst()
	unlockSecond := v.lock(second)
	defer unlockSecond()

	if rec, ok := v.lookup(src); ok {
		rec.FilePath = dst
		v.cache.Set(dst, rec, cache.NoExpiration)
		if err := v.store.Save(sidecarKey(dst), rec); err != nil {
			v.log.Warnw("Failed to persist moved checksum", zap.String("file", dst), zap.Error(err))
		}
		v.cache.Delete(src)
		if err := v.store.Delete(sidecarKey(src)); err != nil {
			v.log.Warnw("Failed to delete checksum record", zap.String("file", src), zap.Error(err))
		}
	}

	v.alertMu.Lock()
	defer v.alertMu.Unlock()
	v.loadAlertsLocked()
	if alert, ok := v.alerts[src]; ok {
		delete(v.alerts, src)
		alert.FilePath = dst
		v.alerts[dst] = alert
		v.saveAlertsLocked()
	}
}

// Forget drops the record for filePath, e.g. after the file was removed.
func (v *Verifier) Forget(filePath string) {
	path := normalize(filePath)
	unlock := v.lock(path)
	defer unlock()
	v.cache.Delete(path)
	if err := v.store.Delete(sidecarKey(path)); err != nil {
		v.log.Warnw("Failed to delete checksum record", zap.String("file", path), zap.Error(err))
	}
}
