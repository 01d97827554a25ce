// Package fetcher streams remote artifacts to disk and verifies them
// before they replace anything at the final path.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modkeeper/errs"
	"modkeeper/integrity"
	"modkeeper/monitor"

	"go.uber.org/zap"
)

// DefaultTimeout is the hard ceiling on a single download.
const DefaultTimeout = 60 * time.Second

// Downloader opens a remote artifact body.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Expected is the published checksum of an artifact.
type Expected struct {
	Checksum  string
	Algorithm integrity.Algorithm
}

// Fetcher downloads artifacts under supervision of an integrity.Verifier.
type Fetcher struct {
	downloader Downloader
	verifier   *integrity.Verifier
	recorder   monitor.Recorder
	log        *zap.SugaredLogger
	timeout    time.Duration
}

// New returns a Fetcher. A zero timeout selects DefaultTimeout; recorder may be nil.
func New(d Downloader, v *integrity.Verifier, recorder monitor.Recorder, log *zap.SugaredLogger, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{downloader: d, verifier: v, recorder: recorder, log: log.Named("fetcher"), timeout: timeout}
}

func validateName(fileName string) error {
	if fileName == "" || fileName == "." || fileName == ".." ||
		strings.ContainsAny(fileName, `/\`) || filepath.Base(fileName) != fileName {
		return errs.Validationf("fetch", "invalid file name %q", fileName)
	}
	return nil
}

// Fetch downloads url into destDir/fileName and returns the final path.
// The body is written to a temporary file in destDir, verified against
// expected when given, then renamed over the final path. On any failure
// the temporary file is removed and the final path is left untouched.
// Retrying is the caller's responsibility.
func (f *Fetcher) Fetch(ctx context.Context, url, destDir, fileName string, expected *Expected) (string, error) {
	if url == "" {
		return "", errs.Validationf("fetch", "download url is required")
	}
	if err := validateName(fileName); err != nil {
		return "", err
	}
	log := f.log.With(zap.String("file", fileName))

	finalPath := filepath.Join(destDir, fileName)
	path, err := f.fetch(ctx, log, url, destDir, finalPath, expected)
	if err != nil {
		if !errs.IsIntegrity(err) && !errors.Is(err, context.Canceled) {
			f.record(err, finalPath)
		}
		log.Errorw("Download failed", zap.String("url", url), zap.Error(err))
		return "", err
	}
	log.Infow("Downloaded artifact", zap.String("path", path))
	return path, nil
}

func (f *Fetcher) fetch(ctx context.Context, log *zap.SugaredLogger, url, destDir, finalPath string, expected *Expected) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", errs.E(errs.KindFilesystem, "create "+destDir, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.downloader.Download(ctx, url)
	if err != nil {
		return "", timeoutAware(ctx, "download", err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(destDir, "."+filepath.Base(finalPath)+".*.part")
	if err != nil {
		return "", errs.E(errs.KindFilesystem, "create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(writerOnly{tmp}, body)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = &writeError{cerr}
	}
	if err != nil {
		var werr *writeError
		if errors.As(err, &werr) {
			return "", errs.E(errs.KindFilesystem, "write "+tmpName, werr.err)
		}
		return "", timeoutAware(ctx, "download body", err)
	}
	log.Debugw("Wrote download", zap.Int64("bytes", n))

	if expected != nil && expected.Checksum != "" {
		res, err := f.verifier.Verify(tmpName, integrity.VerifyOptions{
			Expected:  expected.Checksum,
			Algorithm: expected.Algorithm,
			TrackAs:   finalPath,
		})
		if err != nil {
			return "", err
		}
		if res.Outcome == integrity.Mismatch {
			mismatch := res.Err().(*integrity.MismatchError)
			mismatch.FilePath = finalPath
			return "", errs.E(errs.KindIntegrity, "verify "+finalPath, mismatch)
		}
	}

	if err := os.Rename(tmpName, finalPath); err != nil {
		return "", errs.E(errs.KindFilesystem, "replace "+finalPath, err)
	}
	committed = true

	if expected != nil && expected.Checksum != "" {
		if err := f.verifier.StoreChecksum(finalPath, expected.Checksum, expected.Algorithm, map[string]string{"url": url}); err != nil {
			log.Warnw("Failed to record checksum", zap.Error(err))
		}
	}
	return finalPath, nil
}

func (f *Fetcher) record(err error, path string) {
	if f.recorder == nil {
		return
	}
	ev := monitor.FromError("fetcher", "download_failure", err, 1)
	switch {
	case strings.Contains(ev.Message, "timeout"):
		ev.Type = "network_timeout"
	case ev.StatusCode != 0:
		ev.Type = "http_status"
	}
	ev.Path = path
	f.recorder.Record(ev)
}

// timeoutAware classifies a failed transfer, naming the timeout when the deadline fired.
func timeoutAware(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.E(errs.KindTransient, op, fmt.Errorf("timeout: %w", err))
	}
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errs.E(errs.KindTransient, op, err)
}

// writeError marks failures on the local side of a copy.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// writerOnly tags write failures and hides *os.File's ReaderFrom.
type writerOnly struct{ f *os.File }

func (w writerOnly) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &writeError{err}
	}
	return n, nil
}
