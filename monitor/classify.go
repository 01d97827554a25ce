package monitor

import (
	"net/http"
	"strings"

	"modkeeper/errs"
)

// Category groups failures by likely cause.
type Category string

const (
	CategoryIntegrity    Category = "integrity"
	CategoryTimeout      Category = "timeout"
	CategoryConnectivity Category = "connectivity"
	CategoryServerError  Category = "server_error"
	CategoryNotFound     Category = "not_found"
	CategoryAuth         Category = "auth"
	CategoryFilesystem   Category = "filesystem"
	CategoryUnknown      Category = "unknown"
)

// Severity ranks how urgently a failure needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Categorize assigns a category from the event's kind, status code and message.
func Categorize(ev Event) Category {
	msg := strings.ToLower(ev.Message)
	switch {
	case ev.Kind == errs.KindIntegrity || containsAny(msg, "checksum", "hash mismatch", "integrity"):
		return CategoryIntegrity
	case ev.Kind == errs.KindFilesystem || containsAny(msg, "permission denied", "no space left", "read-only file system", "disk quota", "no such file"):
		return CategoryFilesystem
	case containsAny(msg, "timeout", "deadline exceeded", "timed out"):
		return CategoryTimeout
	case ev.StatusCode == http.StatusUnauthorized || ev.StatusCode == http.StatusForbidden || containsAny(msg, "unauthorized", "forbidden", "authentication"):
		return CategoryAuth
	case ev.StatusCode == http.StatusNotFound || ev.Kind == errs.KindNotFound || containsAny(msg, "not found", "404"):
		return CategoryNotFound
	case ev.StatusCode >= 500 || containsAny(msg, "internal server error", "bad gateway", "service unavailable"):
		return CategoryServerError
	case ev.Kind == errs.KindTransient || containsAny(msg, "connection refused", "connection reset", "no such host", "network is unreachable", "dial tcp", "eof"):
		return CategoryConnectivity
	}
	return CategoryUnknown
}

// SeverityFor derives severity from category and retry attempt.
// Filesystem failures are always critical; integrity failures escalate
// after the second attempt.
func SeverityFor(cat Category, attempt int) Severity {
	switch cat {
	case CategoryFilesystem:
		return SeverityCritical
	case CategoryIntegrity:
		if attempt > 2 {
			return SeverityHigh
		}
		return SeverityMedium
	case CategoryAuth:
		return SeverityHigh
	case CategoryTimeout, CategoryConnectivity, CategoryServerError:
		return SeverityMedium
	}
	return SeverityLow
}
