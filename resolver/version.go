package resolver

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/blang/semver"
)

// gameTag matches a leading game version tag such as "mc1.20.1-".
var gameTag = regexp.MustCompile(`^[mM][cC](\d+(?:\.\d+)*)[-_+](.+)$`)

// Compare orders two version strings by their numeric major.minor.patch
// core. Missing components count as 0 and pre-release or build suffixes
// are ignored, so "0.15.10-pre" and "0.15.10" compare equal.
// A leading game version tag ("mc1.20.1-0.5.3") is compared first when
// both strings carry one, then the remainder is compared as the version.
// It returns -1, 0 or 1.
func Compare(a, b string) int {
	ta, ra := splitGameTag(a)
	tb, rb := splitGameTag(b)
	if ta != nil && tb != nil {
		if c := compareNumbers(ta, tb); c != 0 {
			return c
		}
	}
	return compareNumbers(core(ra), core(rb))
}

func compareNumbers(ca, cb []uint64) int {
	n := max(len(ca), len(cb))
	for i := 0; i < n; i++ {
		var x, y uint64
		if i < len(ca) {
			x = ca[i]
		}
		if i < len(cb) {
			y = cb[i]
		}
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

// splitGameTag separates a leading game version tag from the mod version.
func splitGameTag(s string) ([]uint64, string) {
	s = strings.TrimSpace(s)
	m := gameTag.FindStringSubmatch(s)
	if m == nil {
		return nil, s
	}
	return leadingNumbers(m[1]), m[2]
}

// IsUpgrade reports whether candidate is strictly newer than installed.
func IsUpgrade(candidate, installed string) bool {
	return Compare(candidate, installed) > 0
}

// core extracts the numeric components of a version string.
func core(s string) []uint64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
	if v, err := semver.ParseTolerant(s); err == nil {
		return []uint64{v.Major, v.Minor, v.Patch}
	}
	return leadingNumbers(s)
}

// leadingNumbers reads dot-separated integers from the first digit run,
// stopping at the first component that is not purely numeric.
// "r5.1-fix" yields [5 1]; "1.2.3.4+build" yields [1 2 3 4].
func leadingNumbers(s string) []uint64 {
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return nil
	}
	s = s[start:]
	end := strings.IndexFunc(s, func(r rune) bool { return !isDigit(r) && r != '.' })
	if end >= 0 {
		s = s[:end]
	}

	var out []uint64
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			break
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
