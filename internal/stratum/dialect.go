package stratum

import "regexp"

// Dialect is the Stratum variant a session speaks, latched at subscribe
// time per the protocol state machine (§4.C.2).
type Dialect int

const (
	DialectStandard Dialect = iota
	DialectBitmain
)

// bitmainUserAgent matches the dialect-detection regex from §4.C.2,
// grounded on the teacher's HardwareClassifier
// (internal/stratum/difficulty/vardiff.go) string-matching idiom against
// known ASIC firmware identifiers.
var bitmainUserAgent = regexp.MustCompile(`(?i)GodMiner|Bitmain|Antminer`)

// DetectDialect classifies a subscribe request's user-agent string.
func DetectDialect(userAgent string) Dialect {
	if bitmainUserAgent.MatchString(userAgent) {
		return DialectBitmain
	}
	return DialectStandard
}

// hardwareSeed maps a recognized user-agent family to a starting
// difficulty, seeding the vardiff controller before its first real
// adjustment. This is a supplemented feature (see SPEC_FULL.md §7),
// additive to the mandatory vardiff formulas of §4.C.5.
var hardwareSeed = []struct {
	pattern *regexp.Regexp
	difficulty float64
}{
	{regexp.MustCompile(`(?i)IceRiver`), 4096},
	{regexp.MustCompile(`(?i)Antminer|Bitmain`), 16384},
	{regexp.MustCompile(`(?i)GodMiner`), 8192},
	{regexp.MustCompile(`(?i)Goldshell`), 2048},
}

// SeedDifficulty returns a classification-based starting difficulty for a
// known hardware family, or ok=false if the user-agent doesn't match any
// known family (callers should fall back to the pool-wide default).
func SeedDifficulty(userAgent string) (difficulty float64, ok bool) {
	for _, s := range hardwareSeed {
		if s.pattern.MatchString(userAgent) {
			return s.difficulty, true
		}
	}
	return 0, false
}
