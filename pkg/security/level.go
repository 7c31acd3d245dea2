// Package security defines the clearance ordering consulted by the cycle
// runner, the artifact pipeline, and the suite orchestrator whenever data
// crosses a trust boundary between a producer and a consumer.
package security

import "strings"

// Level is a normalized security classification. The zero value Unknown is
// treated as "no clearance declared" and never restricts access.
type Level string

const (
	Unknown           Level = ""
	Unofficial        Level = "unofficial"
	Official          Level = "official"
	OfficialSensitive Level = "official-sensitive"
	Secret            Level = "secret"
	TopSecret         Level = "top-secret"
)

// rank orders levels from least to most sensitive, exactly the list order
// given in spec.md §6. Anything not present here (an unrecognized string)
// is treated as TopSecret, the safest default when clearance cannot be
// determined.
var rank = map[Level]int{
	Unknown:           0,
	Unofficial:        1,
	Official:          2,
	OfficialSensitive: 3,
	Secret:            4,
	TopSecret:         5,
}

// Normalize lower-cases and trims a raw level string, returning Unknown for
// empty input.
func Normalize(raw string) Level {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return Unknown
	}
	return Level(raw)
}

func rankOf(l Level) int {
	if r, ok := rank[l]; ok {
		return r
	}
	return rank[TopSecret]
}

// Allowed reports whether data classified at producerLevel may be handed to
// a consumer cleared at consumerLevel: the consumer's clearance must be at
// least as high as the data's sensitivity.
func Allowed(producerLevel, consumerLevel Level) bool {
	return rankOf(consumerLevel) >= rankOf(producerLevel)
}

// Resolve picks the effective security level for a cycle as the greater
// (more sensitive) of a statically-configured level and one discovered
// from the data source itself (e.g. a CSV attribute), per spec.md §4.3
// step 10.
func Resolve(configured, fromSource Level) Level {
	if rankOf(fromSource) > rankOf(configured) {
		return fromSource
	}
	return configured
}

// Max returns the more sensitive (higher-ranked) of two levels — used to
// resolve a cycle's effective level across cycle / pack / defaults tiers.
func Max(a, b Level) Level {
	if rankOf(b) > rankOf(a) {
		return b
	}
	return a
}
