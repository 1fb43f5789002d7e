// Package detect classifies a fetch as changed or unchanged.
//
// The decision depends only on the comparison markers: the marker of the last
// accepted fetch and the marker of the new one. For Hypixel the marker is the
// lastUpdated value embedded in the payload; for sources without one, a
// Fingerprint of the body serves instead.
//
// The marker is the sole source of truth. Two fetches with equal markers are
// NO_CHANGE even if their bodies differ, so a source whose marker lags its
// content is reported late rather than twice.
package detect

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Outcome is the result of a comparison.
type Outcome int

const (
	NoChange Outcome = iota
	Changed
)

func (o Outcome) String() string {
	if o == Changed {
		return "CHANGED"
	}
	return "NO_CHANGE"
}

// Decision is a classified fetch with the markers that produced it.
type Decision struct {
	Outcome  Outcome
	Previous string
	Current  string
}

// Changed reports whether the decision is CHANGED.
func (d Decision) Changed() bool {
	return d.Outcome == Changed
}

// Compare returns CHANGED if current differs from previous. An empty current
// marker carries no information and is NO_CHANGE.
func Compare(previous, current string) Decision {
	d := Decision{Outcome: NoChange, Previous: previous, Current: current}
	if current != "" && current != previous {
		d.Outcome = Changed
	}
	return d
}

// Fingerprint returns a stable marker for a payload body.
func Fingerprint(body []byte) string {
	return strconv.FormatUint(xxhash.Sum64(body), 16)
}

// TimestampMarker renders an upstream last-updated value (epoch millis) as a
// marker. Zero is treated as missing.
func TimestampMarker(epochMillis int64) string {
	if epochMillis <= 0 {
		return ""
	}
	return strconv.FormatInt(epochMillis, 10)
}
