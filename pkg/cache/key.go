package cache

import (
	"strings"
)

// KeyPrefix namespaces every snapshot key.
const KeyPrefix = "market:snapshot"

// Part selects one of the two keys kept per source.
type Part string

const (
	// PartData holds the JSON Entry.
	PartData Part = "data"

	// PartMeta holds the meta hash.
	PartMeta Part = "meta"
)

// Key identifies one stored part of a source's snapshot.
type Key struct {
	// Source is the polled source name (e.g., "bazaar").
	Source string

	Part Part
}

// String generates a deterministic key string.
// Format: market:snapshot:<source>:<part>
//
// Example:
//
//	market:snapshot:auctions:meta
func (k Key) String() string {
	source := strings.ToLower(strings.TrimSpace(k.Source))
	source = strings.ReplaceAll(source, ":", "_")
	if source == "" {
		source = "_"
	}

	part := k.Part
	if part == "" {
		part = PartData
	}

	return KeyPrefix + ":" + source + ":" + string(part)
}

// DataKey returns the data key of source.
func DataKey(source string) Key {
	return Key{Source: source, Part: PartData}
}

// MetaKey returns the meta key of source.
func MetaKey(source string) Key {
	return Key{Source: source, Part: PartMeta}
}
