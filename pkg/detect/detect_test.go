package detect

import (
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		previous string
		current  string
		expected Outcome
	}{
		{"first fetch", "", "1700000000000", Changed},
		{"same marker", "1700000000000", "1700000000000", NoChange},
		{"new marker", "1700000000000", "1700000060000", Changed},
		{"older marker still differs", "1700000060000", "1700000000000", Changed},
		{"empty current", "1700000000000", "", NoChange},
		{"both empty", "", "", NoChange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compare(tt.previous, tt.current)
			if d.Outcome != tt.expected {
				t.Errorf("Compare(%q, %q) = %v, want %v", tt.previous, tt.current, d.Outcome, tt.expected)
			}
			if d.Previous != tt.previous || d.Current != tt.current {
				t.Errorf("Decision markers = (%q, %q), want (%q, %q)", d.Previous, d.Current, tt.previous, tt.current)
			}
			if d.Changed() != (tt.expected == Changed) {
				t.Errorf("Changed() = %v", d.Changed())
			}
		})
	}
}

func TestCompare_MarkerIsSoleSourceOfTruth(t *testing.T) {
	// Different bodies that report the same lastUpdated are unchanged.
	a := Compare(TimestampMarker(42), TimestampMarker(42))
	if a.Changed() {
		t.Error("equal markers must be NO_CHANGE regardless of payload")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`{"products":{}}`))
	b := Fingerprint([]byte(`{"products":{}}`))
	c := Fingerprint([]byte(`{"products":{"INK_SACK:3":{}}}`))

	if a == "" {
		t.Fatal("Fingerprint() returned empty marker")
	}
	if a != b {
		t.Errorf("Fingerprint not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different bodies produced the same fingerprint")
	}
	if Fingerprint(nil) == "" {
		t.Error("empty body should still produce a marker")
	}
}

func TestTimestampMarker(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, ""},
		{-1, ""},
		{1700000000000, "1700000000000"},
	}
	for _, tt := range tests {
		if got := TimestampMarker(tt.in); got != tt.want {
			t.Errorf("TimestampMarker(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	if Changed.String() != "CHANGED" || NoChange.String() != "NO_CHANGE" {
		t.Errorf("unexpected strings: %s, %s", Changed, NoChange)
	}
}
