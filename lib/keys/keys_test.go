package keys

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{name: "plain", raw: "grain-42", expected: "grain-42"},
		{name: "slash", raw: "a/b", expected: "a_b"},
		{name: "backslash", raw: `a\b`, expected: "a_b"},
		{name: "pipe", raw: "a|b", expected: "a_b"},
		{name: "all reserved", raw: `/\|`, expected: "___"},
		{name: "unicode kept", raw: "grüße/welt", expected: "grüße_welt"},
		{name: "empty", raw: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.raw)
			if err != nil {
				t.Fatalf("Sanitize(%q) returned error: %v", tt.raw, err)
			}
			if got != tt.expected {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestSanitizeLengthLimit(t *testing.T) {
	if _, err := Sanitize(strings.Repeat("a", MaxKeyLength-1)); err != nil {
		t.Errorf("key of %d bytes should be accepted, got %v", MaxKeyLength-1, err)
	}

	_, err := Sanitize(strings.Repeat("a", MaxKeyLength))
	if !errors.Is(err, ErrKeyTooLong) {
		t.Fatalf("expected ErrKeyTooLong, got %v", err)
	}

	var tooLong *KeyTooLongError
	if !errors.As(err, &tooLong) || tooLong.Length != MaxKeyLength {
		t.Errorf("expected *KeyTooLongError with length %d, got %v", MaxKeyLength, err)
	}
}

func TestStateKey(t *testing.T) {
	key, err := StateKey("State", "svc", "user/1", "Profile")
	if err != nil {
		t.Fatal(err)
	}
	if key != "State/svc.user/1.Profile" {
		t.Errorf("unexpected state key %q", key)
	}

	key, err = StateKey("", "svc", "user-1", "Profile")
	if err != nil {
		t.Fatal(err)
	}
	if key != "svc.user-1.Profile" {
		t.Errorf("unexpected state key without prefix %q", key)
	}

	if _, err := StateKey("State", "svc", strings.Repeat("x", MaxKeyLength), "T"); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("expected ErrKeyTooLong for oversized owner, got %v", err)
	}
}

func TestTimerKey(t *testing.T) {
	key, err := TimerKey("Timers", "owner/1", "tick|fast")
	if err != nil {
		t.Fatal(err)
	}
	if key != "Timers/owner_1-tick_fast" {
		t.Errorf("unexpected timer key %q", key)
	}

	// distinct (owner, name) pairs must not collide unless they sanitize equally
	a, _ := TimerKey("Timers", "o1", "t1")
	b, _ := TimerKey("Timers", "o1", "t2")
	if a == b {
		t.Errorf("keys for different timers collide: %q", a)
	}

	// the prefix counts towards the limit
	long := strings.Repeat("o", MaxKeyLength-10)
	if _, err := TimerKey("Timers", long, "name"); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("expected ErrKeyTooLong, got %v", err)
	}
}

func TestPartitionBounds(t *testing.T) {
	lower, upper, err := PartitionBounds("svc/a")
	if err != nil {
		t.Fatal(err)
	}
	if lower != "svc_a_" || upper != "svc_a`" {
		t.Errorf("unexpected bounds [%q, %q)", lower, upper)
	}

	inside := lower + "anything"
	if !(inside >= lower && inside < upper) {
		t.Errorf("%q should be inside [%q, %q)", inside, lower, upper)
	}
	outside := "svc_b_x"
	if outside >= lower && outside < upper {
		t.Errorf("%q should be outside [%q, %q)", outside, lower, upper)
	}
}
