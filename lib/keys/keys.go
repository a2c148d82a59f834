package keys

import (
	"errors"
	"fmt"
	"strings"
)

// MaxKeyLength is the maximum length (in bytes) of a stored key. A key of this
// length or longer is rejected.
const MaxKeyLength = 512

// ErrKeyTooLong is returned when a key would reach MaxKeyLength. It is fatal for
// the calling write and must not be retried with the same identity.
var ErrKeyTooLong = errors.New("key too long")

const (
	separator    = "/"
	stateJoin    = "."
	timerJoin    = "-"
	substitute   = '_'
	reservedSet  = `/\|`
	upperOfSubst = substitute + 1
)

// KeyTooLongError carries the offending key and its length. It matches
// ErrKeyTooLong with errors.Is.
type KeyTooLongError struct {
	Key    string
	Length int
}

func (e *KeyTooLongError) Error() string {
	return fmt.Sprintf("%v: %d bytes, limit is %d", ErrKeyTooLong, e.Length, MaxKeyLength-1)
}

func (e *KeyTooLongError) Is(target error) bool {
	return target == ErrKeyTooLong
}

// checkLength fails with a *KeyTooLongError if key reaches MaxKeyLength
func checkLength(key string) (string, error) {
	if len(key) >= MaxKeyLength {
		return "", &KeyTooLongError{Key: key, Length: len(key)}
	}
	return key, nil
}

// Sanitize replaces every reserved character ('/', '\', '|') with '_'.
// It fails with ErrKeyTooLong if the result is MaxKeyLength bytes or longer.
func Sanitize(raw string) (string, error) {
	sanitized := strings.Map(func(r rune) rune {
		if strings.ContainsRune(reservedSet, r) {
			return substitute
		}
		return r
	}, raw)
	return checkLength(sanitized)
}

// StateKey builds the key of a state record. The prefix is optional; without
// it the service id becomes the leading segment.
func StateKey(prefix, serviceID, ownerKey, entityType string) (string, error) {
	key := serviceID + stateJoin + ownerKey + stateJoin + entityType
	if prefix != "" {
		key = prefix + separator + key
	}
	return checkLength(key)
}

// TimerKey builds the key of a timer entry:
// "{prefix}/{sanitize(ownerKey + "-" + timerName)}".
func TimerKey(prefix, ownerKey, timerName string) (string, error) {
	name, err := Sanitize(ownerKey + timerJoin + timerName)
	if err != nil {
		return "", err
	}
	return checkLength(prefix + separator + name)
}

// PartitionBounds returns the half-open lexicographic range [lower, upper)
// covering every key that starts with the sanitized service id followed by '_'.
func PartitionBounds(serviceID string) (lower, upper string, err error) {
	id, err := Sanitize(serviceID)
	if err != nil {
		return "", "", err
	}
	lower = id + string(rune(substitute))
	upper = id + string(rune(upperOfSubst))
	if _, err := checkLength(upper); err != nil {
		return "", "", err
	}
	return lower, upper, nil
}
