// Package commitid derives commit identifiers.
//
// A commit ID is a fixed-width counter over the four symbols 0, 6, 1 and C.
// Each position advances 0 -> 6 -> 1 -> C and wraps from C back to 0 with a
// carry into the position on its left. The all-zero value is the sentinel
// meaning "no commit yet". IDs double as directory names, so the alphabet
// must stay filesystem-safe.
package commitid

import (
	"errors"
	"fmt"
	"strings"
)

// Size is the number of symbols in a commit ID.
const Size = 40

// Alphabet lists the symbols in successor order.
const Alphabet = "061C"

var (
	// ErrCounterExhausted is returned by Next when every position is C.
	ErrCounterExhausted = errors.New("commit id counter exhausted")
	// ErrInvalidID is returned for IDs with the wrong length or symbols.
	ErrInvalidID = errors.New("invalid commit id")
)

// ID is a commit identifier.
type ID string

// Sentinel is the reserved root-of-time ID.
var Sentinel = ID(strings.Repeat("0", Size))

// IsSentinel reports whether id is the all-zero value of its width.
func (id ID) IsSentinel() bool {
	return len(id) > 0 && strings.Trim(string(id), "0") == ""
}

func (id ID) String() string {
	return string(id)
}

// Short returns the last 12 symbols, which is where successive IDs differ.
func (id ID) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[len(id)-12:])
}

// Parse validates s as a full-width commit ID. Surrounding whitespace, such
// as a trailing newline in a record file, is ignored.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if len(s) != Size {
		return "", fmt.Errorf("%w: %q has %d symbols, want %d", ErrInvalidID, s, len(s), Size)
	}
	if i := strings.IndexFunc(s, func(r rune) bool { return !strings.ContainsRune(Alphabet, r) }); i >= 0 {
		return "", fmt.Errorf("%w: %q has symbol %q at position %d", ErrInvalidID, s, s[i], i)
	}
	return ID(s), nil
}

// successor maps each symbol to the next one and reports whether the
// position wrapped.
func successor(c byte) (next byte, carry bool, ok bool) {
	switch c {
	case '0':
		return '6', false, true
	case '6':
		return '1', false, true
	case '1':
		return 'C', false, true
	case 'C':
		return '0', true, true
	}
	return 0, false, false
}

// Next returns the ID that follows prev. It works on any width so that
// callers can use narrower counters; prev itself is never modified.
func Next(prev ID) (ID, error) {
	if len(prev) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}

	buf := []byte(prev)
	for i := len(buf) - 1; i >= 0; i-- {
		next, carry, ok := successor(buf[i])
		if !ok {
			return "", fmt.Errorf("%w: %q has symbol %q at position %d", ErrInvalidID, prev, buf[i], i)
		}
		buf[i] = next
		if !carry {
			return ID(buf), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrCounterExhausted, prev)
}
