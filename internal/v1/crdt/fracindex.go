package crdt

import (
	"errors"
	"fmt"
)

// Fractional indexing for LiveList positions.
//
// A position is a non-empty string over the base62 alphabet below,
// ordered lexicographically. Conceptually each key names a fraction in
// (0, 1): "V" is roughly the middle, "8" is near the bottom, "w" near
// the top. Inserting between two keys produces a key strictly between
// them without renumbering any peer, so concurrent inserts at the same
// anchor interleave deterministically by string order.
//
// Invariant: keys never end in '0' (the smallest digit). A trailing '0'
// would make the key equal to its own prefix under fractional
// interpretation and break midpoint generation.

const keyDigits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var (
	// ErrKeyOrder is returned when the lower bound is not strictly less
	// than the upper bound.
	ErrKeyOrder = errors.New("crdt: lower key must be strictly less than upper key")

	// ErrKeyFormat is returned for keys outside the base62 alphabet or
	// with a trailing '0'.
	ErrKeyFormat = errors.New("crdt: malformed position key")
)

func digitIndex(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'A' && ch <= 'Z':
		return int(ch-'A') + 10
	case ch >= 'a' && ch <= 'z':
		return int(ch-'a') + 36
	default:
		return -1
	}
}

func validateKey(key string) error {
	if key == "" {
		return ErrKeyFormat
	}
	for i := 0; i < len(key); i++ {
		if digitIndex(key[i]) < 0 {
			return fmt.Errorf("%w: %q", ErrKeyFormat, key)
		}
	}
	if key[len(key)-1] == '0' {
		return fmt.Errorf("%w: trailing zero in %q", ErrKeyFormat, key)
	}
	return nil
}

// KeyBetween returns a key strictly between a and b. An empty a means
// unbounded below; an empty b means unbounded above. With both empty it
// returns the fixed bootstrap key "V". The result never equals either
// endpoint.
func KeyBetween(a, b string) (string, error) {
	if a != "" {
		if err := validateKey(a); err != nil {
			return "", err
		}
	}
	if b != "" {
		if err := validateKey(b); err != nil {
			return "", err
		}
	}
	if a != "" && b != "" && a >= b {
		return "", fmt.Errorf("%w: %q >= %q", ErrKeyOrder, a, b)
	}
	return midpoint(a, b), nil
}

// midpoint returns a string strictly between a and b, where "" stands
// for the open lower/upper bound. Preconditions: a < b when both are
// set, and neither ends in '0'.
func midpoint(a, b string) string {
	if b != "" {
		// Strip the longest common prefix, padding a with virtual '0's.
		n := 0
		for n < len(b) {
			ca := byte('0')
			if n < len(a) {
				ca = a[n]
			}
			if ca != b[n] {
				break
			}
			n++
		}
		if n > 0 {
			aRest := ""
			if n < len(a) {
				aRest = a[n:]
			}
			return b[:n] + midpoint(aRest, b[n:])
		}
	}

	digitA := 0
	if a != "" {
		digitA = digitIndex(a[0])
	}
	digitB := len(keyDigits)
	if b != "" {
		digitB = digitIndex(b[0])
	}

	if digitB-digitA > 1 {
		// Round to the middle digit; always strictly between the bounds.
		mid := (digitA + digitB + 1) / 2
		return string(keyDigits[mid])
	}

	// The first digits are consecutive.
	if len(b) > 1 {
		return b[:1]
	}
	// b is unbounded or a single digit: recurse under a's first digit.
	rest := ""
	if len(a) > 1 {
		rest = a[1:]
	}
	return string(keyDigits[digitA]) + midpoint(rest, "")
}

// NKeysBetween returns n strictly increasing keys between a and b
// (same bound conventions as KeyBetween).
func NKeysBetween(a, b string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if n == 1 {
		k, err := KeyBetween(a, b)
		if err != nil {
			return nil, err
		}
		return []string{k}, nil
	}
	if b == "" {
		// Walk upward from a.
		keys := make([]string, 0, n)
		cur := a
		for i := 0; i < n; i++ {
			k, err := KeyBetween(cur, "")
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			cur = k
		}
		return keys, nil
	}
	if a == "" {
		// Walk downward from b, then reverse.
		keys := make([]string, n)
		cur := b
		for i := n - 1; i >= 0; i-- {
			k, err := KeyBetween("", cur)
			if err != nil {
				return nil, err
			}
			keys[i] = k
			cur = k
		}
		return keys, nil
	}
	// Split around a midpoint to keep keys short.
	mid, err := KeyBetween(a, b)
	if err != nil {
		return nil, err
	}
	left, err := NKeysBetween(a, mid, n/2)
	if err != nil {
		return nil, err
	}
	right, err := NKeysBetween(mid, b, n-n/2-1)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, n)
	keys = append(keys, left...)
	keys = append(keys, mid)
	keys = append(keys, right...)
	return keys, nil
}
