package domain

import (
	"fmt"
	"strings"
)

// InfoHash is a 40-hex-character content identifier, normalized to uppercase.
type InfoHash string

const infoHashLen = 40

// InfoHashFromMagnet extracts the btih infohash from a magnet locator.
// The result is the 40 hex characters following the "btih:" marker,
// uppercased. Locators without a valid marker return ErrMalformedLocator.
func InfoHashFromMagnet(locator string) (InfoHash, error) {
	trimmed := strings.TrimSpace(locator)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty locator", ErrMalformedLocator)
	}

	lower := strings.ToLower(trimmed)
	idx := strings.Index(lower, "btih:")
	if idx == -1 {
		return "", fmt.Errorf("%w: no btih marker", ErrMalformedLocator)
	}

	rest := trimmed[idx+len("btih:"):]
	if len(rest) < infoHashLen {
		return "", fmt.Errorf("%w: infohash too short", ErrMalformedLocator)
	}

	token := rest[:infoHashLen]
	if !isHex(token) {
		return "", fmt.Errorf("%w: infohash is not hex", ErrMalformedLocator)
	}

	return InfoHash(strings.ToUpper(token)), nil
}

// NormalizeInfoHash validates a bare 40-hex identifier and uppercases it.
func NormalizeInfoHash(raw string) (InfoHash, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) != infoHashLen || !isHex(trimmed) {
		return "", fmt.Errorf("%w: invalid infohash", ErrMalformedLocator)
	}
	return InfoHash(strings.ToUpper(trimmed)), nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}
