package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unlimited is the descriptor value that disables enforcement for a scope.
const Unlimited = "unlimited"

// ParseEntries decodes the optimized snapshot payload. The payload is a
// JSON array of entries. Parsed entries are cached by the snapshot table,
// so the wire bytes are only decoded once per snapshot.
func ParseEntries(data []byte) ([]*Entry, error) {
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode catalog entries: %w", err)
	}
	return entries, nil
}

var windowUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// ParseValue parses a rate limit descriptor of the form "100/minute" or
// "100/2hour". The value "unlimited" reports unlimited true with no error.
func (r RateLimit) ParseValue() (maxHits int, window time.Duration, unlimited bool, err error) {
	v := strings.TrimSpace(strings.ToLower(r.Value))
	if v == Unlimited {
		return 0, 0, true, nil
	}

	hits, unit, found := strings.Cut(v, "/")
	if !found {
		return 0, 0, false, fmt.Errorf("invalid rate limit value %q: missing window", r.Value)
	}

	maxHits, err = strconv.Atoi(hits)
	if err != nil || maxHits <= 0 {
		return 0, 0, false, fmt.Errorf("invalid rate limit value %q: bad count", r.Value)
	}

	multiplier := 1
	if i := strings.IndexFunc(unit, func(c rune) bool { return c < '0' || c > '9' }); i > 0 {
		multiplier, err = strconv.Atoi(unit[:i])
		if err != nil || multiplier <= 0 {
			return 0, 0, false, fmt.Errorf("invalid rate limit value %q: bad window multiplier", r.Value)
		}
		unit = unit[i:]
	}

	d, ok := windowUnits[strings.TrimSuffix(unit, "s")]
	if !ok {
		return 0, 0, false, fmt.Errorf("invalid rate limit value %q: unknown window unit %q", r.Value, unit)
	}

	return maxHits, time.Duration(multiplier) * d, false, nil
}
