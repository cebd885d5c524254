package portal

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
)

// defaultStatuses are the service statuses that must hold for data to be complete.
var defaultStatuses = map[string]any{
	"coffee_break": false,
}

// CheckStatusesResponse compares the portal's internal system statuses with the
// expected values. Mismatches are reported as "key =/= value", sorted by key.
// When raise is set they fail with PartialOffline; otherwise they are returned
// (nil when everything matches).
func CheckStatusesResponse(raw json.RawMessage, raise bool, extra map[string]any, withDefault bool) ([]string, error) {
	var statuses map[string]any
	if err := json.Unmarshal(raw, &statuses); err != nil {
		return nil, apierr.QueryFailed("decoding statuses", err)
	}
	if inner, ok := statuses["internalSystemStatuses"].(map[string]any); ok {
		statuses = inner
	}

	expected := make(map[string]any, len(defaultStatuses)+len(extra))
	if withDefault {
		maps.Copy(expected, defaultStatuses)
	}
	maps.Copy(expected, extra)

	var bad []string
	for _, key := range slices.Sorted(maps.Keys(expected)) {
		want := expected[key]
		if !reflect.DeepEqual(statuses[key], normalizeStatus(want)) {
			bad = append(bad, fmt.Sprintf("%s =/= %v", key, want))
		}
	}

	if len(bad) > 0 && raise {
		return nil, apierr.PartialOffline(strings.Join(bad, ", "))
	}
	return bad, nil
}

// normalizeStatus converts an expected value to the form a decoded status takes,
// so that 1 and 1.0 compare equal.
func normalizeStatus(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return v
	}
	return decoded
}
