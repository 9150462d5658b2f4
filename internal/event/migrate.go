package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// migration rewrites a detail from one schema version to the next.
type migration func(detail map[string]any) (map[string]any, error)

type migrationKey struct {
	detailType string
	from       int
}

// Version 1 producers wrote snake_case keys.
var migrations = map[migrationKey]migration{
	{TypeRideCreated, 1}:      snakeToCamelKeys,
	{TypePriceCalculated, 1}:  snakeToCamelKeys,
	{TypeDriverAssigned, 1}:   snakeToCamelKeys,
	{TypePaymentCompleted, 1}: snakeToCamelKeys,
	{TypePaymentFailed, 1}:    snakeToCamelKeys,
}

func migrate(detailType string, from int, raw []byte) ([]byte, error) {
	var detail map[string]any
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("%w: %s v%d: %v", ErrMalformed, detailType, from, err)
	}

	for v := from; v < SchemaVersion; v++ {
		m, ok := migrations[migrationKey{detailType, v}]
		if !ok {
			return nil, fmt.Errorf("%w: no migration for %s v%d", ErrUnsupportedVersion, detailType, v)
		}
		var err error
		if detail, err = m(detail); err != nil {
			return nil, fmt.Errorf("%w: %s v%d: %v", ErrMalformed, detailType, v, err)
		}
	}

	return json.Marshal(detail)
}

func snakeToCamelKeys(detail map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		out[snakeToCamel(k)] = v
	}
	return out, nil
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
