package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/orchd/internal/task"
)

// marshalFields converts ordered field/value pairs to canonical JSON TEXT,
// an array of [field, value] arrays.
func marshalFields(fields []task.FieldValue) (string, error) {
	pairs := make([]any, len(fields))
	for i, fv := range fields {
		pairs[i] = []any{fv.Field, fv.Value}
	}
	data, err := task.MarshalCanonical(pairs)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses the TEXT written by marshalFields.
func unmarshalFields(data string) ([]task.FieldValue, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var pairs [][2]string
	if err := json.Unmarshal([]byte(data), &pairs); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	fields := make([]task.FieldValue, len(pairs))
	for i, p := range pairs {
		fields[i] = task.FieldValue{Field: p[0], Value: p[1]}
	}
	return fields, nil
}
