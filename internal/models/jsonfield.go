package models

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// EncodeJSON serializes a structured value for a JSON text column.
// A nil value stores SQL NULL.
func EncodeJSON(value any) (datatypes.JSON, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("models: encode json column: %w", err)
	}
	if string(encoded) == "null" {
		return nil, nil
	}
	return datatypes.JSON(encoded), nil
}

// DecodeJSON parses a JSON text column into T. Empty columns yield the zero value.
func DecodeJSON[T any](raw datatypes.JSON) (T, error) {
	var value T
	if len(raw) == 0 {
		return value, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, fmt.Errorf("models: decode json column: %w", err)
	}
	return value, nil
}

// ParseTags returns the tag list stored in a tags column.
func ParseTags(raw datatypes.JSON) []string {
	tags, err := DecodeJSON[[]string](raw)
	if err != nil || tags == nil {
		return []string{}
	}
	return tags
}

// DecodeColumnValue turns a raw column value read from SQLite into a native
// structure. Text that does not parse as JSON is returned unchanged.
func DecodeColumnValue(value any) any {
	var text string
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		text = typed
	case []byte:
		text = string(typed)
	case datatypes.JSON:
		text = string(typed)
	default:
		return value
	}
	if text == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return text
	}
	return decoded
}

// EncodeColumnValue turns a wire value into the text stored in a JSON column.
// Strings are assumed to be serialized already.
func EncodeColumnValue(value any) (any, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case string:
		return typed, nil
	case []byte:
		return string(typed), nil
	case json.RawMessage:
		return string(typed), nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("models: encode json column: %w", err)
		}
		return string(encoded), nil
	}
}

// DecodeJSONColumns rewrites the JSON columns of row in place into native values.
func (spec TableSpec) DecodeJSONColumns(row map[string]any) {
	for _, column := range spec.JSONColumns {
		if value, ok := row[column]; ok {
			row[column] = DecodeColumnValue(value)
		}
	}
}

// EncodeJSONColumns rewrites the JSON columns of row in place into serialized text.
func (spec TableSpec) EncodeJSONColumns(row map[string]any) error {
	for _, column := range spec.JSONColumns {
		value, ok := row[column]
		if !ok {
			continue
		}
		encoded, err := EncodeColumnValue(value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", spec.Name, column, err)
		}
		row[column] = encoded
	}
	return nil
}

// DecodeBoolColumns rewrites SQLite 0/1 boolean columns of row in place into bools.
func (spec TableSpec) DecodeBoolColumns(row map[string]any) {
	for _, column := range spec.BoolColumns {
		switch value := row[column].(type) {
		case int64:
			row[column] = value != 0
		case float64:
			row[column] = value != 0
		case string:
			row[column] = value == "1" || value == "true"
		}
	}
}
