package persistence

import (
	"bytes"
	"database/sql"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// NullText is a nullable TEXT column. The zero value is NULL and encodes as
// JSON/YAML null, so an absent output stays distinct from an empty one.
type NullText struct {
	sql.Null[string]
}

// Text returns a present value.
func Text(s string) NullText {
	return NullText{sql.Null[string]{V: s, Valid: true}}
}

// String returns the value, or "" when NULL.
func (t NullText) String() string {
	return t.V
}

func (t NullText) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.V)
}

func (t *NullText) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = NullText{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = Text(s)
	return nil
}

func (t NullText) MarshalYAML() (any, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.V, nil
}

func (t *NullText) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*t = NullText{}
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*t = Text(s)
	return nil
}
