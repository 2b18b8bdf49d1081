package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// ToJSONText encodes v for a TEXT column. Nil maps become an empty object.
func ToJSONText(v any) (string, error) {
	if m, ok := v.(map[string]any); ok && m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FromJSONText decodes a TEXT column into dst. Empty input leaves dst untouched.
func FromJSONText(s string, dst any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || sqlscan.NotFound(err)
}
