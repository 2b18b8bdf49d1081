package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ReadRawJSON reads at most limit bytes and checks they form a JSON object.
// An empty body reads as {}.
func ReadRawJSON(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, errors.New("payload too large")
	}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("invalid json")
	}
	if trimmed[0] != '{' {
		return nil, errors.New("invalid json: payload must be an object")
	}
	return b, nil
}
