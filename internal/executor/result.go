package executor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/planner"
)

// ErrMalformedResult is returned for a successful call whose payload is not a
// JSON object with a "result" field.
var ErrMalformedResult = errors.New("malformed tool result")

// ParseResult extracts the "result" field from a successful invocation. Text
// parts are concatenated and decoded as JSON. A result with only binary parts
// materializes as a description of the first part.
func ParseResult(res capability.InvocationResult) (any, error) {
	var text strings.Builder
	hasText := false
	for _, p := range res.Parts {
		if p.IsText() {
			hasText = true
			text.WriteString(p.Text)
		}
	}
	if !hasText {
		if len(res.Parts) == 0 {
			return nil, fmt.Errorf("%w: empty content", ErrMalformedResult)
		}
		p := res.Parts[0]
		return map[string]any{
			"type":     p.Type,
			"mimeType": p.MimeType,
			"data":     base64.StdEncoding.EncodeToString(p.Data),
		}, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text.String())))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	v, ok := doc["result"]
	if !ok {
		return nil, fmt.Errorf("%w: missing result field", ErrMalformedResult)
	}
	return planner.NormalizeNumbers(v), nil
}
