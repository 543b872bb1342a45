package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a response is neither JSON nor a JSONP
// call of the expected callback.
var ErrMalformed = errors.New("rpc: malformed response")

// Unwrap extracts the JSON payload from body. Plain JSON is returned as is.
// A JSONP body must be a single call of ref, optionally followed by ";".
func Unwrap(body []byte, ref string) (json.RawMessage, error) {
	b := bytes.TrimSpace(body)
	b = bytes.TrimSpace(bytes.TrimPrefix(b, []byte("/**/")))

	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	if b[0] != '{' && b[0] != '[' {
		open := bytes.IndexByte(b, '(')
		if open < 0 {
			return nil, fmt.Errorf("%w: no callback invocation", ErrMalformed)
		}
		if callee := string(bytes.TrimSpace(b[:open])); callee != ref {
			return nil, fmt.Errorf("%w: unexpected callback %q", ErrMalformed, callee)
		}
		b = bytes.TrimSuffix(b, []byte(";"))
		b = bytes.TrimSpace(b)
		if len(b) == 0 || b[len(b)-1] != ')' {
			return nil, fmt.Errorf("%w: unterminated callback invocation", ErrMalformed)
		}
		b = bytes.TrimSpace(b[open+1 : len(b)-1])
	}

	if !json.Valid(b) {
		return nil, fmt.Errorf("%w: invalid JSON payload", ErrMalformed)
	}
	return json.RawMessage(b), nil
}
