// Package cursor encodes listing positions into opaque pagination tokens.
//
// A token is the URL-safe base64 form of a compact JSON object
// {"created_at":"<RFC 3339 with zone>","id":<positive int>}.
package cursor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrEmpty          = errors.New("cursor cannot be empty")
	ErrEncoding       = errors.New("invalid cursor encoding")
	ErrPayload        = errors.New("invalid cursor payload")
	ErrMissingField   = errors.New("cursor must contain 'created_at' and 'id' fields")
	ErrTimestamp      = errors.New("invalid created_at")
	ErrIdentifier     = errors.New("invalid id")
	errNonPositiveID  = errors.New("id must be a positive integer")
	errNotJSONObject  = errors.New("cursor must be a JSON object")
	errNotJSONString  = errors.New("created_at must be a string")
	errNotJSONInteger = errors.New("id must be an integer")
)

// Position is the (created_at, id) pair of the last row a client has seen.
type Position struct {
	CreatedAt time.Time
	ID        int64
}

type payload struct {
	CreatedAt string `json:"created_at"`
	ID        int64  `json:"id"`
}

// Encode returns the opaque token for (createdAt, id).
func Encode(createdAt time.Time, id int64) string {
	b, _ := json.Marshal(payload{
		CreatedAt: createdAt.Format(time.RFC3339Nano),
		ID:        id,
	})
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode parses a token produced by Encode. Errors wrap one of ErrEmpty,
// ErrEncoding, ErrPayload, ErrMissingField, ErrTimestamp or ErrIdentifier.
func Decode(token string) (Position, error) {
	if token == "" {
		return Position{}, ErrEmpty
	}
	raw, err := decodeBase64(token)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	if fields == nil {
		return Position{}, fmt.Errorf("%w: %v", ErrPayload, errNotJSONObject)
	}
	rawTS, okTS := fields["created_at"]
	rawID, okID := fields["id"]
	if !okTS || !okID {
		return Position{}, ErrMissingField
	}

	var ts string
	if err := json.Unmarshal(rawTS, &ts); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrTimestamp, errNotJSONString)
	}
	createdAt, err := parseTimestamp(ts)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrTimestamp, err)
	}

	id, err := parseID(rawID)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrIdentifier, err)
	}
	return Position{CreatedAt: createdAt, ID: id}, nil
}

// InvalidError is the client-facing form of a decode failure.
type InvalidError struct {
	Cause error
}

func (e *InvalidError) Error() string {
	return "Invalid cursor format: " + e.Cause.Error()
}

func (e *InvalidError) Unwrap() error { return e.Cause }

// Validate decodes an optional cursor. A nil token means "first page" and yields
// (nil, nil); any decode failure is returned as *InvalidError.
func Validate(token *string) (*Position, error) {
	if token == nil {
		return nil, nil
	}
	p, err := Decode(*token)
	if err != nil {
		return nil, &InvalidError{Cause: err}
	}
	return &p, nil
}

func decodeBase64(token string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(token); err == nil {
		return b, nil
	}
	// Tolerate padded standard base64 from clients that re-encode tokens.
	return base64.StdEncoding.DecodeString(token)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		// Numeric strings are accepted; anything else is rejected below.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		raw = json.RawMessage(s)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, errNotJSONInteger
	}
	if id <= 0 {
		return 0, errNonPositiveID
	}
	return id, nil
}
