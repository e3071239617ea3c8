// Package token encodes raid UI controls as deterministic callback tokens.
//
// A token is a pure function of (raid id, action, role): the same raid
// always produces the same token, before and after a process restart, so
// inline buttons keep working without any runtime registry. Decoding needs
// no store access.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action identifies what pressing a control does.
type Action string

const (
	ActionSignup Action = "signup"
	ActionLeave  Action = "leave"
)

// prefix namespaces raid tokens inside callback data so a router can
// dispatch on it ("raid:<action>:<payload>").
const prefix = "raid"

var ErrMalformed = errors.New("malformed token")

// Token is the decoded form of a component token.
type Token struct {
	RaidID int64  `json:"r"`
	Role   string `json:"o,omitempty"`
	Action Action `json:"-"`
}

// Encode formats a token as "raid:<action>:<payload>" with the payload
// JSON-marshaled and Base64URL encoded (no padding). JSON field order is
// fixed by the struct, so the output is byte-stable for equal inputs.
func Encode(raidID int64, action Action, role string) string {
	t := Token{RaidID: raidID, Role: role}
	b, err := json.Marshal(t)
	if err != nil {
		// Token has only scalar fields; Marshal cannot fail.
		panic(fmt.Sprintf("token: marshal: %v", err))
	}
	payload := base64.RawURLEncoding.EncodeToString(b)
	return prefix + ":" + string(action) + ":" + payload
}

// Decode parses callback data produced by Encode.
func Decode(data string) (Token, error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != prefix {
		return Token{}, ErrMalformed
	}
	action := Action(parts[1])
	switch action {
	case ActionSignup, ActionLeave:
	default:
		return Token{}, fmt.Errorf("%w: unknown action %q", ErrMalformed, parts[1])
	}
	b, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var t Token
	if err := json.Unmarshal(b, &t); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if t.RaidID <= 0 {
		return Token{}, fmt.Errorf("%w: missing raid id", ErrMalformed)
	}
	t.Action = action
	return t, nil
}

// Is reports whether data looks like a raid token (cheap prefix check,
// useful for router dispatch before a full Decode).
func Is(data string) bool {
	return strings.HasPrefix(data, prefix+":")
}
