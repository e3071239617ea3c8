package token

import (
	"errors"
	"testing"
)

func TestEncodeIsDeterministic(t *testing.T) {
	a := Encode(42, ActionSignup, "tank")
	b := Encode(42, ActionSignup, "tank")
	if a != b {
		t.Fatalf("same input produced different tokens: %q vs %q", a, b)
	}
	if a == Encode(42, ActionSignup, "healer") {
		t.Fatalf("different roles produced the same token")
	}
	if a == Encode(43, ActionSignup, "tank") {
		t.Fatalf("different raids produced the same token")
	}
	if a == Encode(42, ActionLeave, "tank") {
		t.Fatalf("different actions produced the same token")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	data := Encode(7, ActionSignup, "healer")
	if !Is(data) {
		t.Fatalf("Is(%q) = false", data)
	}
	tok, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tok.RaidID != 7 || tok.Role != "healer" || tok.Action != ActionSignup {
		t.Fatalf("unexpected decode result: %+v", tok)
	}

	// Leave tokens carry no role.
	tok, err = Decode(Encode(7, ActionLeave, ""))
	if err != nil {
		t.Fatalf("Decode leave: %v", err)
	}
	if tok.Action != ActionLeave || tok.Role != "" {
		t.Fatalf("unexpected leave token: %+v", tok)
	}
}

// Tokens may be persisted inside Telegram messages across deploys, so the
// wire format must stay stable. Pin one known encoding.
func TestEncodeStableFormat(t *testing.T) {
	const want = "raid:signup:eyJyIjo0MiwibyI6InRhbmsifQ"
	if got := Encode(42, ActionSignup, "tank"); got != want {
		t.Fatalf("wire format changed: got %q want %q", got, want)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, data := range []string{
		"",
		"raid",
		"raid:signup",
		"other:signup:eyJyIjo3fQ",
		"raid:explode:eyJyIjo3fQ",
		"raid:signup:not-base64!!",
		"raid:signup:eyJyIjowfQ", // raid id 0
	} {
		if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q): expected ErrMalformed, got %v", data, err)
		}
	}
}
