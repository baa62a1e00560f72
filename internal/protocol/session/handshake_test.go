package session

import (
	"errors"
	"testing"

	"github.com/danmuck/wsclient/internal/testutil/testlog"
)

func TestParseVerification(t *testing.T) {
	testlog.Start(t)

	v, err := ParseVerification([]byte(`{"id":"c1","sid":"s1","info":{"node":"a"},"extra":true}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.ID != "c1" || v.SID != "s1" || v.Info["node"] != "a" {
		t.Fatalf("unexpected verification: %+v", v)
	}
}

func TestParseVerificationRejectsIncompleteRecords(t *testing.T) {
	testlog.Start(t)

	bad := []string{
		`not json`,
		`[]`,
		`{"sid":"s1","info":{}}`,
		`{"id":"c1","info":{}}`,
		`{"id":"c1","sid":"s1"}`,
		`{"id":"c1","sid":"s1","info":null}`,
		`{"id":"","sid":"s1","info":{}}`,
		`{"id":7,"sid":"s1","info":{}}`,
		`{"id":"c1","sid":"s1","info":"x"}`,
	}
	for _, raw := range bad {
		if _, err := ParseVerification([]byte(raw)); !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("%s: expected protocol violation, got %v", raw, err)
		}
	}
}

func TestVerificationEncodeRoundTrip(t *testing.T) {
	testlog.Start(t)

	in := Verification{ID: "c1", SID: "s1", Info: map[string]any{}}
	raw, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := ParseVerification(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.ID != in.ID || out.SID != in.SID || out.Info == nil {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if _, err := (Verification{ID: "c1"}).Encode(); err == nil {
		t.Fatalf("expected encode to reject missing sid")
	}
}

func TestSessionCookie(t *testing.T) {
	testlog.Start(t)

	if got := SessionCookie("abc"); got != "X-Session-ID=abc" {
		t.Fatalf("unexpected cookie: %q", got)
	}
	if got := SessionCookie(""); got != "X-Session-ID=" {
		t.Fatalf("unexpected empty cookie: %q", got)
	}
}
