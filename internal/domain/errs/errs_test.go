package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{name: "nil", err: nil, want: ""},
		{name: "validation", err: Invalid("price", "negative"), want: ClassValidation},
		{name: "wrapped validation", err: fmt.Errorf("decode: %w", Invalid("", "bad json")), want: ClassValidation},
		{name: "rate limit", err: &SourceUnavailableError{Source: "binance", Class: ClassRateLimit, Status: 429}, want: ClassRateLimit},
		{name: "server", err: &SourceUnavailableError{Source: "okx", Class: ClassServer, Status: 502}, want: ClassServer},
		{name: "net error", err: timeoutErr{}, want: ClassNetwork},
		{name: "deadline", err: context.DeadlineExceeded, want: ClassNetwork},
		{name: "unknown", err: errors.New("boom"), want: ClassServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassOf(tc.err); got != tc.want {
				t.Fatalf("ClassOf=%q want %q", got, tc.want)
			}
		})
	}
}

func TestClassForStatus(t *testing.T) {
	cases := map[int]Class{429: ClassRateLimit, 500: ClassServer, 503: ClassServer, 400: ClassValidation, 404: ClassValidation, 401: ClassValidation}
	for code, want := range cases {
		if got := ClassForStatus(code); got != want {
			t.Fatalf("status %d: got %q want %q", code, got, want)
		}
	}
}

func TestIsFatal(t *testing.T) {
	auth := &SourceUnavailableError{Source: "okx", Class: ClassValidation, Status: 401, Err: errors.New("unauthorized")}
	if !IsFatal(fmt.Errorf("call: %w", auth)) {
		t.Fatalf("401 should be fatal")
	}
	if IsFatal(&SourceUnavailableError{Source: "okx", Class: ClassServer, Status: 500}) {
		t.Fatalf("500 should not be fatal")
	}
	if !IsFatal(fmt.Errorf("wrapped: %w", ErrFatal)) {
		t.Fatalf("sentinel should be fatal")
	}
}

func TestRetryExhaustedUnwrap(t *testing.T) {
	last := &SourceUnavailableError{Source: "binance", Class: ClassServer, Status: 503, Err: errors.New("busy")}
	err := error(&RetryExhaustedError{Attempts: 3, Class: ClassServer, Last: last})
	var su *SourceUnavailableError
	if !errors.As(err, &su) || su.Source != "binance" {
		t.Fatalf("expected to unwrap to source error, got %v", err)
	}
}

func TestAllSourcesUnavailableMessage(t *testing.T) {
	err := &AllSourcesUnavailableError{Symbol: "BTC/USDT", Causes: map[string]error{
		"okx":     errors.New("down"),
		"binance": errors.New("timeout"),
	}}
	msg := err.Error()
	if !strings.Contains(msg, "binance: timeout; okx: down") {
		t.Fatalf("unexpected message %q", msg)
	}
	empty := &AllSourcesUnavailableError{Symbol: "ETH/USDT"}
	if !strings.Contains(empty.Error(), "no eligible source") {
		t.Fatalf("unexpected message %q", empty.Error())
	}
}
