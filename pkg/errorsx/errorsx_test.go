package errorsx

import (
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonTransportConnect)
	if Reason(err) != ReasonTransportConnect {
		t.Fatalf("expected reason %s, got %s", ReasonTransportConnect, Reason(err))
	}
	if !HasReason(err, ReasonTransportConnect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonDeviceRead)
	second := Wrap(first, ReasonTransportConnect)
	if Reason(second) != ReasonDeviceRead {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestStatusCodeThroughWrap(t *testing.T) {
	err := Wrap(fmt.Errorf("call: %w", StatusError{Provider: "deepgram", Code: 401}), ReasonTransportAuth)
	if StatusCode(err) != 401 {
		t.Fatalf("expected status 401, got %d", StatusCode(err))
	}
	if !IsAuthStatus(err) {
		t.Fatalf("expected auth status")
	}
	if IsAuthStatus(assertErr{}) {
		t.Fatalf("plain error is not an auth status")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
