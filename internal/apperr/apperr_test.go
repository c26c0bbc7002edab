package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("resolve stack: %w", New(NotFound, "stack %q not found", "media"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped error to match ErrNotFound")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("did not expect match with ErrValidation")
	}
	if KindOf(err) != NotFound {
		t.Fatalf("KindOf = %s, want %s", KindOf(err), NotFound)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Fatalf("KindOf = %s, want internal", got)
	}
}

func TestProcessAndLimited(t *testing.T) {
	p := Process(2, "no such service")
	if p.ExitCode != 2 || p.Stderr != "no such service" || !errors.Is(p, ErrProcessFailure) {
		t.Fatalf("unexpected process error: %+v", p)
	}
	l := Limited(3 * time.Second)
	if l.RetryAfter != 3*time.Second || !errors.Is(l, ErrRateLimited) {
		t.Fatalf("unexpected limited error: %+v", l)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(IOFailure, nil, "write") != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Validation:         http.StatusBadRequest,
		NotFound:           http.StatusNotFound,
		AlreadyExists:      http.StatusConflict,
		Unauthorized:       http.StatusUnauthorized,
		InvalidCredentials: http.StatusUnauthorized,
		AlreadyInitialized: http.StatusConflict,
		RateLimited:        http.StatusTooManyRequests,
		ProcessFailure:     http.StatusBadGateway,
		Timeout:            http.StatusGatewayTimeout,
		IOFailure:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}
