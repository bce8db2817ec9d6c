package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestTransientTaxonomy(t *testing.T) {
	transient := []*AppError{
		QuotaExceeded("gmail", time.Minute, nil),
		ServerError("openai", nil),
		RateLimited("telegram", nil),
		NetworkError("redis", nil),
	}
	for _, err := range transient {
		if !IsTransient(err) {
			t.Errorf("%s should be transient", err.Code)
		}
	}

	permanent := []*AppError{
		AuthExpired("gmail", nil),
		InvalidRequest("bad input", nil),
		NotFound("user"),
		ValidationFailed("too short"),
		ChatBlocked(42, nil),
		ContextFatal(errors.New("thread gone")),
	}
	for _, err := range permanent {
		if IsTransient(err) {
			t.Errorf("%s should not be transient", err.Code)
		}
	}
}

func TestUnknownErrorsAreTransient(t *testing.T) {
	// Client libraries wrap network hiccups in plain errors; retrying
	// those is the safe default.
	if !IsTransient(errors.New("connection reset by peer")) {
		t.Error("plain errors should be treated as transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not an error")
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := ServerError("gmail", cause)

	if !errors.Is(err, cause) {
		t.Error("AppError should unwrap to its cause")
	}

	wrapped := fmt.Errorf("poll failed: %w", err)
	if !IsCode(wrapped, CodeServerError) {
		t.Error("IsCode should see through wrapping")
	}
	if !IsTransient(wrapped) {
		t.Error("IsTransient should see through wrapping")
	}
	if CodeOf(wrapped) != CodeServerError {
		t.Errorf("CodeOf = %s", CodeOf(wrapped))
	}
}

func TestAsAppError(t *testing.T) {
	app := AsAppError(errors.New("plain"))
	if app.Code != CodeInternalError {
		t.Errorf("plain errors should map to internal, got %s", app.Code)
	}

	orig := NotFound("folder")
	if AsAppError(orig) != orig {
		t.Error("existing AppError should pass through unchanged")
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := GetHTTPStatus(NotFound("x")); got != http.StatusNotFound {
		t.Errorf("not found status = %d", got)
	}
	if got := GetHTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("plain error status = %d", got)
	}
}

func TestWithDetail(t *testing.T) {
	err := ValidationFailed("draft too short").WithDetail("email_id", int64(42))
	if err.Details["email_id"] != int64(42) {
		t.Errorf("unexpected details: %v", err.Details)
	}
}
