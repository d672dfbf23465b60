package errors

import (
	"errors"
	"testing"
)

func TestCodedErrorError(t *testing.T) {
	err := New(CodeTimeout, "request to /printer/gcode timed out")
	want := "multiplexer.timeout: request to /printer/gcode timed out"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestCodedErrorErrorWithCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeInternal, "failed to do the thing", cause)
	got := err.Error()
	if got != "error.internal: failed to do the thing (boom)" {
		t.Fatalf("Error() = %q", got)
	}
	if err.Unwrap() != cause {
		t.Fatalf("Unwrap() did not return cause")
	}
}

func TestGetCodeUnknownForPlainError(t *testing.T) {
	if got := GetCode(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("GetCode() = %q, want %q", got, CodeUnknown)
	}
}

func TestGetCodeForCodedError(t *testing.T) {
	err := HostDisconnected()
	if got := GetCode(err); got != CodeHostDisconnected {
		t.Fatalf("GetCode() = %q, want %q", got, CodeHostDisconnected)
	}
}

func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(UnknownEndpoint("/printer/nope"))
	if code != CodeUnknownEndpoint {
		t.Fatalf("code = %q", code)
	}
	if msg != "no remote method registered for /printer/nope" {
		t.Fatalf("message = %q", msg)
	}
}

func TestToCodeAndMessageNil(t *testing.T) {
	code, msg := ToCodeAndMessage(nil)
	if code != "" || msg != "" {
		t.Fatalf("expected empty code/message for nil error, got %q/%q", code, msg)
	}
}

func TestIsCode(t *testing.T) {
	err := TokenExpired()
	if !IsCode(err, CodeTokenExpired) {
		t.Fatalf("IsCode() = false, want true")
	}
	if IsCode(err, CodeTokenConsumed) {
		t.Fatalf("IsCode() = true, want false")
	}
}

func TestErrorsAsUnwraps(t *testing.T) {
	err := Wrap(CodeHostCorruptFrame, "bad frame", errors.New("EOF"))
	var coded *CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("errors.As failed to match *CodedError")
	}
	if coded.Code != CodeHostCorruptFrame {
		t.Fatalf("coded.Code = %q", coded.Code)
	}
}
