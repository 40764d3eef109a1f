package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := ConfigOptionError("legs", "leg", "duplicate id 2")
	msg := err.Error()
	if !strings.Contains(msg, "CONFIG_OPTION") ||
		!strings.Contains(msg, "'leg'") ||
		!strings.Contains(msg, "'legs'") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("EIO")
	err := BusIOError("status read", cause)

	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause not found by errors.Is")
	}
	if !Is(err, ErrBusIO) {
		t.Error("code predicate failed")
	}
}

func TestCategoryPredicates(t *testing.T) {
	if !IsConfig(ConfigValidationError("legs", "want 4 legs")) {
		t.Error("IsConfig false for validation error")
	}
	if IsConfig(BusProtocolError("short frame")) {
		t.Error("IsConfig true for bus error")
	}
	if !IsBus(BusOpenError("/dev/ttyACM0", stderrors.New("ENOENT"))) {
		t.Error("IsBus false for open error")
	}
	if Is(stderrors.New("plain"), ErrRuntime) {
		t.Error("Is matched a non-HostError")
	}
}

func TestRecoverPanic(t *testing.T) {
	var got *HostError
	func() {
		defer func() { got = RecoverPanic() }()
		panic("unknown joint id 99")
	}()

	if got == nil {
		t.Fatal("RecoverPanic returned nil after panic")
	}
	if got.Code != ErrRuntime || !strings.Contains(got.Message, "unknown joint id 99") {
		t.Errorf("unexpected error: %+v", got)
	}
}

func TestRecoverPanicNoPanic(t *testing.T) {
	var got *HostError
	func() {
		defer func() { got = RecoverPanic() }()
	}()
	if got != nil {
		t.Errorf("RecoverPanic returned %v without panic", got)
	}
}
