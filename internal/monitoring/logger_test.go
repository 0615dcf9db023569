package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	// Save original logger
	original := Logf
	defer func() { Logf = original }()

	// Test setting a custom logger
	called := false
	customLogger := func(format string, v ...interface{}) {
		called = true
	}

	SetLogger(customLogger)
	Logf("test message")

	if !called {
		t.Error("Custom logger was not called")
	}

	// Test setting nil logger (should create no-op)
	SetLogger(nil)
	// This should not panic
	Logf("test message")

	// Verify the logger is a no-op by checking it doesn't panic
	// and doesn't call anything
	noOpCalled := false
	testLogger := func(format string, v ...interface{}) {
		noOpCalled = true
	}
	SetLogger(testLogger)
	// First verify our test logger works
	Logf("test")
	if !noOpCalled {
		t.Error("Test logger should have been called")
	}

	// Now set to nil and verify it doesn't call our logger
	noOpCalled = false
	SetLogger(nil)
	Logf("test")
	if noOpCalled {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	// Test that Logf is not nil by default
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	// Test that we can call it without panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	Logf("test message: %s", "value")
}

func TestSetLogWriters_Streams(t *testing.T) {
	var ops, diag bytes.Buffer
	SetLogWriters(&ops, &diag, nil)
	defer SetLogWriters(nil, nil, nil)

	Opsf("dropped %d scans", 2)
	Diagf("config applied ring_div=%d", 5)
	Tracef("scan %d", 1)

	if !strings.Contains(ops.String(), "dropped 2 scans") {
		t.Errorf("ops stream missing message, got %q", ops.String())
	}
	if !strings.Contains(diag.String(), "ring_div=5") {
		t.Errorf("diag stream missing message, got %q", diag.String())
	}
	if TraceEnabled() {
		t.Error("trace stream should be disabled with a nil writer")
	}
}

func TestSetLogWriters_AllDisabled(t *testing.T) {
	SetLogWriters(nil, nil, nil)

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("disabled streams panicked: %v", r)
		}
	}()
	Opsf("x")
	Diagf("x")
	Tracef("x")
}
