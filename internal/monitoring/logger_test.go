package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestComponent(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	logf := Component("session")
	logf("skipped frame %d", 7)
	if got != "[session] skipped frame 7" {
		t.Errorf("got %q, want %q", got, "[session] skipped frame 7")
	}

	// the component logger follows later SetLogger calls
	var later string
	SetLogger(func(format string, v ...interface{}) {
		later = fmt.Sprintf(format, v...)
	})
	logf("again")
	if later != "[session] again" {
		t.Errorf("got %q after SetLogger, want %q", later, "[session] again")
	}
}
