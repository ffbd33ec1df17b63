package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	orig := Logf
	defer SetLogger(orig)

	var captured string
	SetLogger(func(format string, v ...interface{}) {
		captured = fmt.Sprintf(format, v...)
	})

	Logf("beacon %s at %.1fm", "kitchen", 2.5)
	if captured != "beacon kitchen at 2.5m" {
		t.Errorf("captured = %q", captured)
	}
}

func TestSetLoggerNilIsNoOp(t *testing.T) {
	orig := Logf
	defer SetLogger(orig)

	SetLogger(nil)
	// Must not panic.
	Logf("dropped %d", 1)
}
