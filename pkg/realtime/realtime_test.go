package realtime

import "testing"

func TestSetupDisabled(t *testing.T) {
	// A zero config changes nothing and must succeed everywhere.
	if err := Setup(Config{}); err != nil {
		t.Errorf("Setup(zero) = %v", err)
	}
}

func TestSetupRejectsBadPriority(t *testing.T) {
	if err := Setup(Config{Priority: 200}); err == nil {
		t.Error("expected error for out-of-range priority")
	}
}
