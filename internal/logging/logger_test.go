package logging

import "testing"

func TestGetReturnsSameLoggerForCategory(t *testing.T) {
	a := Get(CategoryDecay)
	b := Get(CategoryDecay)
	if a != b {
		t.Fatalf("expected Get to return cached logger instance for same category")
	}
}

func TestGetIsNoOpSafeBeforeInitialize(t *testing.T) {
	l := Get(CategorySearch)
	l.Info("hello %s", "world")
	l.Debug("debug line")
	l.Warn("warn line")
	l.Error("error line")
}

func TestStartTimerReportsElapsed(t *testing.T) {
	timer := StartTimer(CategoryIndex, "test-op")
	elapsed := timer.Stop()
	if elapsed < 0 {
		t.Fatalf("expected non-negative elapsed duration, got %v", elapsed)
	}
}
