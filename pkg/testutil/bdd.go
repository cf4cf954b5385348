package testutil

import "testing"

// Given, When and Then name subtests so table-driven cases read as
// scenarios in test output.
func Given(t *testing.T, situation string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("given "+situation, fn)
}

func When(t *testing.T, action string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("when "+action, fn)
}

func Then(t *testing.T, outcome string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("then "+outcome, fn)
}
