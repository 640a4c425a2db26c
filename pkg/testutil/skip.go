package testutil

import (
	"os"
	"testing"
)

// RequireIntegration skips container-backed tests in short mode, and in CI
// unless INTEGRATION_TESTS is set.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("INTEGRATION_TESTS") == "" && os.Getenv("CI") != "" {
		t.Skip("skipping integration test (set INTEGRATION_TESTS=1 to run)")
	}
}
