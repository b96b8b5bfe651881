package app

import (
	"os"
	"testing"

	"github.com/vk/kbuildgo/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. Summary
// output and logs are captured separately.
func SetupAppTest(t *testing.T, cfg Config, opts ...Option) (*App, *testutil.SafeBuffer, *testutil.SafeBuffer) {
	t.Helper()

	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = func(string) (string, bool) { return "", false }
	}
	config, err := NewConfig(cfg)
	if err != nil {
		t.Fatalf("invalid test configuration: %v", err)
	}

	outBuffer, logBuffer := &testutil.SafeBuffer{}, &testutil.SafeBuffer{}
	testApp, err := NewApp(outBuffer, logBuffer, config, opts...)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	t.Cleanup(func() {
		_ = testApp.Close()
		if os.Getenv("KBUILD_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})
	return testApp, outBuffer, logBuffer
}
