// Package guard switches the process into test mode when imported by tests
// that touch runtime entrypoints.
package guard

import (
	"os"
	"sync"
)

// TestModeEnv is read by app.InTestMode.
const TestModeEnv = "RELIEFOPS_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(TestModeEnv) == "" {
			_ = os.Setenv(TestModeEnv, "1")
		}
	})
}
