package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// TestHelper bundles a test's logger and the *testing.T it runs under, so
// suites don't repeat the same boilerplate in every SetupTest.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger so failures
// can be traced without recompiling with extra log lines.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}
