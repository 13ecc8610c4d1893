package usecase_test

import (
	"io"

	"github.com/rs/zerolog"
)

// newTestLogger creates a silent zerolog.Logger for use in tests. It
// writes to io.Discard to prevent logs from cluttering test output.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
