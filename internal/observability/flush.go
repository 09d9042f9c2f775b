package observability

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// FlushTelemetry flushes logs and closes backing connections before process exit.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(logger *zap.Logger, closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
