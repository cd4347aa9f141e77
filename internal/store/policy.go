package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// bestEffort mirrors a non-destructive write to the durable backend. Failures
// are logged and swallowed; the in-process copy already holds the write.
func (s *Store) bestEffort(ctx context.Context, operation, code string, write func(context.Context) error) {
	if s.durable == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := write(writeCtx); err != nil {
		s.logger.Warn("durable write failed, keeping in-process copy",
			zap.String("operation", operation),
			zap.String("code", code),
			zap.Error(err))
	}
}

// mustPropagate runs a destructive or administrative durable call and returns
// its error to the caller.
func (s *Store) mustPropagate(ctx context.Context, operation string, write func(context.Context) error) error {
	if err := write(ctx); err != nil {
		s.logger.Error("durable operation failed",
			zap.String("operation", operation),
			zap.Error(err))
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}
