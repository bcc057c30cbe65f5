package utils

import (
	"context"
	"fmt"
)

// FirstSuccess invokes fn for each candidate in order and returns the first
// successful result together with the candidate that produced it. Failed
// candidates are reported through onErr (may be nil) and skipped. When the
// context is cancelled between attempts, the context error is returned.
// When every candidate fails, the last error is returned wrapped with the
// number of candidates tried.
func FirstSuccess[T any](
	ctx context.Context,
	candidates []string,
	fn func(ctx context.Context, candidate string) (T, error),
	onErr func(candidate string, err error),
) (T, string, error) {
	var zero T
	var lastErr error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		result, err := fn(ctx, candidate)
		if err == nil {
			return result, candidate, nil
		}
		lastErr = err
		if onErr != nil {
			onErr(candidate, err)
		}
	}
	if lastErr == nil {
		return zero, "", fmt.Errorf("no candidates configured")
	}
	return zero, "", fmt.Errorf("all %d candidates failed: %w", len(candidates), lastErr)
}
