// Package filter provides composable channel middleware for filtering
// turn update streams. Consumers wrap Turn.Updates() with these
// functions to select the update granularity they need.
package filter

import (
	"context"

	"github.com/dmora/acpbridge"
)

// Filter returns a channel that only passes updates of the given types.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
// The returned channel is closed when the goroutine exits.
func Filter(ctx context.Context, ch <-chan acpbridge.Update, types ...acpbridge.UpdateType) <-chan acpbridge.Update {
	allowed := make(map[acpbridge.UpdateType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return pipe(ctx, ch, func(u acpbridge.Update) bool {
		_, ok := allowed[u.Type]
		return ok
	})
}

// TextOnly returns a channel that passes only text chunks. Spawns a
// goroutine that exits when ctx is cancelled or ch is closed.
func TextOnly(ctx context.Context, ch <-chan acpbridge.Update) <-chan acpbridge.Update {
	return pipe(ctx, ch, func(u acpbridge.Update) bool {
		return u.Type == acpbridge.UpdateTextChunk
	})
}

// ToolCallsOnly returns a channel that passes only tool call updates
// (requests and status changes). Spawns a goroutine that exits when ctx
// is cancelled or ch is closed.
func ToolCallsOnly(ctx context.Context, ch <-chan acpbridge.Update) <-chan acpbridge.Update {
	return pipe(ctx, ch, func(u acpbridge.Update) bool {
		return u.Type == acpbridge.UpdateToolCallRequested ||
			u.Type == acpbridge.UpdateToolCallStatus
	})
}

// pipe spawns a goroutine that reads from ch, passes updates matching
// the predicate to the returned channel, and closes it when ch closes
// or ctx is cancelled. Callers must either drain the returned channel
// or cancel ctx to avoid goroutine leaks. Updates accepted by the
// predicate may be silently dropped if ctx is cancelled mid-send.
func pipe(ctx context.Context, ch <-chan acpbridge.Update, accept func(acpbridge.Update) bool) <-chan acpbridge.Update {
	out := make(chan acpbridge.Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-ch:
				if !ok {
					return
				}
				if accept(u) && !trySend(ctx, out, u) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends u on out, returning true on success.
// Returns false if ctx is cancelled before the send completes.
func trySend(ctx context.Context, out chan<- acpbridge.Update, u acpbridge.Update) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
