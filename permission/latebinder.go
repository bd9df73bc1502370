package permission

import (
	"context"
	"errors"
	"sync"

	acp "github.com/coder/acp-go-sdk"
)

// LateBinder is a PermissionRequester whose target is supplied after
// construction. The runtime's gate is fixed at build time, but the
// editor connection it asks through does not exist until serving
// starts; the binder bridges that gap. Requests before Bind deny by
// erroring, which the runtime treats as a denial.
type LateBinder struct {
	mu     sync.RWMutex
	target PermissionRequester
}

// Bind sets the live connection. Safe to call once serving starts.
func (b *LateBinder) Bind(target PermissionRequester) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = target
}

func (b *LateBinder) RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	b.mu.RLock()
	target := b.target
	b.mu.RUnlock()
	if target == nil {
		return acp.RequestPermissionResponse{}, errors.New("permission: no editor connection bound")
	}
	return target.RequestPermission(ctx, params)
}
