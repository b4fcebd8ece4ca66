package conduit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roach88/calsync/internal/xpod"
)

// Loopback delivers messages to handlers registered in the same process.
// Messages and responses go through their JSON encoding, as they would
// over HTTP.
//
// Thread-safety: Loopback is safe for concurrent use.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string]xpod.Handler
}

// NewLoopback returns an empty loopback conduit.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[string]xpod.Handler)}
}

// Register makes h the handler of pod.
func (l *Loopback) Register(pod string, h xpod.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[pod] = h
}

// Send dispatches m to the handler of pod.
func (l *Loopback) Send(ctx context.Context, pod string, m xpod.Message) (*xpod.Response, error) {
	l.mu.RLock()
	h, ok := l.handlers[pod]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown pod %q", pod)
	}
	body, err := xpod.Encode(m)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(xpod.Dispatch(ctx, h, body))
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var out xpod.Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
