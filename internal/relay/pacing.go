package relay

import (
	"context"
	"sync"
	"time"

	"alibi/backend/internal/openrouter"
)

// pacedUpstream spaces the start of upstream calls by at least minInterval.
// It protects the shared provider key from bursts across all users.
type pacedUpstream struct {
	inner       Upstream
	minInterval time.Duration

	mu            sync.Mutex
	nextAllowedAt time.Time
}

// Paced wraps inner so upstream calls start no closer together than
// minInterval. A non-positive interval returns inner unchanged.
func Paced(inner Upstream, minInterval time.Duration) Upstream {
	if inner == nil || minInterval <= 0 {
		return inner
	}
	return &pacedUpstream{inner: inner, minInterval: minInterval}
}

func (p *pacedUpstream) StreamChatCompletion(
	ctx context.Context,
	apiKey string,
	req openrouter.StreamRequest,
	onStart func() error,
	onDelta func(string) error,
	onUsage func(openrouter.Usage) error,
) error {
	if err := p.waitTurn(ctx); err != nil {
		return err
	}
	return p.inner.StreamChatCompletion(ctx, apiKey, req, onStart, onDelta, onUsage)
}

func (p *pacedUpstream) waitTurn(ctx context.Context) error {
	for {
		p.mu.Lock()
		now := time.Now()
		if p.nextAllowedAt.IsZero() || !p.nextAllowedAt.After(now) {
			p.nextAllowedAt = now.Add(p.minInterval)
			p.mu.Unlock()
			return nil
		}
		wait := time.Until(p.nextAllowedAt)
		p.mu.Unlock()

		if err := waitWithContext(ctx, wait); err != nil {
			return err
		}
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
