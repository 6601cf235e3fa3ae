package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
)

const leaseReleaseTimeout = 5 * time.Second

// heldLease keeps a lease alive with Extend every ttl/3 until Release. When
// an extension fails, Context is cancelled with a domain.ErrLeaseLost cause.
type heldLease struct {
	leases ports.LeaseManager
	name   string
	token  string

	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   chan struct{}
	done   chan struct{}
}

// holdLease returns nil without error when another holder owns name.
func holdLease(ctx context.Context, leases ports.LeaseManager, name string, ttl time.Duration) (*heldLease, error) {
	token, ok, err := leases.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &heldLease{
		leases: leases,
		name:   name,
		token:  token,
		ctx:    leaseCtx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.heartbeat(ttl)
	return l, nil
}

func (l *heldLease) heartbeat(ttl time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.leases.Extend(l.ctx, l.name, l.token, ttl); err != nil {
				if l.ctx.Err() != nil {
					return
				}
				slog.Warn("lease_extend_failed", "lease", l.name, "error", err)
				if !domain.IsKind(err, domain.ErrLeaseLost) {
					err = domain.WrapError(domain.ErrLeaseLost, "extend lease "+l.name, err)
				}
				l.cancel(err)
				return
			}
		}
	}
}

// Context is cancelled when the lease is lost or released.
func (l *heldLease) Context() context.Context {
	return l.ctx
}

// Lost returns the extension failure once the heartbeat gave up the lease.
func (l *heldLease) Lost() error {
	if cause := context.Cause(l.ctx); domain.IsKind(cause, domain.ErrLeaseLost) {
		return cause
	}
	return nil
}

func (l *heldLease) Release() {
	close(l.stop)
	<-l.done

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), leaseReleaseTimeout)
	defer cancel()
	if err := l.leases.Release(releaseCtx, l.name, l.token); err != nil {
		slog.Warn("lease_release_failed", "lease", l.name, "error", err)
	}
	l.cancel(nil)
}
