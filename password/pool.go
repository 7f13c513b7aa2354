package password

import "context"

// Pool bounds concurrent hash and verify calls on an underlying Hasher.
type Pool struct {
	hasher Hasher
	slots  chan struct{}
}

// NewPool wraps h so that at most size computations run at once. size <= 0 means 1.
func NewPool(h Hasher, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{hasher: h, slots: make(chan struct{}, size)}
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release() { <-p.slots }

// Hash waits for a free slot, then hashes password.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.release()
	return p.hasher.Hash(password)
}

// Verify waits for a free slot, then verifies password against encodedHash.
func (p *Pool) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if err := p.acquire(ctx); err != nil {
		return false, err
	}
	defer p.release()
	return p.hasher.Verify(password, encodedHash)
}

// NeedsUpgrade is not CPU-bound and bypasses the slot limit.
func (p *Pool) NeedsUpgrade(encodedHash string) (bool, error) {
	return p.hasher.NeedsUpgrade(encodedHash)
}
