package control

import "context"

// ioPool bounds the goroutines performing blocking device I/O so the control
// loop never holds its critical section while waiting on hardware.
type ioPool struct {
	sem chan struct{}
}

func newIOPool(size int) *ioPool {
	if size < 1 {
		size = 1
	}
	return &ioPool{sem: make(chan struct{}, size)}
}

// do runs fn on a pool slot and returns a channel delivering its result. The
// caller waits only for the specific call it issued.
func (p *ioPool) do(ctx context.Context, fn func(context.Context) error) <-chan error {
	res := make(chan error, 1)
	go func() {
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			res <- ctx.Err()
			return
		}
		res <- fn(ctx)
	}()
	return res
}
