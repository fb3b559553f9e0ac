package source

import (
	"context"
	"fmt"
	"io"
	"time"
)

// timeoutReadCloser bounds each Read with a timeout and honors context
// cancellation. Relies on context cancellation (which closes the underlying
// response body) to clean up the spawned read goroutine.
type timeoutReadCloser struct {
	rc      io.ReadCloser
	ctx     context.Context
	timeout time.Duration
}

func (t *timeoutReadCloser) Read(p []byte) (int, error) {
	select {
	case <-t.ctx.Done():
		return 0, t.ctx.Err()
	default:
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	// The goroutine reads into a buffer it owns. If the read completes
	// after a timeout or cancellation it must not touch p, which the
	// caller is free to reuse by then.
	buf := make([]byte, len(p))
	go func() {
		n, err := t.rc.Read(buf)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		copy(p, buf[:res.n])
		return res.n, res.err
	case <-timer.C:
		return 0, fmt.Errorf("read timeout: no data received for %v", t.timeout)
	case <-t.ctx.Done():
		return 0, t.ctx.Err()
	}
}

func (t *timeoutReadCloser) Close() error {
	return t.rc.Close()
}
