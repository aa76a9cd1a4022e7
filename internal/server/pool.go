package server

import (
	"context"
	"net"
	"sync"

	"github.com/eapache/queue"
	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"go.uber.org/zap"
)

// pool runs a fixed number of workers. Each accepted connection is owned by
// exactly one worker for its whole lifetime; connections beyond the worker
// count wait in a FIFO backlog.
type pool struct {
	handle func(net.Conn)

	mu      sync.Mutex
	cond    *sync.Cond
	backlog *queue.Queue
	busy    int
	closed  bool

	wg sync.WaitGroup
}

func newPool(workers int, handle func(net.Conn)) *pool {
	if workers < 1 {
		workers = 1
	}
	p := &pool{
		handle:  handle,
		backlog: queue.New(),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues conn without blocking.
func (p *pool) Submit(conn net.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.backlog.Add(conn)
	p.cond.Signal()
	return nil
}

func (p *pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.backlog.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.backlog.Length() == 0 {
			p.mu.Unlock()
			return
		}
		conn := p.backlog.Remove().(net.Conn)
		p.busy++
		p.mu.Unlock()

		p.serve(conn)

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}
}

// serve runs the handler for one connection. A panic is logged and the
// connection closed so the worker keeps running.
func (p *pool) serve(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Connection handler panicked",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			_ = conn.Close()
		}
	}()
	p.handle(conn)
}

// Stats returns the number of connections being served and waiting.
func (p *pool) Stats() (busy, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy, p.backlog.Length()
}

// Close stops accepting work, closes connections that never reached a
// worker and waits for running workers until ctx expires.
func (p *pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for p.backlog.Length() > 0 {
			conn := p.backlog.Remove().(net.Conn)
			logging.Debug("Closing queued connection",
				zap.String("remote_addr", conn.RemoteAddr().String()),
			)
			_ = conn.Close()
		}
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
