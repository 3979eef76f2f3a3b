package gameserver

import (
	"context"
	"sync"

	"github.com/xqdev/xqgo/internal/protocol"
)

const defaultWorkers = 4

// job is one parsed inbound message awaiting a worker.
type job struct {
	client *Client
	msg    protocol.Message
}

// Pool is the dispatch pool: a fixed set of workers draining a shared
// unbounded FIFO. Workers run one handler to completion at a time; messages
// from one connection may interleave across workers, and handlers take
// fine-grained locks accordingly.
type Pool struct {
	handle func(context.Context, *Client, protocol.Message)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []job
	closed bool

	workers int
	wg      sync.WaitGroup
}

// NewPool creates a dispatch pool with the given worker count.
func NewPool(workers int, handle func(context.Context, *Client, protocol.Message)) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	p := &Pool{
		handle:  handle,
		workers: workers,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. They exit when Stop is called and the queue
// has drained.
func (p *Pool) Start(ctx context.Context) {
	for range p.workers {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit enqueues a message for handling. After Stop the message is dropped.
func (p *Pool) Submit(client *Client, msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, job{client: client, msg: msg})
	p.cond.Signal()
}

// Stop marks the pool closed and waits for the workers to drain and exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// Pending returns the queue depth, used by tests and diagnostics.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.handle(ctx, j.client, j.msg)
	}
}
