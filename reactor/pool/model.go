/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package pool

import (
	"fmt"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	libpol "github.com/sabouaram/netreactor/errors/pool"
	"github.com/sabouaram/netreactor/reactor"
)

// InitCallback runs once on each worker reactor's own goroutine right
// before it starts looping, letting callers attach per-worker state.
type InitCallback func(r *reactor.Reactor)

// Pool owns a fixed set of worker reactors, each running on its own
// goroutine, and the base reactor (usually the acceptor's) that created it.
type Pool struct {
	base *reactor.Reactor
	name string
	log  hclog.Logger

	mu      sync.Mutex
	started bool
	next    int

	workers []*reactor.Reactor
	wg      sync.WaitGroup
}

// New creates a pool named name, backed by base for when threadCount is 0.
func New(base *reactor.Reactor, name string, log hclog.Logger) *Pool {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Pool{base: base, name: name, log: log}
}

// Name returns the pool's configured name.
func (p *Pool) Name() string { return p.name }

// Started reports whether Start has been called.
func (p *Pool) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Start creates threadCount worker reactors, starts their loops on fresh
// goroutines, and runs init on each from within its own goroutine before
// it begins looping. Must be called from the base reactor's own goroutine.
func (p *Pool) Start(threadCount int, init InitCallback) error {
	p.base.AssertInLoopThread()

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrorAlreadyStarted.Error(nil)
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < threadCount; i++ {
		label := fmt.Sprintf("%s%d", p.name, i)
		r, err := reactor.New(label, i, p.log)
		if err != nil {
			return err
		}
		p.workers = append(p.workers, r)

		p.wg.Add(1)
		go func(r *reactor.Reactor) {
			defer p.wg.Done()
			if init != nil {
				init(r)
			}
			r.Loop()
		}(r)
	}

	if threadCount == 0 && init != nil {
		init(p.base)
	}
	return nil
}

// NextLoop returns the next worker reactor round-robin, or the base
// reactor if the pool has zero worker threads.
func (p *Pool) NextLoop() *reactor.Reactor {
	p.base.AssertInLoopThread()

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) == 0 {
		return p.base
	}
	r := p.workers[p.next]
	p.next = (p.next + 1) % len(p.workers)
	return r
}

// NextForHash returns the worker reactor owning hashCode, always the same
// reactor for the same hashCode as long as the pool size doesn't change;
// used to pin a connection's traffic to one worker for its whole life.
func (p *Pool) NextForHash(hashCode uint64) *reactor.Reactor {
	p.base.AssertInLoopThread()

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) == 0 {
		return p.base
	}
	return p.workers[hashCode%uint64(len(p.workers))]
}

// AllLoops returns every worker reactor, or a single-element slice holding
// the base reactor if the pool has zero worker threads.
func (p *Pool) AllLoops() []*reactor.Reactor {
	p.base.AssertInLoopThread()

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) == 0 {
		return []*reactor.Reactor{p.base}
	}
	out := make([]*reactor.Reactor, len(p.workers))
	copy(out, p.workers)
	return out
}

// Shutdown asks every worker reactor to quit, waits for their goroutines to
// return, and closes their resources, aggregating any close errors.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	workers := make([]*reactor.Reactor, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, r := range workers {
		r.Quit()
	}
	p.wg.Wait()

	errs := libpol.New()
	for _, r := range workers {
		errs.Add(r.Close())
	}
	return errs.Error()
}
