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

package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/sabouaram/netreactor/channel"
	"github.com/sabouaram/netreactor/poller"
	"github.com/sabouaram/netreactor/timerset"
)

// defaultPollTimeout bounds every demultiplexer wait so Quit is observed
// even if nothing ever wakes the reactor up.
const defaultPollTimeout = 10 * time.Second

// Functor is a unit of work queued to run on a reactor's own goroutine.
type Functor func()

// Reactor is an event loop: a demultiplexer, a timer set, and a pending-task
// queue drained every iteration, plus a wakeup descriptor so other
// goroutines can interrupt a blocked epoll_wait. At most one Reactor runs
// on any given goroutine.
type Reactor struct {
	label string
	index int

	log hclog.Logger

	poll     *poller.Poller
	timers   *timerset.TimerSet
	wakeFd   int
	wakeCh   *channel.Channel
	channels map[int]*channel.Channel

	mu      sync.Mutex
	pending []Functor

	quitting atomic.Bool
	looping  atomic.Bool

	loopGoid atomic.Uint64

	iteration     int64
	pollReturn    time.Time
	eventHandling bool
	runningTasks  bool

	context atomic.Value
}

// New creates a Reactor identified by label (used only for logging); index
// is the reactor's position in its owning Pool, or 0 for a standalone
// reactor. The reactor does not start looping until Loop is called.
func New(label string, index int, log hclog.Logger) (*Reactor, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	p, err := poller.New()
	if err != nil {
		return nil, err
	}

	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, ErrorWakeupCreate.Error(err)
	}

	r := &Reactor{
		label:    label,
		index:    index,
		log:      log.Named(label),
		poll:     p,
		wakeFd:   fd,
		channels: make(map[int]*channel.Channel),
	}

	r.wakeCh = channel.New(r, fd)
	r.wakeCh.SetReadCallback(func(time.Time) { r.handleWakeup() })
	r.wakeCh.EnableReading()

	timers, err := timerset.New(r)
	if err != nil {
		return nil, err
	}
	r.timers = timers

	return r, nil
}

// Label is the human-readable identity fixed when this reactor was created.
func (r *Reactor) Label() string { return r.label }

// Index is this reactor's position within its owning pool.
func (r *Reactor) Index() int { return r.index }

// SetContext stores an arbitrary value reachable from callbacks running on
// this reactor, mirroring TcpServer's per-loop context slot.
func (r *Reactor) SetContext(v interface{}) { r.context.Store(v) }

// Context returns the value last stored with SetContext, or nil.
func (r *Reactor) Context() interface{} { return r.context.Load() }

// PollReturnTime is the timestamp the most recent demultiplexer wait
// returned at.
func (r *Reactor) PollReturnTime() time.Time { return r.pollReturn }

// Iteration counts how many times the loop has gone around.
func (r *Reactor) Iteration() int64 { return atomic.LoadInt64(&r.iteration) }

// IsInLoopThread reports whether the calling goroutine is this reactor's
// own loop goroutine.
func (r *Reactor) IsInLoopThread() bool {
	return r.loopGoid.Load() == currentGoroutineID()
}

// AssertInLoopThread panics with a CodeError if called off the reactor's
// own goroutine; used to guard internal invariants the same way muduo's
// assertInLoopThread does.
func (r *Reactor) AssertInLoopThread() {
	if !r.IsInLoopThread() {
		panic(ErrorNotOwnerThread.Error(nil))
	}
}

// Loop runs the event loop until Quit is called. It must be called from the
// goroutine that will own this reactor for its whole lifetime.
func (r *Reactor) Loop() {
	if !r.looping.CompareAndSwap(false, true) {
		return
	}
	defer r.looping.Store(false)

	r.loopGoid.Store(currentGoroutineID())

	active := make([]*channel.Channel, 0, 16)
	for !r.quitting.Load() {
		active = active[:0]

		now, ready, err := r.poll.Poll(int(defaultPollTimeout/time.Millisecond), active)
		if err != nil {
			r.log.Error("poll failed", "error", err)
			continue
		}
		active = ready
		r.pollReturn = now
		atomic.AddInt64(&r.iteration, 1)

		r.eventHandling = true
		for _, c := range active {
			c.HandleEvent(r.pollReturn)
		}
		r.eventHandling = false

		r.doPendingFunctors()
	}
}

// Quit asks the loop to stop after it finishes its current iteration.
// Safe to call from any goroutine.
func (r *Reactor) Quit() {
	r.quitting.Store(true)
	if !r.IsInLoopThread() {
		r.wakeup()
	}
}

// Enqueue schedules f to run on the reactor's own goroutine on a later
// iteration, waking it up if necessary. Safe to call from any goroutine.
func (r *Reactor) Enqueue(f Functor) {
	r.mu.Lock()
	r.pending = append(r.pending, f)
	needWake := r.runningTasks || !r.IsInLoopThread()
	r.mu.Unlock()

	// Always wake on the cross-thread path, and also wake when called from
	// the owner thread while it is already draining tasks: the loop won't
	// see the append above until its next pass, so skipping the wakeup here
	// would leave f stranded until some unrelated event fires.
	if needWake {
		r.wakeup()
	}
}

// RunInReactor runs f immediately if called from the reactor's own
// goroutine, otherwise it behaves exactly like Enqueue.
func (r *Reactor) RunInReactor(f Functor) {
	if r.IsInLoopThread() {
		f()
		return
	}
	r.Enqueue(f)
}

// QueueSize reports how many tasks are waiting to run.
func (r *Reactor) QueueSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Reactor) doPendingFunctors() {
	r.mu.Lock()
	tasks := r.pending
	r.pending = nil
	r.runningTasks = true
	r.mu.Unlock()

	for _, f := range tasks {
		f()
	}

	r.mu.Lock()
	r.runningTasks = false
	r.mu.Unlock()
}

func (r *Reactor) wakeup() {
	var one [8]byte
	one[7] = 1
	if _, err := unix.Write(r.wakeFd, one[:]); err != nil && err != unix.EAGAIN {
		r.log.Warn("wakeup write failed", "error", err)
	}
}

func (r *Reactor) handleWakeup() {
	var buf [8]byte
	if _, err := unix.Read(r.wakeFd, buf[:]); err != nil && err != unix.EAGAIN {
		r.log.Warn("wakeup read failed", "error", err)
	}
}

// UpdateChannel implements channel.EventLoop.
func (r *Reactor) UpdateChannel(c *channel.Channel) {
	r.channels[c.Fd()] = c
	if err := r.poll.UpdateChannel(c); err != nil {
		r.log.Error("update channel failed", "fd", c.Fd(), "error", err)
	}
}

// RemoveChannel implements channel.EventLoop.
func (r *Reactor) RemoveChannel(c *channel.Channel) {
	delete(r.channels, c.Fd())
	if err := r.poll.RemoveChannel(c); err != nil {
		r.log.Error("remove channel failed", "fd", c.Fd(), "error", err)
	}
}

// HasChannel reports whether fd is currently registered with this reactor.
func (r *Reactor) HasChannel(fd int) bool {
	_, ok := r.channels[fd]
	return ok
}

// RunAt schedules cb to run once at when.
func (r *Reactor) RunAt(when time.Time, cb timerset.Callback) int64 {
	return r.timers.AddTimer(cb, when, 0)
}

// RunAfter schedules cb to run once after delay elapses.
func (r *Reactor) RunAfter(delay time.Duration, cb timerset.Callback) int64 {
	return r.timers.AddTimer(cb, time.Now().Add(delay), 0)
}

// RunEvery schedules cb to run repeatedly every interval, starting after one
// interval elapses.
func (r *Reactor) RunEvery(interval time.Duration, cb timerset.Callback) int64 {
	return r.timers.AddTimer(cb, time.Now().Add(interval), interval)
}

// CancelTimer cancels a timer previously returned by RunAt/RunAfter/RunEvery.
func (r *Reactor) CancelTimer(id int64) {
	r.timers.Cancel(id)
}

// Close releases the wakeup descriptor, the timer set, and the poller. Loop
// must have returned before calling Close.
func (r *Reactor) Close() error {
	r.wakeCh.DisableAll()
	_ = r.wakeCh.Remove()
	if err := unix.Close(r.wakeFd); err != nil {
		return err
	}
	if err := r.timers.Close(); err != nil {
		return err
	}
	return r.poll.Close()
}
