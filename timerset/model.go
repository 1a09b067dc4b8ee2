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

package timerset

import (
	"container/heap"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/netreactor/channel"
)

// Callback runs when a Timer fires.
type Callback func()

type timer struct {
	callback   Callback
	expiration time.Time
	interval   time.Duration
	sequence   int64
	index      int // heap position, -1 once removed
}

func (t *timer) repeats() bool { return t.interval > 0 }

type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration.Equal(h[j].expiration) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].expiration.Before(h[j].expiration)
}
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TimerSet is a single reactor's ordered collection of pending timers,
// armed through one shared timerfd registered as a Channel on that
// reactor's EventLoop.
type TimerSet struct {
	loop      channel.EventLoop
	timerFd   int
	ch        *channel.Channel
	pending   timerHeap
	byID      map[int64]*timer
	seq       int64
	numFiring bool
}

var numCreated int64

// New creates a timerfd, wraps it in a Channel registered for reading, and
// returns a TimerSet ready to schedule callbacks on loop's goroutine.
func New(loop channel.EventLoop) (*TimerSet, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, ErrorTimerfdCreate.Error(err)
	}

	ts := &TimerSet{
		loop:    loop,
		timerFd: fd,
		byID:    make(map[int64]*timer),
	}
	ts.ch = channel.New(loop, fd)
	ts.ch.SetReadCallback(func(time.Time) { ts.handleRead() })
	ts.ch.EnableReading()
	return ts, nil
}

// Close disables the timerfd channel and closes the underlying fd.
func (ts *TimerSet) Close() error {
	ts.ch.DisableAll()
	_ = ts.ch.Remove()
	return unix.Close(ts.timerFd)
}

// AddTimer schedules cb to run at when; if interval > 0 the timer reschedules
// itself after every firing. Returns an id usable with Cancel.
func (ts *TimerSet) AddTimer(cb Callback, when time.Time, interval time.Duration) int64 {
	seq := atomic.AddInt64(&numCreated, 1)
	t := &timer{
		callback:   cb,
		expiration: when,
		interval:   interval,
		sequence:   seq,
	}
	heap.Push(&ts.pending, t)
	ts.byID[seq] = t

	if len(ts.pending) > 0 && ts.pending[0] == t {
		ts.arm(when)
	}
	return seq
}

// Cancel removes a pending timer. Canceling a timer already fired or
// unknown is a no-op.
func (ts *TimerSet) Cancel(id int64) {
	t, ok := ts.byID[id]
	if !ok {
		return
	}
	delete(ts.byID, id)
	if t.index >= 0 {
		heap.Remove(&ts.pending, t.index)
	}
}

func (ts *TimerSet) handleRead() {
	var buf [8]byte
	if _, err := unix.Read(ts.timerFd, buf[:]); err != nil && err != unix.EAGAIN {
		return
	}

	now := time.Now()
	expired := ts.getExpired(now)

	ts.numFiring = true
	for _, t := range expired {
		t.callback()
	}
	ts.numFiring = false

	ts.reset(expired, now)
}

func (ts *TimerSet) getExpired(now time.Time) []*timer {
	var expired []*timer
	for len(ts.pending) > 0 && !ts.pending[0].expiration.After(now) {
		t := heap.Pop(&ts.pending).(*timer)
		expired = append(expired, t)
	}
	return expired
}

func (ts *TimerSet) reset(expired []*timer, now time.Time) {
	for _, t := range expired {
		// A callback may have cancelled its own (or another expired) timer
		// while numFiring was true; Cancel already removed it from byID
		// since index<0 left nothing for heap.Remove to do there, so byID
		// membership is the only record of that. Honor it here rather than
		// blindly re-inserting a cancelled repeating timer.
		if _, live := ts.byID[t.sequence]; !live {
			continue
		}
		if t.repeats() {
			t.expiration = now.Add(t.interval)
			heap.Push(&ts.pending, t)
		} else {
			delete(ts.byID, t.sequence)
		}
	}

	if len(ts.pending) > 0 {
		ts.arm(ts.pending[0].expiration)
	}
}

func (ts *TimerSet) arm(when time.Time) error {
	d := time.Until(when)
	if d < 0 {
		d = 0
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if spec.Value.Sec == 0 && spec.Value.Nsec == 0 {
		// timerfd_settime treats an all-zero Value as "disarm"; nudge it so a
		// zero-delay timer still fires promptly.
		spec.Value.Nsec = 1
	}
	if err := unix.TimerfdSettime(ts.timerFd, 0, &spec, nil); err != nil {
		return ErrorTimerfdSettime.Error(err)
	}
	return nil
}

// Len reports the number of timers currently pending.
func (ts *TimerSet) Len() int { return len(ts.pending) }
