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

package channel

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	EventNone  = 0
	EventRead  = unix.EPOLLIN | unix.EPOLLPRI
	EventWrite = unix.EPOLLOUT
)

// InvalidIndex marks a Channel that has never been handed to a poller.
const InvalidIndex = -1

// ReadCallback fires on readable/urgent events; receivedAt is the poll
// timestamp, used by callers that need to measure queueing latency.
type ReadCallback func(receivedAt time.Time)

// EventCallback fires on writable, closed, or error events.
type EventCallback func()

// EventLoop is the subset of the reactor a Channel needs: registering and
// unregistering itself, and checking which goroutine owns the loop. The
// reactor package implements this; channel does not import reactor, which
// keeps the dependency pointed one way.
type EventLoop interface {
	UpdateChannel(c *Channel)
	RemoveChannel(c *Channel)
	IsInLoopThread() bool
}

// Channel is a selectable I/O source: a file descriptor, the epoll interest
// set currently registered for it, and the callbacks to run when the poller
// reports activity. A Channel is owned by exactly one EventLoop and must only
// be touched from that loop's goroutine.
type Channel struct {
	loop EventLoop
	fd   int

	events  uint32
	revents uint32
	index   int

	logHangup bool

	alive         func() bool
	tied          bool
	eventHandling bool
	addedToLoop   bool

	readCallback  ReadCallback
	writeCallback EventCallback
	closeCallback EventCallback
	errorCallback EventCallback
}

// New creates a Channel for fd, owned by loop. It registers no interest
// until EnableReading/EnableWriting is called.
func New(loop EventLoop, fd int) *Channel {
	return &Channel{
		loop:      loop,
		fd:        fd,
		index:     InvalidIndex,
		logHangup: true,
	}
}

func (c *Channel) Fd() int          { return c.fd }
func (c *Channel) Events() uint32   { return c.events }
func (c *Channel) Revents() uint32  { return c.revents }
func (c *Channel) Index() int       { return c.index }
func (c *Channel) SetIndex(idx int) { c.index = idx }

// SetRevents records the events the poller reported ready; called by the
// poller just before HandleEvent.
func (c *Channel) SetRevents(revt uint32) { c.revents = revt }

func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }
func (c *Channel) IsReading() bool   { return c.events&EventRead != 0 }
func (c *Channel) IsWriting() bool   { return c.events&EventWrite != 0 }

func (c *Channel) EnableReading()  { c.events |= EventRead; c.update() }
func (c *Channel) DisableReading() { c.events &^= EventRead; c.update() }
func (c *Channel) EnableWriting()  { c.events |= EventWrite; c.update() }
func (c *Channel) DisableWriting() { c.events &^= EventWrite; c.update() }
func (c *Channel) DisableAll()     { c.events = EventNone; c.update() }

// DoNotLogHangup clears the flag reported by LogHangup. HandleEvent itself
// does not log hangups; the flag is only exposed through LogHangup.
func (c *Channel) DoNotLogHangup() { c.logHangup = false }

func (c *Channel) LogHangup() bool { return c.logHangup }

func (c *Channel) OwnerLoop() EventLoop { return c.loop }

func (c *Channel) SetReadCallback(cb ReadCallback)   { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb EventCallback) { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb EventCallback) { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb EventCallback) { c.errorCallback = cb }

// Tie binds the channel's dispatch to a liveness check, the Go substitute
// for muduo's weak_ptr<TcpConnection> tie: since the owning Connection
// outlives any GC concern, alive only needs to report whether the
// connection has already torn itself down, so a stale event from the
// previous tick of the loop doesn't re-enter closed teardown logic.
func (c *Channel) Tie(alive func() bool) {
	c.alive = alive
	c.tied = true
}

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.UpdateChannel(c)
}

// Remove unregisters the channel from its loop. The channel must have no
// events enabled before calling Remove.
func (c *Channel) Remove() error {
	if !c.IsNoneEvent() {
		return ErrorEventHandling.Error(nil)
	}
	c.addedToLoop = false
	c.loop.RemoveChannel(c)
	return nil
}

// HandleEvent dispatches revents (set via SetRevents) to the registered
// callbacks. receivedAt is passed through to the read callback.
func (c *Channel) HandleEvent(receivedAt time.Time) {
	if c.tied {
		if c.alive == nil || !c.alive() {
			return
		}
	}
	c.handleEventWithGuard(receivedAt)
}

func (c *Channel) handleEventWithGuard(receivedAt time.Time) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revents&unix.EPOLLHUP != 0 && c.revents&unix.EPOLLIN == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
		return
	}

	if c.revents&(unix.EPOLLERR) != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}

	if c.revents&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		if c.readCallback != nil {
			c.readCallback(receivedAt)
		}
	}

	if c.revents&unix.EPOLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

// EventsString renders the currently registered interest set for logging.
func (c *Channel) EventsString() string {
	return eventsToString(c.fd, c.events)
}

// ReventsString renders the last poller-reported events for logging.
func (c *Channel) ReventsString() string {
	return eventsToString(c.fd, c.revents)
}

func eventsToString(fd int, ev uint32) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(fd))
	b.WriteString(": ")
	if ev&unix.EPOLLIN != 0 {
		b.WriteString("IN ")
	}
	if ev&unix.EPOLLPRI != 0 {
		b.WriteString("PRI ")
	}
	if ev&unix.EPOLLOUT != 0 {
		b.WriteString("OUT ")
	}
	if ev&unix.EPOLLHUP != 0 {
		b.WriteString("HUP ")
	}
	if ev&unix.EPOLLRDHUP != 0 {
		b.WriteString("RDHUP ")
	}
	if ev&unix.EPOLLERR != 0 {
		b.WriteString("ERR ")
	}
	return b.String()
}
