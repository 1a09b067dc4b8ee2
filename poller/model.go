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

package poller

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/netreactor/channel"
)

const initEventListSize = 16

const (
	stateNew = iota - 1 // -1, matches channel.InvalidIndex
	_
	stateAdded
	stateDeleted
)

// Poller is an epoll-backed demultiplexer. It owns the epoll fd and the set
// of channels currently registered with it.
type Poller struct {
	epollFd  int
	events   []unix.EpollEvent
	channels map[int]*channel.Channel
}

// New creates an epoll instance.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, ErrorEpollCreate.Error(err)
	}
	return &Poller{
		epollFd:  fd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]*channel.Channel),
	}, nil
}

// Close releases the epoll fd. The poller must not be used afterward.
func (p *Poller) Close() error {
	return unix.Close(p.epollFd)
}

// Poll blocks up to timeoutMs milliseconds (negative means forever) waiting
// for ready events, appends the corresponding channels to activeChannels,
// and returns the time the wait returned.
func (p *Poller) Poll(timeoutMs int, activeChannels []*channel.Channel) (time.Time, []*channel.Channel, error) {
	n, err := unix.EpollWait(p.epollFd, p.events, timeoutMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, activeChannels, nil
		}
		return now, activeChannels, ErrorEpollWait.Error(err)
	}

	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		ch, ok := p.channels[fd]
		if !ok {
			continue
		}
		ch.SetRevents(p.events[i].Events)
		activeChannels = append(activeChannels, ch)
	}

	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}

	return now, activeChannels, nil
}

// UpdateChannel registers a new channel or updates/removes the interest set
// of one already registered, per its current Events()/Index().
func (p *Poller) UpdateChannel(c *channel.Channel) error {
	idx := c.Index()
	if idx == stateNew || idx == stateDeleted {
		fd := c.Fd()
		if idx == stateNew {
			p.channels[fd] = c
		}
		c.SetIndex(stateAdded)
		return p.ctl(unix.EPOLL_CTL_ADD, c)
	}

	if c.IsNoneEvent() {
		c.SetIndex(stateDeleted)
		return p.ctl(unix.EPOLL_CTL_DEL, c)
	}
	return p.ctl(unix.EPOLL_CTL_MOD, c)
}

// RemoveChannel unregisters a channel that has no events enabled.
func (p *Poller) RemoveChannel(c *channel.Channel) error {
	fd := c.Fd()
	if _, ok := p.channels[fd]; !ok {
		return ErrorUnknownChannel.Error(nil)
	}
	delete(p.channels, fd)

	if c.Index() == stateAdded {
		if err := p.ctl(unix.EPOLL_CTL_DEL, c); err != nil {
			return err
		}
	}
	c.SetIndex(stateNew)
	return nil
}

// HasChannel reports whether fd is currently registered.
func (p *Poller) HasChannel(fd int) bool {
	_, ok := p.channels[fd]
	return ok
}

func (p *Poller) ctl(op int, c *channel.Channel) error {
	ev := unix.EpollEvent{
		Events: c.Events(),
		Fd:     int32(c.Fd()),
	}
	if err := unix.EpollCtl(p.epollFd, op, c.Fd(), &ev); err != nil {
		return ErrorEpollCtl.Error(err)
	}
	return nil
}
