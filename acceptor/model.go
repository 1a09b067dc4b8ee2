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

package acceptor

import (
	"time"

	"golang.org/x/sys/unix"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/sabouaram/netreactor/channel"
	"github.com/sabouaram/netreactor/ioutils/fileDescriptor"
	"github.com/sabouaram/netreactor/sockops"
)

// desiredFdLimit is the soft limit the acceptor tries to raise the process
// to before it ever opens its listening socket, so a connection storm
// hits this ceiling rather than an arbitrary inherited default.
const desiredFdLimit = 65536

// NewConnectionCallback is invoked on the acceptor's owning reactor
// goroutine with the fd and address of a just-accepted connection. If it
// is nil, accepted connections are closed immediately.
type NewConnectionCallback func(fd int, peerAddr string)

// Acceptor owns a listening socket's Channel and reacts to incoming
// connections on its owning EventLoop's goroutine.
type Acceptor struct {
	loop   channel.EventLoop
	log    hclog.Logger
	listenFd int
	ch     *channel.Channel

	newConnCb NewConnectionCallback
	listening bool
	idleFd    int
}

// New raises the process file descriptor limit if needed, creates,
// binds, and registers a non-blocking listening socket for addr, owned by
// loop. Listen must be called separately to start accepting.
func New(loop channel.EventLoop, addr string, reusePort bool, log hclog.Logger) (*Acceptor, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	if cur, _, err := fileDescriptor.SystemFileDescriptor(desiredFdLimit); err == nil {
		log.Debug("file descriptor limit", "current", cur)
	} else {
		log.Warn("cannot raise file descriptor limit", "error", err)
	}

	sa, family, err := sockops.ResolveTCPAddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := sockops.CreateNonblocking(family)
	if err != nil {
		return nil, err
	}

	if err = sockops.SetReuseAddr(fd, true); err != nil {
		sockops.Close(fd)
		return nil, err
	}
	if err = sockops.SetReusePort(fd, reusePort); err != nil {
		sockops.Close(fd)
		return nil, err
	}

	if err = sockops.BindAndListen(fd, sa, 0); err != nil {
		sockops.Close(fd)
		return nil, ErrorListenSocket.Error(err)
	}

	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		sockops.Close(fd)
		return nil, ErrorIdleFd.Error(err)
	}

	a := &Acceptor{
		loop:     loop,
		log:      log,
		listenFd: fd,
		idleFd:   idleFd,
	}
	a.ch = channel.New(loop, fd)
	a.ch.SetReadCallback(func(time.Time) { a.handleRead() })
	return a, nil
}

// SetNewConnectionCallback sets the callback run for every accepted
// connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnCb = cb
}

// Listening reports whether Listen has been called.
func (a *Acceptor) Listening() bool { return a.listening }

// Fd returns the listening socket's file descriptor.
func (a *Acceptor) Fd() int { return a.listenFd }

// Listen starts accepting on the listening socket. Must run on the owning
// reactor's goroutine.
func (a *Acceptor) Listen() {
	a.listening = true
	a.ch.EnableReading()
}

// Close stops accepting and releases both the listening socket and the
// reserved idle descriptor.
func (a *Acceptor) Close() error {
	a.ch.DisableAll()
	_ = a.ch.Remove()
	_ = unix.Close(a.idleFd)
	return sockops.Close(a.listenFd)
}

func (a *Acceptor) handleRead() {
accept:
	fd, peerAddr, err := sockops.Accept(a.listenFd)
	if err == nil {
		if a.newConnCb != nil {
			a.newConnCb(fd, peerAddr)
		} else {
			sockops.Close(fd)
		}
		goto accept
	}
	if err == unix.EAGAIN {
		return
	}

	a.log.Warn("accept failed", "error", err)
	// See "The special problem of accept()ing when you can't" in libev's
	// docs: on EMFILE, free one descriptor, accept-and-drop the pending
	// connection to clear it off the listen queue, then reopen the spare.
	if err == unix.EMFILE {
		unix.Close(a.idleFd)
		a.idleFd, _, _ = unix.Accept(a.listenFd)
		unix.Close(a.idleFd)
		a.idleFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	}
}
