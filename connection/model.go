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

package connection

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	libatm "github.com/sabouaram/netreactor/atomic"
	"github.com/sabouaram/netreactor/buffer"
	"github.com/sabouaram/netreactor/channel"
	"github.com/sabouaram/netreactor/reactor"
	"github.com/sabouaram/netreactor/sockops"
)

// defaultHighWaterMark matches muduo's default: once the output buffer
// backs up past this many bytes, HighWaterMarkCallback fires once.
const defaultHighWaterMark = 64 * 1024 * 1024

type state int32

const (
	stateConnecting state = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	case stateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type (
	// ConnectionCallback fires when a connection becomes established and
	// again when it goes down.
	ConnectionCallback func(c *Connection)
	// MessageCallback fires whenever bytes were read into the input buffer.
	MessageCallback func(c *Connection, in *buffer.Buffer, receivedAt time.Time)
	// WriteCompleteCallback fires once the output buffer has fully drained.
	WriteCompleteCallback func(c *Connection)
	// HighWaterMarkCallback fires once when the output buffer's backlog
	// crosses the configured high water mark.
	HighWaterMarkCallback func(c *Connection, backlog int)
	// CloseCallback fires once, after ConnectionCallback's down-transition,
	// letting the owning server remove this connection from its registry.
	CloseCallback func(c *Connection)
)

// DefaultMessageCallback discards whatever was read; useful as a
// placeholder before a real MessageCallback is wired up.
func DefaultMessageCallback(_ *Connection, in *buffer.Buffer, _ time.Time) {
	in.ConsumeAll()
}

// Connection is an established TCP socket bound to a Channel on one
// reactor, with its own input/output Buffer and connect/message/close
// callbacks.
type Connection struct {
	loop *reactor.Reactor
	name string
	fd   int

	state   atomic.Int32
	reading bool

	ch        *channel.Channel
	localAddr string
	peerAddr  string
	input     *buffer.Buffer
	output    *buffer.Buffer
	highWater int

	connectionCb    ConnectionCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterMarkCb HighWaterMarkCallback
	closeCb         CloseCallback

	context libatm.Value[interface{}]
}

// New wraps an already-accepted, non-blocking socket fd as a Connection
// owned by loop. ConnectEstablished must be called once, from loop's own
// goroutine, before the connection starts delivering events.
func New(loop *reactor.Reactor, name string, fd int, localAddr, peerAddr string) *Connection {
	c := &Connection{
		loop:      loop,
		name:      name,
		fd:        fd,
		localAddr: localAddr,
		peerAddr:  peerAddr,
		input:     buffer.New(buffer.InitialSize),
		output:    buffer.New(buffer.InitialSize),
		highWater: defaultHighWaterMark,
		reading:   true,
		context:   libatm.NewValue[interface{}](),
	}
	c.state.Store(int32(stateConnecting))

	c.ch = channel.New(loop, fd)
	c.ch.SetReadCallback(c.handleRead)
	c.ch.SetWriteCallback(c.handleWrite)
	c.ch.SetCloseCallback(c.handleClose)
	c.ch.SetErrorCallback(c.handleError)

	_ = sockops.SetKeepAlive(fd, true)
	return c
}

func (c *Connection) currentState() state { return state(c.state.Load()) }

// Name is the identity this connection was created with.
func (c *Connection) Name() string { return c.name }

// LocalAddr is the local "ip:port" this connection is bound to.
func (c *Connection) LocalAddr() string { return c.localAddr }

// PeerAddr is the remote "ip:port" this connection is talking to.
func (c *Connection) PeerAddr() string { return c.peerAddr }

// Fd is the underlying socket file descriptor.
func (c *Connection) Fd() int { return c.fd }

// Loop is the reactor this connection is bound to.
func (c *Connection) Loop() *reactor.Reactor { return c.loop }

// Connected reports whether the connection has completed its handshake and
// has not yet started disconnecting.
func (c *Connection) Connected() bool { return c.currentState() == stateConnected }

// Disconnected reports whether the connection has fully torn down.
func (c *Connection) Disconnected() bool { return c.currentState() == stateDisconnected }

// IsReading reports whether read events are currently enabled.
func (c *Connection) IsReading() bool { return c.reading }

// InputBuffer is the buffer handleRead appends into and MessageCallback
// consumes from.
func (c *Connection) InputBuffer() *buffer.Buffer { return c.input }

// OutputBuffer is the buffer Send appends to once a write would block.
func (c *Connection) OutputBuffer() *buffer.Buffer { return c.output }

// SetContext stores an arbitrary value alongside the connection, for
// protocol state a MessageCallback needs to carry between invocations.
func (c *Connection) SetContext(v interface{}) { c.context.Store(v) }

// Context returns the value last stored with SetContext, or nil.
func (c *Connection) Context() interface{} { return c.context.Load() }

func (c *Connection) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCb = cb }
func (c *Connection) SetMessageCallback(cb MessageCallback)             { c.messageCb = cb }
func (c *Connection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCb = cb }

// SetHighWaterMarkCallback arms cb to fire once per crossing, when the
// output buffer's unsent backlog passes mark bytes.
func (c *Connection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCb = cb
	c.highWater = mark
}

// SetCloseCallback is for internal use by the listener server that created
// this connection, to learn when to drop it from its registry.
func (c *Connection) SetCloseCallback(cb CloseCallback) { c.closeCb = cb }

// SetTCPNoDelay toggles Nagle's algorithm on the underlying socket.
func (c *Connection) SetTCPNoDelay(on bool) error {
	return sockops.SetTCPNoDelay(c.fd, on)
}

// Send queues data for delivery, writing inline when possible and
// buffering the remainder for the Channel's write callback to drain. Safe
// to call from any goroutine.
func (c *Connection) Send(data []byte) {
	if c.currentState() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
	} else {
		cp := append([]byte(nil), data...)
		c.loop.Enqueue(func() { c.sendInLoop(cp) })
	}
}

// SendBuffer queues the entirety of buf's readable bytes and consumes them
// from buf, mirroring TcpConnection::send(Buffer*)'s swap semantics.
func (c *Connection) SendBuffer(buf *buffer.Buffer) {
	if c.currentState() != stateConnected {
		return
	}
	data := append([]byte(nil), buf.Peek()...)
	buf.ConsumeAll()
	c.Send(data)
}

func (c *Connection) sendInLoop(data []byte) {
	if c.currentState() == stateDisconnected {
		return
	}

	var written int
	var faultError bool

	if !c.ch.IsWriting() && c.output.ReadableBytes() == 0 {
		n, err := sockops.Write(c.fd, data)
		if n >= 0 {
			written = n
			if written == len(data) && c.writeCompleteCb != nil {
				cb := c.writeCompleteCb
				c.loop.Enqueue(func() { cb(c) })
			}
		} else if err != unix.EAGAIN {
			if err == unix.EPIPE || err == unix.ECONNRESET {
				faultError = true
			}
		}
	}

	if faultError {
		return
	}

	remaining := data[written:]
	if len(remaining) == 0 {
		return
	}

	oldLen := c.output.ReadableBytes()
	if oldLen+len(remaining) >= c.highWater && oldLen < c.highWater && c.highWaterMarkCb != nil {
		cb := c.highWaterMarkCb
		backlog := oldLen + len(remaining)
		c.loop.Enqueue(func() { cb(c, backlog) })
	}

	c.output.Append(remaining)
	if !c.ch.IsWriting() {
		c.ch.EnableWriting()
	}
}

// Shutdown half-closes the write side once any queued output has drained.
// Not safe to call concurrently with itself.
func (c *Connection) Shutdown() {
	if c.currentState() != stateConnected {
		return
	}
	c.state.Store(int32(stateDisconnecting))
	c.loop.RunInReactor(c.shutdownInLoop)
}

func (c *Connection) shutdownInLoop() {
	if !c.ch.IsWriting() {
		_ = sockops.ShutdownWrite(c.fd)
	}
}

// ForceClose tears the connection down immediately, discarding any queued
// output.
func (c *Connection) ForceClose() {
	st := c.currentState()
	if st == stateConnected || st == stateDisconnecting {
		c.state.Store(int32(stateDisconnecting))
		c.loop.Enqueue(c.forceCloseInLoop)
	}
}

// ForceCloseWithDelay tears the connection down after delay elapses,
// unless it has already gone down on its own.
func (c *Connection) ForceCloseWithDelay(delay time.Duration) {
	st := c.currentState()
	if st == stateConnected || st == stateDisconnecting {
		c.state.Store(int32(stateDisconnecting))
		c.loop.RunAfter(delay, c.ForceClose)
	}
}

func (c *Connection) forceCloseInLoop() {
	st := c.currentState()
	if st == stateConnected || st == stateDisconnecting {
		c.handleClose()
	}
}

// StartRead re-enables read events after StopRead.
func (c *Connection) StartRead() {
	c.loop.RunInReactor(c.startReadInLoop)
}

func (c *Connection) startReadInLoop() {
	if !c.reading || !c.ch.IsReading() {
		c.ch.EnableReading()
		c.reading = true
	}
}

// StopRead disables read events without affecting writes.
func (c *Connection) StopRead() {
	c.loop.RunInReactor(c.stopReadInLoop)
}

func (c *Connection) stopReadInLoop() {
	if c.reading || c.ch.IsReading() {
		c.ch.DisableReading()
		c.reading = false
	}
}

// ConnectEstablished ties the Channel to this connection's liveness,
// enables reading, and fires ConnectionCallback. Called once by whatever
// accepted this connection, from loop's own goroutine.
func (c *Connection) ConnectEstablished() {
	c.state.Store(int32(stateConnected))
	c.ch.Tie(func() bool { return c.currentState() != stateDisconnected })
	c.ch.EnableReading()
	if c.connectionCb != nil {
		c.connectionCb(c)
	}
}

// ConnectDestroyed unregisters the Channel, closes the underlying socket,
// and fires ConnectionCallback's down transition if it had not already run.
// Called once, from loop's own goroutine, after this connection has been
// removed from its owner's registry.
func (c *Connection) ConnectDestroyed() {
	if c.currentState() == stateConnected {
		c.state.Store(int32(stateDisconnected))
		c.ch.DisableAll()
		if c.connectionCb != nil {
			c.connectionCb(c)
		}
	}
	_ = c.ch.Remove()
	_ = sockops.Close(c.fd)
}

func (c *Connection) handleRead(receivedAt time.Time) {
	n, err := c.input.FillFromFD(c.fd)
	switch {
	case n > 0:
		if c.messageCb != nil {
			c.messageCb(c, c.input, receivedAt)
		}
	case n == 0:
		c.handleClose()
	default:
		if err != unix.EAGAIN {
			c.handleError()
		}
	}
}

func (c *Connection) handleWrite() {
	if !c.ch.IsWriting() {
		return
	}

	n, err := sockops.Write(c.fd, c.output.Peek())
	if err != nil {
		return
	}

	c.output.Consume(n)
	if c.output.ReadableBytes() == 0 {
		c.ch.DisableWriting()
		if c.writeCompleteCb != nil {
			cb := c.writeCompleteCb
			c.loop.Enqueue(func() { cb(c) })
		}
		if c.currentState() == stateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *Connection) handleClose() {
	st := c.currentState()
	if st != stateConnected && st != stateDisconnecting {
		return
	}
	c.state.Store(int32(stateDisconnected))
	c.ch.DisableAll()

	if c.connectionCb != nil {
		c.connectionCb(c)
	}
	if c.closeCb != nil {
		c.closeCb(c)
	}
}

func (c *Connection) handleError() {
	_ = sockops.SocketError(c.fd)
}

// Close satisfies io.Closer so a Connection can be registered directly with
// an ioutils/mapCloser registry. It must only be called after the owning
// reactor's Loop has returned; it does not hop through Enqueue.
func (c *Connection) Close() error {
	if c.currentState() != stateDisconnected {
		c.state.Store(int32(stateDisconnected))
		c.ch.DisableAll()
		_ = c.ch.Remove()
	}
	return sockops.Close(c.fd)
}
