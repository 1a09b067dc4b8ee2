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

package tcpserver

import (
	"context"
	"fmt"
	"sync/atomic"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/sabouaram/netreactor/acceptor"
	"github.com/sabouaram/netreactor/connection"
	libctx "github.com/sabouaram/netreactor/context"
	"github.com/sabouaram/netreactor/ioutils/mapCloser"
	"github.com/sabouaram/netreactor/reactor"
	"github.com/sabouaram/netreactor/reactor/pool"
	"github.com/sabouaram/netreactor/sockops"
)

// Server is a listening TCP service: one Acceptor on a controller reactor,
// a pool of worker reactors each accepted connection is handed off to, and a
// connection registry mutated only on the controller.
type Server struct {
	controller *reactor.Reactor
	pool       *pool.Pool
	acceptor   *acceptor.Acceptor

	name    string
	addr    string
	options Options
	log     hclog.Logger

	started atomic.Bool
	nextID  atomic.Uint64

	conns  libctx.Config[string]
	closer mapCloser.Closer

	threadInit      pool.InitCallback
	onConnect       connection.ConnectionCallback
	onMessage       connection.MessageCallback
	onWriteComplete connection.WriteCompleteCallback
}

// New constructs a Server bound to addr, owned by controller. The server
// does not start listening until Start is called.
func New(controller *reactor.Reactor, addr, name string, opts Options, log hclog.Logger) (*Server, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		controller: controller,
		addr:       addr,
		name:       name,
		options:    opts,
		log:        log.Named(name),
		conns:      libctx.New[string](context.Background()),
		closer:     mapCloser.New(context.Background()),
	}

	s.pool = pool.New(controller, name, log)
	return s, nil
}

// SetThreadCount overrides the worker pool size configured via Options.
// Must be called before Start.
func (s *Server) SetThreadCount(n int) { s.options.ThreadCount = n }

// SetThreadInit arms cb to run once per worker reactor, on that reactor's
// own goroutine, right before it starts looping.
func (s *Server) SetThreadInit(cb pool.InitCallback) { s.threadInit = cb }

// SetOnConnect arms the callback fired on every Connection's up and down
// transition.
func (s *Server) SetOnConnect(cb connection.ConnectionCallback) { s.onConnect = cb }

// SetOnMessage arms the callback fired whenever a Connection reads data.
func (s *Server) SetOnMessage(cb connection.MessageCallback) { s.onMessage = cb }

// SetOnWriteComplete arms the callback fired once a Connection's output
// buffer fully drains.
func (s *Server) SetOnWriteComplete(cb connection.WriteCompleteCallback) {
	s.onWriteComplete = cb
}

// Name is this server's configured identity.
func (s *Server) Name() string { return s.name }

// Addr is the address this server was configured to listen on.
func (s *Server) Addr() string { return s.addr }

// ListenAddr is the address actually bound, once Start has run; it differs
// from Addr when Addr specified port 0.
func (s *Server) ListenAddr() (string, error) {
	if s.acceptor == nil {
		return "", ErrorNotStarted.Error(nil)
	}
	return sockops.LocalAddr(s.acceptor.Fd())
}

// Started reports whether Start has completed successfully.
func (s *Server) Started() bool { return s.started.Load() }

// ConnectionCount reports how many connections are currently registered.
func (s *Server) ConnectionCount() int {
	n := 0
	s.conns.Walk(func(_ string, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Start is idempotent: it raises the process file descriptor ceiling,
// starts the worker pool, creates the Acceptor, and posts Listen to the
// controller reactor.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.pool.Start(s.options.ThreadCount, s.threadInit); err != nil {
		s.started.Store(false)
		return err
	}

	resultCh := make(chan error, 1)
	s.controller.RunInReactor(func() {
		a, err := acceptor.New(s.controller, s.addr, s.options.ReusePort, s.log)
		if err != nil {
			resultCh <- ErrorAcceptorCreate.Error(err)
			return
		}
		a.SetNewConnectionCallback(s.handleNewConnection)
		s.acceptor = a
		a.Listen()
		resultCh <- nil
	})

	if err := <-resultCh; err != nil {
		s.started.Store(false)
		return err
	}

	return nil
}

// Stop is idempotent: it force-closes every registered connection, shuts
// down the worker pool, and closes the Acceptor. It does not touch the
// controller reactor, which the caller owns.
func (s *Server) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return nil
	}

	e := ErrorNotStarted.Error(nil)

	if err := s.closer.Close(); err != nil {
		e.Add(err)
	}
	s.conns.Clean()

	if err := s.pool.Shutdown(); err != nil {
		e.Add(err)
	}

	resultCh := make(chan error, 1)
	s.controller.RunInReactor(func() {
		if s.acceptor != nil {
			resultCh <- s.acceptor.Close()
			return
		}
		resultCh <- nil
	})
	if err := <-resultCh; err != nil {
		e.Add(err)
	}

	if !e.HasParent() {
		return nil
	}
	return e
}

// handleNewConnection runs on the controller reactor, as the Acceptor's read
// callback. It picks a worker, wraps fd as a Connection bound to it, and
// publishes the Connection into the registry before handing it established.
func (s *Server) handleNewConnection(fd int, peerAddr string) {
	worker := s.pool.NextLoop()

	id := s.nextID.Add(1)
	name := fmt.Sprintf("%s-%d", s.name, id)

	localAddr, _ := sockops.LocalAddr(fd)

	conn := connection.New(worker, name, fd, localAddr, peerAddr)
	conn.SetConnectionCallback(s.onConnect)
	if s.onMessage != nil {
		conn.SetMessageCallback(s.onMessage)
	} else {
		conn.SetMessageCallback(connection.DefaultMessageCallback)
	}
	conn.SetWriteCompleteCallback(s.onWriteComplete)
	conn.SetHighWaterMarkCallback(nil, s.options.HighWaterMark)
	conn.SetCloseCallback(s.removeConnection)

	s.conns.Store(name, conn)
	s.closer.Add(conn)

	worker.RunInReactor(conn.ConnectEstablished)
}

// removeConnection is conn's CloseCallback, firing on conn's own worker
// reactor. It posts map removal to the controller, then posts destruction
// back to the worker, matching the back-reference discipline: the
// connection map is the only strong owner, and no in-flight callback can
// observe a Connection after its destruction task has run.
func (s *Server) removeConnection(conn *connection.Connection) {
	worker := conn.Loop()
	s.controller.Enqueue(func() {
		s.conns.Delete(conn.Name())
		worker.Enqueue(conn.ConnectDestroyed)
	})
}
