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

package tcpserver_test

import (
	"net"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netreactor/buffer"
	"github.com/sabouaram/netreactor/connection"
	"github.com/sabouaram/netreactor/reactor"
	"github.com/sabouaram/netreactor/tcpserver"
)

var _ = Describe("Server", func() {
	var controller *reactor.Reactor
	var wg sync.WaitGroup

	BeforeEach(func() {
		var err error
		controller, err = reactor.New("controller", 0, hclog.NewNullLogger())
		Expect(err).ToNot(HaveOccurred())

		wg.Add(1)
		go func() {
			defer wg.Done()
			controller.Loop()
		}()
	})

	AfterEach(func() {
		controller.Quit()
		wg.Wait()
		Expect(controller.Close()).ToNot(HaveOccurred())
	})

	It("echoes bytes back to a dialed peer through a worker reactor", func() {
		opts := tcpserver.DefaultOptions()
		opts.ThreadCount = 2

		srv, err := tcpserver.New(controller, "127.0.0.1:0", "echo", opts, hclog.NewNullLogger())
		Expect(err).ToNot(HaveOccurred())

		srv.SetOnMessage(func(c *connection.Connection, in *buffer.Buffer, _ time.Time) {
			c.Send(in.Peek())
			in.ConsumeAll()
		})

		Expect(srv.Start()).To(Succeed())
		defer func() { Expect(srv.Stop()).To(Succeed()) }()

		addr, err := srv.ListenAddr()
		Expect(err).ToNot(HaveOccurred())

		conn, err := net.Dial("tcp", addr)
		Expect(err).ToNot(HaveOccurred())
		defer conn.Close()

		_, err = conn.Write([]byte("ping"))
		Expect(err).ToNot(HaveOccurred())

		buf := make([]byte, 4)
		Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
		n, err := conn.Read(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(buf[:n])).To(Equal("ping"))
	})

	It("removes a connection from its registry once the peer hangs up", func() {
		opts := tcpserver.DefaultOptions()

		srv, err := tcpserver.New(controller, "127.0.0.1:0", "closing", opts, hclog.NewNullLogger())
		Expect(err).ToNot(HaveOccurred())
		Expect(srv.Start()).To(Succeed())
		defer func() { Expect(srv.Stop()).To(Succeed()) }()

		addr, err := srv.ListenAddr()
		Expect(err).ToNot(HaveOccurred())

		conn, err := net.Dial("tcp", addr)
		Expect(err).ToNot(HaveOccurred())

		Eventually(func() int { return srv.ConnectionCount() }, "1s").Should(Equal(1))

		Expect(conn.Close()).To(Succeed())

		Eventually(func() int { return srv.ConnectionCount() }, "1s").Should(Equal(0))
	})
})
