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

package poller_test

import (
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netreactor/channel"
	"github.com/sabouaram/netreactor/poller"
)

type noopLoop struct{}

func (noopLoop) UpdateChannel(*channel.Channel) {}
func (noopLoop) RemoveChannel(*channel.Channel) {}
func (noopLoop) IsInLoopThread() bool           { return true }

var _ = Describe("Poller", func() {
	var p *poller.Poller
	var fds [2]int

	BeforeEach(func() {
		var err error
		p, err = poller.New()
		Expect(err).ToNot(HaveOccurred())

		fds, err = unix.Pipe2(unix.O_NONBLOCK)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
		p.Close()
	})

	It("reports no channel registered before UpdateChannel", func() {
		Expect(p.HasChannel(fds[0])).To(BeFalse())
	})

	It("registers a channel and reports it readable once data arrives", func() {
		c := channel.New(noopLoop{}, fds[0])
		c.EnableReading()
		Expect(p.UpdateChannel(c)).ToNot(HaveOccurred())
		Expect(p.HasChannel(fds[0])).To(BeTrue())

		_, err := unix.Write(fds[1], []byte("x"))
		Expect(err).ToNot(HaveOccurred())

		_, active, err := p.Poll(100, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(active).To(HaveLen(1))
		Expect(active[0].Fd()).To(Equal(fds[0]))
	})

	It("removes a channel after DisableAll and RemoveChannel", func() {
		c := channel.New(noopLoop{}, fds[0])
		c.EnableReading()
		Expect(p.UpdateChannel(c)).ToNot(HaveOccurred())

		c.DisableAll()
		Expect(p.UpdateChannel(c)).ToNot(HaveOccurred())
		Expect(p.RemoveChannel(c)).ToNot(HaveOccurred())
		Expect(p.HasChannel(fds[0])).To(BeFalse())
	})
})
