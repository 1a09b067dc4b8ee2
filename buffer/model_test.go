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

package buffer_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	libbuf "github.com/sabouaram/netreactor/buffer"
)

var _ = Describe("Buffer", func() {
	It("starts with an empty readable region and a full prepend reserve", func() {
		b := libbuf.New(64)
		Expect(b.ReadableBytes()).To(Equal(0))
		Expect(b.PrependableBytes()).To(Equal(libbuf.PrependReserve))
	})

	It("append then consume_all returns to the initial state", func() {
		b := libbuf.New(16)
		b.Append([]byte("hello world, this is longer than sixteen bytes"))
		b.ConsumeAll()
		Expect(b.ReadableBytes()).To(Equal(0))
		Expect(b.PrependableBytes()).To(Equal(libbuf.PrependReserve))
	})

	It("keeps readable+writable+prependable equal to capacity", func() {
		b := libbuf.New(16)
		b.Append([]byte("0123456789"))
		b.Consume(4)
		b.Append([]byte("more bytes to force growth eventually"))
		Expect(b.ReadableBytes() + b.WritableBytes() + b.PrependableBytes()).To(Equal(b.Cap()))
	})

	It("round-trips big-endian fixed-width integers", func() {
		b := libbuf.New(16)
		b.AppendUint32(0xDEADBEEF)
		v, err := b.PeekUint32()
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(uint32(0xDEADBEEF)))

		got, err := b.ReadUint32()
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(uint32(0xDEADBEEF)))
		Expect(b.ReadableBytes()).To(Equal(0))
	})

	It("rejects reads shorter than the requested width", func() {
		b := libbuf.New(16)
		b.AppendUint8(1)
		_, err := b.PeekUint32()
		Expect(err).To(HaveOccurred())
	})

	It("prepends into the reserve without disturbing the readable region", func() {
		b := libbuf.New(16)
		b.Append([]byte("body"))
		Expect(b.Prepend([]byte("hdr:"))).To(Succeed())
		Expect(string(b.Peek())).To(Equal("hdr:body"))
	})

	It("fails to prepend more than the reserve can hold", func() {
		b := libbuf.New(16)
		err := b.Prepend(make([]byte, libbuf.PrependReserve+1))
		Expect(err).To(HaveOccurred())
	})

	It("finds CRLF within the readable region", func() {
		b := libbuf.New(64)
		b.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
		off := b.FindCRLF()
		Expect(off).To(Equal(14))
	})

	It("finds EOL when only a bare newline is present", func() {
		b := libbuf.New(64)
		b.Append([]byte("line one\nline two"))
		Expect(b.FindEOL()).To(Equal(8))
	})

	It("reports no CRLF when none is present", func() {
		b := libbuf.New(64)
		b.Append([]byte("no terminator here"))
		Expect(b.FindCRLF()).To(Equal(-1))
	})

	It("compacts rather than reallocates when prepend slack can satisfy growth", func() {
		b := libbuf.New(16)
		b.Append([]byte("0123456789012345"))
		b.Consume(10)
		capBefore := b.Cap()
		b.Append([]byte("abcde"))
		Expect(b.Cap()).To(Equal(capBefore))
	})
})
