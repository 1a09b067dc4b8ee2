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

package httpdecode_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netreactor/buffer"
	liberr "github.com/sabouaram/netreactor/errors"
	"github.com/sabouaram/netreactor/httpdecode"
)

var _ = Describe("Context", func() {
	var buf *buffer.Buffer
	var ctx *httpdecode.Context

	BeforeEach(func() {
		buf = buffer.New(buffer.InitialSize)
		ctx = httpdecode.NewContext()
	})

	It("parses a bodyless GET request arriving as a single segment", func() {
		buf.Append([]byte("GET /widgets?id=7 HTTP/1.1\r\nHost: example.com\r\n\r\n"))

		Expect(ctx.Parse(buf, time.Now())).To(Succeed())
		Expect(ctx.GotAll()).To(BeTrue())

		req := ctx.Request()
		Expect(req.Method).To(Equal("GET"))
		Expect(req.Path).To(Equal("/widgets"))
		Expect(req.Query).To(Equal("id=7"))
		Expect(req.Version).To(Equal("HTTP/1.1"))

		host, ok := req.Headers.Get("host")
		Expect(ok).To(BeTrue())
		Expect(host).To(Equal("example.com"))
	})

	It("carries partial state across byte-by-byte segment arrivals", func() {
		raw := "POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"

		for i := 0; i < len(raw); i++ {
			buf.Append([]byte{raw[i]})
			Expect(ctx.Parse(buf, time.Now())).To(Succeed())
			if i < len(raw)-1 {
				Expect(ctx.GotAll()).To(BeFalse())
			}
		}

		Expect(ctx.GotAll()).To(BeTrue())
		Expect(ctx.Request().Body).To(Equal([]byte("hello")))
	})

	It("rejects an unsupported method", func() {
		buf.Append([]byte("TRACE / HTTP/1.1\r\n\r\n"))
		err := ctx.Parse(buf, time.Now())
		Expect(liberr.IsCode(err, httpdecode.ErrorUnsupportedMethod)).To(BeTrue())
	})

	It("rejects an unsupported version", func() {
		buf.Append([]byte("GET / HTTP/2.0\r\n\r\n"))
		err := ctx.Parse(buf, time.Now())
		Expect(liberr.IsCode(err, httpdecode.ErrorUnsupportedVersion)).To(BeTrue())
	})

	It("rejects a malformed header line", func() {
		buf.Append([]byte("GET / HTTP/1.1\r\nbroken-header\r\n\r\n"))
		err := ctx.Parse(buf, time.Now())
		Expect(liberr.IsCode(err, httpdecode.ErrorMalformedHeader)).To(BeTrue())
	})

	It("rejects chunked transfer-encoding", func() {
		buf.Append([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"))
		err := ctx.Parse(buf, time.Now())
		Expect(liberr.IsCode(err, httpdecode.ErrorChunkedUnsupported)).To(BeTrue())
	})

	It("rejects a body exceeding the configured maximum size", func() {
		ctx.SetMaxBodySize(4)
		buf.Append([]byte("POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\n"))
		err := ctx.Parse(buf, time.Now())
		Expect(liberr.IsCode(err, httpdecode.ErrorBodyTooLarge)).To(BeTrue())
	})

	It("resets to parse a second request on the same connection", func() {
		buf.Append([]byte("GET /one HTTP/1.1\r\n\r\n"))
		Expect(ctx.Parse(buf, time.Now())).To(Succeed())
		Expect(ctx.Request().Path).To(Equal("/one"))

		ctx.Reset()
		buf.Append([]byte("GET /two HTTP/1.1\r\n\r\n"))
		Expect(ctx.Parse(buf, time.Now())).To(Succeed())
		Expect(ctx.Request().Path).To(Equal("/two"))
	})
})

var _ = Describe("WriteResponse", func() {
	It("serializes a keep-alive response with headers and body", func() {
		out := buffer.New(buffer.InitialSize)
		hdr := httpdecode.NewHeader()
		hdr.Set("Content-Type", "text/plain")

		httpdecode.WriteResponse(out, 200, "OK", hdr, []byte("hi"), true)

		got := string(out.Peek())
		Expect(got).To(ContainSubstring("HTTP/1.1 200 OK\r\n"))
		Expect(got).To(ContainSubstring("Content-Type: text/plain\r\n"))
		Expect(got).To(ContainSubstring("Content-Length: 2\r\n"))
		Expect(got).To(ContainSubstring("Connection: Keep-Alive\r\n"))
		Expect(got).To(HaveSuffix("\r\n\r\nhi"))
	})

	It("serializes a close response with no body", func() {
		out := buffer.New(buffer.InitialSize)
		httpdecode.WriteResponse(out, 404, "Not Found", nil, nil, false)

		got := string(out.Peek())
		Expect(got).To(ContainSubstring("Connection: close\r\n"))
		Expect(got).To(HaveSuffix("\r\n\r\n"))
	})
})

var _ = Describe("WriteBadRequest", func() {
	It("writes the literal 400 response with no other headers", func() {
		out := buffer.New(buffer.InitialSize)
		httpdecode.WriteBadRequest(out)

		Expect(string(out.Peek())).To(Equal("HTTP/1.1 400 Bad Request\r\n\r\n"))
		Expect(string(out.Peek())).To(Equal(httpdecode.BadRequestResponse))
	})
})
