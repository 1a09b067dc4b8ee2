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

package httpdecode

import (
	"fmt"

	"github.com/sabouaram/netreactor/buffer"
)

// BadRequestResponse is the exact reply a caller writes back, with no other
// headers, the moment Context.Parse returns an error: the peer's framing
// cannot be trusted past that point, so there is nothing to do but refuse
// and close the connection immediately after.
const BadRequestResponse = "HTTP/1.1 400 Bad Request\r\n\r\n"

// WriteBadRequest appends the literal BadRequestResponse bytes to out,
// bypassing WriteResponse's header/Content-Length framing entirely.
func WriteBadRequest(out *buffer.Buffer) {
	out.Append([]byte(BadRequestResponse))
}

// WriteResponse serializes a status line, the connection headers, the
// caller's headers, and body onto out in wire order. keepAlive selects
// between a Content-Length/keep-alive pair and a Connection: close with no
// further framing guarantee.
func WriteResponse(out *buffer.Buffer, status int, reason string, hdr *Header, body []byte, keepAlive bool) {
	out.Append([]byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, reason)))

	if keepAlive {
		out.Append([]byte(fmt.Sprintf("Content-Length: %d\r\n", len(body))))
		out.Append([]byte("Connection: Keep-Alive\r\n"))
	} else {
		out.Append([]byte("Connection: close\r\n"))
	}

	if hdr != nil {
		hdr.Each(func(name, value string) {
			out.Append([]byte(fmt.Sprintf("%s: %s\r\n", name, value)))
		})
	}

	out.Append([]byte("\r\n"))
	if len(body) > 0 {
		out.Append(body)
	}
}
