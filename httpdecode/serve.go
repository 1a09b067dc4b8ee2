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
	"time"

	"github.com/sabouaram/netreactor/buffer"
	"github.com/sabouaram/netreactor/connection"
)

// Handler answers one fully-parsed request on conn.
type Handler func(conn *connection.Connection, req *Request)

// Serve adapts handler into a connection.MessageCallback: it keeps one
// Context per Connection (stashed in the Connection's own context slot, the
// way HttpServer::onConnection seeds a fresh HttpContext there), feeds it
// every read, and dispatches handler once a request completes. A request
// that fails to parse gets the literal BadRequestResponse written back and
// the connection shut down — the wire framing past that point can no longer
// be trusted, so nothing else is attempted on it.
func Serve(handler Handler) connection.MessageCallback {
	return func(conn *connection.Connection, in *buffer.Buffer, receivedAt time.Time) {
		ctx, ok := conn.Context().(*Context)
		if !ok || ctx == nil {
			ctx = NewContext()
			conn.SetContext(ctx)
		}

		for {
			if err := ctx.Parse(in, receivedAt); err != nil {
				conn.Send([]byte(BadRequestResponse))
				conn.Shutdown()
				return
			}

			if !ctx.GotAll() {
				return
			}

			handler(conn, ctx.Request())
			ctx.Reset()

			if in.ReadableBytes() == 0 {
				return
			}
		}
	}
}
