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
	"strconv"
	"strings"
	"time"

	"github.com/sabouaram/netreactor/buffer"
)

// DefaultMaxBodySize bounds a request body absent an explicit override.
const DefaultMaxBodySize = 1 << 20

// Request is the parsed result of one HTTP/1.x request line, its headers,
// and its body, if any.
type Request struct {
	Method      string
	Path        string
	Query       string
	Version     string
	Headers     *Header
	Body        []byte
	ReceivedAt  time.Time
}

var validMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"HEAD":   true,
	"PUT":    true,
	"DELETE": true,
}

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateDone
)

// Context is a streaming HTTP/1.x request parser: feed it a Connection's
// input Buffer on every read via Parse, and it carries partial state across
// calls until GotAll reports true or Parse returns a parse error.
type Context struct {
	state       parseState
	req         Request
	maxBodySize int
	bodyNeeded  int
}

// NewContext returns a Context ready to parse one request, with the default
// maximum body size.
func NewContext() *Context {
	c := &Context{maxBodySize: DefaultMaxBodySize}
	c.Reset()
	return c
}

// SetMaxBodySize overrides the maximum accepted Content-Length.
func (c *Context) SetMaxBodySize(n int) { c.maxBodySize = n }

// GotAll reports whether a complete request has been parsed.
func (c *Context) GotAll() bool { return c.state == stateDone }

// Request returns the request parsed so far. Valid once GotAll reports true.
func (c *Context) Request() *Request { return &c.req }

// Reset returns the Context to the request-line state with a fresh, empty
// request, ready to parse the next one on the same connection.
func (c *Context) Reset() {
	c.state = stateRequestLine
	c.bodyNeeded = 0
	c.req = Request{Headers: NewHeader()}
}

// Parse advances the state machine as far as buf's currently readable bytes
// allow, consuming everything it understands. It returns nil when more data
// is needed (GotAll still reports false) or once GotAll reports true; a
// non-nil error is a permanent parse failure the caller must answer with a
// 400 response and a connection shutdown.
func (c *Context) Parse(buf *buffer.Buffer, receivedAt time.Time) error {
	for {
		switch c.state {
		case stateRequestLine:
			idx := buf.FindCRLF()
			if idx < 0 {
				return nil
			}
			line := string(buf.Peek()[:idx])
			buf.Consume(idx + 2)
			if err := c.parseRequestLine(line); err != nil {
				return err
			}
			c.req.ReceivedAt = receivedAt
			c.state = stateHeaders

		case stateHeaders:
			idx := buf.FindCRLF()
			if idx < 0 {
				return nil
			}
			line := string(buf.Peek()[:idx])
			buf.Consume(idx + 2)
			if len(line) == 0 {
				if err := c.prepareBody(); err != nil {
					return err
				}
			} else if err := c.parseHeaderLine(line); err != nil {
				return err
			}

		case stateBody:
			if buf.ReadableBytes() < c.bodyNeeded {
				return nil
			}
			c.req.Body = append([]byte(nil), buf.Peek()[:c.bodyNeeded]...)
			buf.Consume(c.bodyNeeded)
			c.state = stateDone
			return nil

		case stateDone:
			return nil
		}
	}
}

func (c *Context) parseRequestLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return ErrorMalformedRequestLine.Error(nil)
	}

	method, target, version := parts[0], parts[1], parts[2]

	if !validMethods[method] {
		return ErrorUnsupportedMethod.Error(nil)
	}
	if version != "HTTP/1.0" && version != "HTTP/1.1" {
		return ErrorUnsupportedVersion.Error(nil)
	}

	path, query := target, ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		path, query = target[:i], target[i+1:]
	}

	c.req.Method = method
	c.req.Path = path
	c.req.Query = query
	c.req.Version = version
	return nil
}

func (c *Context) parseHeaderLine(line string) error {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return ErrorMalformedHeader.Error(nil)
	}

	name := line[:i]
	value := strings.TrimSpace(line[i+1:])
	c.req.Headers.Set(name, value)
	return nil
}

func (c *Context) prepareBody() error {
	if te, ok := c.req.Headers.Get("Transfer-Encoding"); ok && strings.EqualFold(strings.TrimSpace(te), "chunked") {
		return ErrorChunkedUnsupported.Error(nil)
	}

	cl, ok := c.req.Headers.Get("Content-Length")
	if !ok {
		c.state = stateDone
		return nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(cl))
	if err != nil || n < 0 {
		return ErrorMalformedHeader.Error(err)
	}
	if n > c.maxBodySize {
		return ErrorBodyTooLarge.Error(nil)
	}
	if n == 0 {
		c.state = stateDone
		return nil
	}

	c.bodyNeeded = n
	c.state = stateBody
	return nil
}
