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

package buffer

import (
	"encoding/binary"
	"io"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/netreactor/errors"
)

const (
	// PrependReserve is the fixed-size region reserved at the head of the
	// buffer for cheap header insertion without a copy.
	PrependReserve = 8
	// InitialSize is the default capacity of the writable+readable region.
	InitialSize = 1024

	scratchSize = 65536
)

var crlf = []byte("\r\n")

// Buffer is a growable byte buffer with a prepend reserve.
type Buffer struct {
	buf []byte
	r   int
	w   int
}

// New returns a Buffer with the given initial writable capacity.
func New(initialSize int) *Buffer {
	if initialSize <= 0 {
		initialSize = InitialSize
	}

	return &Buffer{
		buf: make([]byte, PrependReserve+initialSize),
		r:   PrependReserve,
		w:   PrependReserve,
	}
}

// ReadableBytes returns the number of bytes available to read.
func (b *Buffer) ReadableBytes() int {
	return b.w - b.r
}

// WritableBytes returns the number of bytes that can be appended without growing.
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.w
}

// PrependableBytes returns the number of bytes available in the prepend reserve.
func (b *Buffer) PrependableBytes() int {
	return b.r
}

// Cap returns the total backing capacity.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Peek returns the readable region without consuming it. The returned slice
// aliases the buffer's storage and is invalidated by any mutating call.
func (b *Buffer) Peek() []byte {
	return b.buf[b.r:b.w]
}

// Consume advances the reader cursor by n bytes.
func (b *Buffer) Consume(n int) {
	if n < b.ReadableBytes() {
		b.r += n
	} else {
		b.ConsumeAll()
	}
}

// ConsumeAll resets both cursors to the start of the readable region.
func (b *Buffer) ConsumeAll() {
	b.r = PrependReserve
	b.w = PrependReserve
}

// ConsumeUntil advances the reader cursor up to (but not past) offset,
// measured from the start of the current readable region.
func (b *Buffer) ConsumeUntil(offset int) {
	b.Consume(offset)
}

// FindCRLF returns the offset (relative to the readable region's start) of
// the first "\r\n", or -1 if none is present.
func (b *Buffer) FindCRLF() int {
	readable := b.Peek()
	for i := 0; i+1 < len(readable); i++ {
		if readable[i] == crlf[0] && readable[i+1] == crlf[1] {
			return i
		}
	}
	return -1
}

// FindEOL returns the offset (relative to the readable region's start) of
// the first '\n', or -1 if none is present.
func (b *Buffer) FindEOL() int {
	readable := b.Peek()
	for i := 0; i < len(readable); i++ {
		if readable[i] == '\n' {
			return i
		}
	}
	return -1
}

// Append grows the writable region as needed and copies p to its tail.
func (b *Buffer) Append(p []byte) {
	b.ensureWritable(len(p))
	copy(b.buf[b.w:], p)
	b.w += len(p)
}

// Prepend copies p into the prepend reserve, immediately before the readable
// region. It returns ErrorPrependTooLarge if the reserve cannot hold p.
func (b *Buffer) Prepend(p []byte) error {
	if len(p) > b.PrependableBytes() {
		return ErrorPrependTooLarge.Error(nil)
	}
	b.r -= len(p)
	copy(b.buf[b.r:], p)
	return nil
}

func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	b.makeSpace(n)
}

// makeSpace grows or compacts the backing array so that at least n bytes are
// writable. Compaction (shifting readable bytes down to PrependReserve) is
// preferred whenever the combined prepend+tail slack can satisfy n.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+PrependReserve {
		grown := make([]byte, b.w+n)
		copy(grown, b.buf[:b.w])
		b.buf = grown
		return
	}

	readable := b.ReadableBytes()
	copy(b.buf[PrependReserve:], b.buf[b.r:b.w])
	b.r = PrependReserve
	b.w = b.r + readable
}

// AppendUint8/16/32/64 append a big-endian fixed-width integer.
func (b *Buffer) AppendUint8(v uint8) {
	b.Append([]byte{v})
}

func (b *Buffer) AppendUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Append(tmp[:])
}

func (b *Buffer) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Append(tmp[:])
}

func (b *Buffer) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Append(tmp[:])
}

// PeekUint8/16/32/64 decode a big-endian fixed-width integer without consuming it.
func (b *Buffer) PeekUint8() (uint8, error) {
	if b.ReadableBytes() < 1 {
		return 0, ErrorReadTooShort.Error(nil)
	}
	return b.buf[b.r], nil
}

func (b *Buffer) PeekUint16() (uint16, error) {
	if b.ReadableBytes() < 2 {
		return 0, ErrorReadTooShort.Error(nil)
	}
	return binary.BigEndian.Uint16(b.buf[b.r:]), nil
}

func (b *Buffer) PeekUint32() (uint32, error) {
	if b.ReadableBytes() < 4 {
		return 0, ErrorReadTooShort.Error(nil)
	}
	return binary.BigEndian.Uint32(b.buf[b.r:]), nil
}

func (b *Buffer) PeekUint64() (uint64, error) {
	if b.ReadableBytes() < 8 {
		return 0, ErrorReadTooShort.Error(nil)
	}
	return binary.BigEndian.Uint64(b.buf[b.r:]), nil
}

// ReadUint8/16/32/64 decode and consume a big-endian fixed-width integer.
func (b *Buffer) ReadUint8() (uint8, error) {
	v, err := b.PeekUint8()
	if err != nil {
		return 0, err
	}
	b.Consume(1)
	return v, nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	v, err := b.PeekUint16()
	if err != nil {
		return 0, err
	}
	b.Consume(2)
	return v, nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	v, err := b.PeekUint32()
	if err != nil {
		return 0, err
	}
	b.Consume(4)
	return v, nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	v, err := b.PeekUint64()
	if err != nil {
		return 0, err
	}
	b.Consume(8)
	return v, nil
}

// FillFromFD performs a single vectored read from fd into the writable tail,
// chained with a 64KiB stack scratch buffer so that one syscall serves both
// the common case (data fits in the existing tail) and the growth case
// (data overruns it, absorbed into the scratch and appended afterward).
// This saves an ioctl(FIONREAD) round trip to size the read up front.
func (b *Buffer) FillFromFD(fd int) (int, error) {
	writable := b.WritableBytes()

	var scratch [scratchSize]byte
	iovs := make([][]byte, 0, 2)
	if writable > 0 {
		iovs = append(iovs, b.buf[b.w:])
	}
	iovs = append(iovs, scratch[:])

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, err
		}
		return 0, ErrorFillFromFD.Error(err)
	}

	if n <= writable {
		b.w += n
	} else {
		b.w = len(b.buf)
		b.Append(scratch[:n-writable])
	}
	return n, nil
}

var _ io.Reader = (*readerAdapter)(nil)

type readerAdapter struct {
	b *Buffer
}

func (r *readerAdapter) Read(p []byte) (int, error) {
	n := copy(p, r.b.Peek())
	r.b.Consume(n)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Reader returns an io.Reader view over the current readable region. Bytes
// read through it are consumed from the Buffer.
func (b *Buffer) Reader() io.Reader {
	return &readerAdapter{b: b}
}
