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

import "strings"

// Header is an insertion-ordered set of header fields with ASCII
// case-insensitive lookup. Setting a name already present overwrites its
// value in place, keeping the original case and position (last-value-wins
// on duplicates, per RFC 7230's header-folding discipline).
type Header struct {
	entries [][2]string
	index   map[string]int
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

// Set inserts or overwrites the value for name.
func (h *Header) Set(name, value string) {
	key := strings.ToLower(name)
	if idx, ok := h.index[key]; ok {
		h.entries[idx][1] = value
		return
	}
	h.index[key] = len(h.entries)
	h.entries = append(h.entries, [2]string{name, value})
}

// Get returns the value stored for name, case-insensitively.
func (h *Header) Get(name string) (string, bool) {
	idx, ok := h.index[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return h.entries[idx][1], true
}

// Len is the number of distinct header names stored.
func (h *Header) Len() int { return len(h.entries) }

// Each calls fn once per header, in insertion order.
func (h *Header) Each(fn func(name, value string)) {
	for _, kv := range h.entries {
		fn(kv[0], kv[1])
	}
}

// Reset empties h for reuse.
func (h *Header) Reset() {
	h.entries = h.entries[:0]
	for k := range h.index {
		delete(h.index, k)
	}
}
