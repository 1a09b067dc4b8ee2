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
	"fmt"

	libval "github.com/go-playground/validator/v10"

	liberr "github.com/sabouaram/netreactor/errors"
)

// FuncOpt returns a set of default Options, the same inheritance hook the
// logger's own config.Options uses.
type FuncOpt func() *Options

// Options configures a listener server's worker pool and connection
// defaults, independent of the address it binds.
type Options struct {
	// InheritDefault, when true, layers this Options over whatever
	// RegisterDefaultFunc supplies instead of replacing it outright.
	InheritDefault bool `json:"inheritDefault" yaml:"inheritDefault" toml:"inheritDefault" mapstructure:"inheritDefault"`

	// ThreadCount is the number of worker reactors in the pool. Zero pins
	// every connection to the controller reactor instead.
	ThreadCount int `json:"threadCount" yaml:"threadCount" toml:"threadCount" mapstructure:"threadCount" validate:"gte=0"`

	// ReusePort sets SO_REUSEPORT on the listening socket.
	ReusePort bool `json:"reusePort" yaml:"reusePort" toml:"reusePort" mapstructure:"reusePort"`

	// HighWaterMark is the output-buffer backlog, in bytes, above which
	// HighWaterMarkCallback fires once per connection.
	HighWaterMark int `json:"highWaterMark" yaml:"highWaterMark" toml:"highWaterMark" mapstructure:"highWaterMark" validate:"gte=0"`

	opts FuncOpt
}

// RegisterDefaultFunc registers fct as the source of default Options for
// InheritDefault. Passing nil clears it.
func (o *Options) RegisterDefaultFunc(fct FuncOpt) {
	o.opts = fct
}

// Validate checks the struct tag constraints above via validator/v10.
func (o *Options) Validate() liberr.Error {
	var e = ErrorValidation.Error(nil)

	if err := libval.New().Struct(o); err != nil {
		if er, ok := err.(*libval.InvalidValidationError); ok {
			e.Add(er)
		}
		for _, er := range err.(libval.ValidationErrors) {
			e.Add(fmt.Errorf("config field '%s' is not validated by constraint '%s'", er.Namespace(), er.ActualTag()))
		}
	}

	if !e.HasParent() {
		e = nil
	}

	return e
}

// Clone returns an independent copy of o.
func (o *Options) Clone() Options {
	return Options{
		InheritDefault: o.InheritDefault,
		ThreadCount:    o.ThreadCount,
		ReusePort:      o.ReusePort,
		HighWaterMark:  o.HighWaterMark,
		opts:           o.opts,
	}
}

// Merge overlays non-zero fields of opt onto o.
func (o *Options) Merge(opt *Options) {
	if opt == nil {
		return
	}

	if opt.ThreadCount > 0 {
		o.ThreadCount = opt.ThreadCount
	}
	if opt.ReusePort {
		o.ReusePort = opt.ReusePort
	}
	if opt.HighWaterMark > 0 {
		o.HighWaterMark = opt.HighWaterMark
	}
	if opt.opts != nil {
		o.opts = opt.opts
	}
}

// Options resolves o against its registered default when InheritDefault is
// set, returning the effective configuration to apply.
func (o *Options) Options() *Options {
	var no Options

	if o.opts != nil && o.InheritDefault {
		no = *o.opts()
	}

	if o.ThreadCount > 0 {
		no.ThreadCount = o.ThreadCount
	}
	if o.ReusePort {
		no.ReusePort = o.ReusePort
	}
	if o.HighWaterMark > 0 {
		no.HighWaterMark = o.HighWaterMark
	}

	return &no
}

// DefaultOptions is the configuration a listener server starts with when the
// caller supplies none: single-threaded, no port sharing, muduo's 64MiB
// high water mark.
func DefaultOptions() Options {
	return Options{
		ThreadCount:   0,
		ReusePort:     false,
		HighWaterMark: 64 * 1024 * 1024,
	}
}
