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

package reactor

import "github.com/sabouaram/netreactor/errors"

const (
	ErrorWakeupCreate errors.CodeError = iota + errors.MinPkgReactor
	ErrorWakeupWrite
	ErrorWakeupRead
	ErrorNotOwnerThread
	ErrorAlreadyLooping
	ErrorPoolEmpty
)

var isCodeError = false

func IsCodeError() bool {
	return isCodeError
}

func init() {
	isCodeError = errors.ExistInMapMessage(ErrorWakeupCreate)
	errors.RegisterIdFctMessage(ErrorWakeupCreate, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UNK_ERROR:
		return ""
	case ErrorWakeupCreate:
		return "cannot create wakeup eventfd"
	case ErrorWakeupWrite:
		return "cannot write to wakeup eventfd"
	case ErrorWakeupRead:
		return "cannot read wakeup eventfd"
	case ErrorNotOwnerThread:
		return "operation requires running on the reactor's own goroutine"
	case ErrorAlreadyLooping:
		return "reactor is already running its loop"
	case ErrorPoolEmpty:
		return "reactor pool has no reactors configured"
	}

	return ""
}
