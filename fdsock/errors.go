/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
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

package fdsock

import (
	"fmt"

	liberr "github.com/ahmedissa/wiseguy/errors"
)

const MinPkgFdSock = liberr.MinAvailable

const (
	ErrorListen liberr.CodeError = iota + MinPkgFdSock
	ErrorFrameTooLarge
	ErrorUnknownTag
	ErrorUnknownAddress
	ErrorFdTransfer
	ErrorClientDial
	ErrorClientResponse
)

func init() {
	if liberr.ExistInMapMessage(ErrorListen) {
		panic(fmt.Errorf("error code collision with package fdsock"))
	}
	liberr.RegisterIdFctMessage(ErrorListen, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case ErrorListen:
		return "fdsock: unable to listen on registry socket"
	case ErrorFrameTooLarge:
		return "fdsock: framed message exceeds maximum allowed size"
	case ErrorUnknownTag:
		return "fdsock: unknown request tag"
	case ErrorUnknownAddress:
		return "fdsock: no listener registered for the requested address"
	case ErrorFdTransfer:
		return "fdsock: failed to transfer file descriptor"
	case ErrorClientDial:
		return "fdsock: unable to dial registry socket"
	case ErrorClientResponse:
		return "fdsock: registry returned an error response"
	}

	return liberr.NullMessage
}
