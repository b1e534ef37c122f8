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

package managedserver

import (
	"fmt"

	liberr "github.com/ahmedissa/wiseguy/errors"
)

const MinPkgManagedServer = liberr.MinAvailable + 100

const (
	ErrorSocket liberr.CodeError = iota + MinPkgManagedServer
	ErrorSockopt
	ErrorBind
	ErrorListen
	ErrorAdopt
	ErrorUnlinkStale
	ErrorDropPrivileges
)

func init() {
	if liberr.ExistInMapMessage(ErrorSocket) {
		panic(fmt.Errorf("error code collision with package managedserver"))
	}
	liberr.RegisterIdFctMessage(ErrorSocket, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case ErrorSocket:
		return "managedserver: unable to create listening socket"
	case ErrorSockopt:
		return "managedserver: unable to set socket option"
	case ErrorBind:
		return "managedserver: unable to bind listening socket"
	case ErrorListen:
		return "managedserver: unable to listen on bound socket"
	case ErrorAdopt:
		return "managedserver: unable to adopt fd from registry"
	case ErrorUnlinkStale:
		return "managedserver: unable to unlink stale unix socket path"
	case ErrorDropPrivileges:
		return "managedserver: drop-privileges hook failed"
	}

	return liberr.NullMessage
}
