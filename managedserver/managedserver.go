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

// Package managedserver implements the bind/activate lifecycle shared by
// every listening server in this codebase: the EADDRINUSE escalation to the
// fd registry, the stale-unix-path retry, the drop-privileges hook, and the
// per-worker close-request/quit-flag accounting that the preforking
// supervisor relies on to retire a worker gracefully.
package managedserver

import (
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/ahmedissa/wiseguy/bindaddr"
	"github.com/ahmedissa/wiseguy/fdsock"
	"golang.org/x/sys/unix"
)

// Base is the managed-server lifecycle primitive (C3). It owns a single
// listening socket for one bind address and the request/lifetime accounting
// that drives the worker's quit decision.
type Base struct {
	Addr bindaddr.Addr

	// FDClient, when set, is consulted on EADDRINUSE before falling back to
	// the stale-unix-path retry (§4.2 step 3).
	FDClient *fdsock.Client
	// FDServer, when set, has this process's bound listener registered with
	// it once binding succeeds (§4.2 step 4).
	FDServer *fdsock.Server
	// DropPrivileges, when set, is invoked once immediately after a
	// successful bind or adoption (§4.2 step 4).
	DropPrivileges func() error

	// MaxRequests and MaxLifetime bound a worker's service life; once
	// either is exceeded, Quit() becomes true and the caller's accept loop
	// is expected to exit after the current connection (§4.2 closing
	// paragraph, §4.3's "enforces worker request/lifetime limits").
	MaxRequests int64
	MaxLifetime time.Duration

	ln        net.Listener
	boundHere bool
	startTime time.Time

	quit   atomic.Bool
	served atomic.Int64
}

// Bind performs the §4.2 escalation: create a socket, attempt bind, and on
// EADDRINUSE ask the fd registry client (if configured) for the address's
// fd; failing that, for a Unix path, unlink the stale path and retry once.
func (b *Base) Bind() error {
	b.startTime = time.Now()

	ln, boundHere, err := b.bindDirect()
	if err == nil {
		b.ln = ln
		b.boundHere = boundHere
		return b.afterBind()
	}

	if !isAddrInUse(err) {
		return err
	}

	if b.FDClient != nil {
		if adopted, adoptErr := b.adopt(); adoptErr == nil {
			b.ln = adopted
			b.boundHere = false
			return b.afterBind()
		}
	}

	if b.Addr.Family == bindaddr.Unix {
		if rmErr := os.Remove(b.Addr.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			return ErrorUnlinkStale.Error(rmErr)
		}
		ln, boundHere, err = b.bindDirect()
		if err != nil {
			return err
		}
		b.ln = ln
		b.boundHere = boundHere
		return b.afterBind()
	}

	return ErrorBind.Error(err)
}

// bindDirect creates a raw socket, sets SO_REUSEADDR for AF_INET, and binds
// it to Addr. It does not call listen(); Activate does that, separately, so
// an adopted (already-listening) fd never gets a redundant listen() call.
func (b *Base) bindDirect() (net.Listener, bool, error) {
	domain, err := b.Addr.Domain()
	if err != nil {
		return nil, false, ErrorSocket.Error(err)
	}

	sockType := unix.SOCK_STREAM
	fd, err := unix.Socket(domain, sockType, 0)
	if err != nil {
		return nil, false, ErrorSocket.Error(err)
	}

	if domain == unix.AF_INET || domain == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = unix.Close(fd)
			return nil, false, ErrorSockopt.Error(err)
		}
	}

	sa, err := b.Addr.Sockaddr()
	if err != nil {
		_ = unix.Close(fd)
		return nil, false, ErrorBind.Error(err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, false, err
	}

	f := os.NewFile(uintptr(fd), b.Addr.String())
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, false, ErrorBind.Error(err)
	}

	return ln, true, nil
}

// adopt asks the fd registry client for the fd registered under this
// address (§4.2 step 3's fd-server escalation) and wraps it as a Listener
// that is already listening.
func (b *Base) adopt() (net.Listener, error) {
	f, err := b.FDClient.RequestFD(b.Addr.String())
	if err != nil {
		return nil, ErrorAdopt.Error(err)
	}
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, ErrorAdopt.Error(err)
	}
	return ln, nil
}

func (b *Base) afterBind() error {
	if b.DropPrivileges != nil {
		if err := b.DropPrivileges(); err != nil {
			return ErrorDropPrivileges.Error(err)
		}
	}

	if b.FDServer != nil {
		if err := b.FDServer.RegisterListener(b.Addr.String(), b.ln); err != nil {
			return err
		}
	}

	return nil
}

// Activate calls listen(SOMAXCONN) — but only if this process actually
// performed the bind; an adopted listening socket is already listening
// (§4.2 step 5).
func (b *Base) Activate() error {
	if !b.boundHere {
		return nil
	}

	fc, ok := b.ln.(interface{ File() (*os.File, error) })
	if !ok {
		return ErrorListen.Error(nil)
	}
	f, err := fc.File()
	if err != nil {
		return ErrorListen.Error(err)
	}
	defer f.Close()

	if err := unix.Listen(int(f.Fd()), unix.SOMAXCONN); err != nil {
		return ErrorListen.Error(err)
	}
	return nil
}

// Listener returns the bound (and, after Activate, listening) socket.
func (b *Base) Listener() net.Listener {
	return b.ln
}

// Adopted marks b as already bound to ln without going through Bind's
// socket/EADDRINUSE escalation — the case of a preforked worker that
// inherited its listening socket directly over a file descriptor from the
// supervisor (supervisor.AdoptListener) rather than binding it itself.
func (b *Base) Adopted(ln net.Listener) {
	b.ln = ln
	b.boundHere = false
	b.startTime = time.Now()
}

// CloseRequest increments the served counter; if MaxRequests/MaxLifetime is
// now reached, it sets the quit flag so the caller's accept loop exits after
// this connection (§4.2).
func (b *Base) CloseRequest() {
	n := b.served.Add(1)

	if b.MaxRequests > 0 && n >= b.MaxRequests {
		b.quit.Store(true)
	}
	if b.MaxLifetime > 0 && time.Since(b.startTime) >= b.MaxLifetime {
		b.quit.Store(true)
	}
}

// Served returns the number of requests this worker has completed.
func (b *Base) Served() int64 {
	return b.served.Load()
}

// Quit reports whether the worker should stop accepting new requests.
func (b *Base) Quit() bool {
	return b.quit.Load()
}

// SetQuit forces the quit flag; cmd/wiseguy's worker process calls it from
// its TERM/INT handler to retire itself. The MaxRequests/MaxLifetime limits
// set the same flag from within CloseRequest.
func (b *Base) SetQuit(v bool) {
	b.quit.Store(v)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}
