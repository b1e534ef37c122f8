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

// Package fcgiworker implements the FastCGI worker loop (C6): the same
// supervision semantics as httpworker (quit-flag observation, per-request
// event logging, request/lifetime accounting) but with the wire protocol
// itself left to net/http/fcgi, per spec §1's assumption that a library
// handles the FastCGI codec. There is no transport-level keep-alive state
// machine to hand-roll here — each FastCGI request is independent — so what
// this package adds on top of the standard library is exactly the
// supervision layer.
package fcgiworker

import (
	"errors"
	"net"
	"net/http"
	"net/http/fcgi"
	"runtime/debug"
	"time"

	"github.com/ahmedissa/wiseguy/events"
	liblog "github.com/ahmedissa/wiseguy/logger"
	"github.com/ahmedissa/wiseguy/managedserver"
)

// errShuttingDown is returned by quitListener.Accept once the worker's quit
// flag is observed, unwinding fcgi.Serve's accept loop (it returns whatever
// error Accept produces) without disturbing connections already accepted.
var errShuttingDown = errors.New("fcgiworker: worker is shutting down")

// quitListener refuses new connections once Base.Quit() is true. Grounded
// on other_examples/.../semihalev-roadrunner__socket_factory.go.go's
// listener-wrapping idiom (a small struct embedding net.Listener that
// intercepts Accept to add policy), adapted here to intercept for shutdown
// instead of connection relaying.
type quitListener struct {
	net.Listener
	base *managedserver.Base
}

func (l *quitListener) Accept() (net.Conn, error) {
	if l.base != nil && l.base.Quit() {
		return nil, errShuttingDown
	}
	return l.Listener.Accept()
}

// Worker drives one FastCGI listener: Handler answers each request; Base
// (if set) tracks request/lifetime limits and the quit flag exactly as it
// does for httpworker; Collector (if set) receives the same
// request-count/exec-time instrumentation.
type Worker struct {
	Handler   http.Handler
	Base      *managedserver.Base
	Collector *events.Collector
	Log       liblog.FuncLog
}

func (w *Worker) logger() liblog.Logger {
	if w.Log == nil {
		return nil
	}
	return w.Log()
}

// Serve runs fcgi.Serve against ln until the quit flag is observed between
// connections, returning nil in that case (a clean shutdown, not an error).
func (w *Worker) Serve(ln net.Listener) error {
	qln := &quitListener{Listener: ln, base: w.Base}

	err := fcgi.Serve(qln, w.instrument(w.Handler))
	if errors.Is(err, errShuttingDown) {
		return nil
	}
	return err
}

// instrument wraps h with the panic-recovery and request accounting that
// httpworker's invoke/CloseRequest pairing provides for the HTTP path.
func (w *Worker) instrument(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}

	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()

		defer func() {
			if rec := recover(); rec != nil {
				if l := w.logger(); l != nil {
					l.Error("fcgiworker: handler panic: %v\n%s", nil,
						ErrorHandlerPanic.Error(errorf(rec)), string(debug.Stack()))
				}
				rw.WriteHeader(http.StatusInternalServerError)
			}

			if w.Base != nil {
				w.Base.CloseRequest()
			}
			if w.Collector != nil {
				now := time.Now()
				w.Collector.Increment("fcgi.requests", 1, now)
				w.Collector.LogExecTime("fcgi.request_duration", now.Sub(start).Seconds(), now)
			}
		}()

		h.ServeHTTP(rw, r)
	})
}

func errorf(v interface{}) error {
	if err, ok := v.(error); ok {
		return err
	}
	return errors.New("fcgiworker: non-error panic value")
}
