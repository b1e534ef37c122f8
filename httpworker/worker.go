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

// Package httpworker implements the per-connection HTTP/1.1 keep-alive
// state machine a preforked worker runs against its share of the listening
// socket: the idle timeout, the environment-dictionary handoff to the
// application, and the POST keep-alive safety check that decides whether a
// connection is actually safe to reuse.
package httpworker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/ahmedissa/wiseguy/events"
	liblog "github.com/ahmedissa/wiseguy/logger"
	"github.com/ahmedissa/wiseguy/managedserver"
)

// DefaultKeepAliveTimeout is the idle-connection timeout applied when
// Worker.KeepAliveTimeout is zero (§4.4 step 1 / §5 timeouts).
const DefaultKeepAliveTimeout = 5 * time.Second

// Worker drives §4.4 steps 1-8 for every connection handed to it. One
// Worker instance is shared by all connections a single preforked process
// serves; it holds no per-connection state itself.
type Worker struct {
	// App is invoked once per request (step 5).
	App App

	// Base tracks this worker's request/lifetime limits and the quit
	// flag; when nil, no quit/limit enforcement is applied (useful in
	// tests that only exercise the wire-level state machine).
	Base *managedserver.Base

	// KeepAliveTimeout overrides DefaultKeepAliveTimeout.
	KeepAliveTimeout time.Duration

	// ServerName, if set, is written as the Server response header
	// (§6 — "Server: wiseguy/<version>") whenever the application hasn't
	// already set one.
	ServerName string

	Log liblog.FuncLog

	// Collector, if set, receives a request-count increment and an
	// execution-time sample for every request this worker completes.
	Collector *events.Collector
}

func (w *Worker) logger() liblog.Logger {
	if w.Log == nil {
		return nil
	}
	return w.Log()
}

func (w *Worker) keepAliveTimeout() time.Duration {
	if w.KeepAliveTimeout > 0 {
		return w.KeepAliveTimeout
	}
	return DefaultKeepAliveTimeout
}

// ServeConn runs the keep-alive loop for one already-accepted connection
// until close_connection becomes true, then closes it. It never returns an
// error to the caller: every failure mode this loop can hit is logged (or,
// for a quiet idle timeout, simply not logged) and ends the connection, per
// §4.4 step 8 and §7's "per-request I/O failure ... connection closed;
// worker continues."
func (w *Worker) ServeConn(conn net.Conn) {
	defer conn.Close()

	cr := newCountingReader(conn)
	remoteAddr := conn.RemoteAddr().String()

	for {
		closeConnection, err := w.handleOneRequest(conn, cr, remoteAddr)
		if err != nil || closeConnection {
			return
		}
	}
}

// handleOneRequest implements one pass of §4.4 steps 1-8. The returned bool
// is the close_connection verdict; the returned error is non-nil only when
// the loop cannot continue regardless of that verdict (read failure, write
// failure, or idle timeout).
func (w *Worker) handleOneRequest(conn net.Conn, cr *countingReader, remoteAddr string) (bool, error) {
	start := time.Now()

	// Step 1.
	if err := conn.SetReadDeadline(start.Add(w.keepAliveTimeout())); err != nil {
		return true, err
	}

	req, err := http.ReadRequest(cr.br)
	if err != nil {
		if isIdleTimeout(err) || isPeerClosed(err) {
			// Nothing was pending when the timer fired, or the peer went
			// away between requests: a quiet teardown, not a warning.
			return true, err
		}
		if l := w.logger(); l != nil {
			l.Warning("httpworker: malformed request from %s: %v", nil, remoteAddr, err)
		}
		return true, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	headerSize := cr.socketTell()
	requestLine := fmt.Sprintf("%s %s %s", req.Method, req.RequestURI, req.Proto)

	// Step 3.
	closeConnection := req.Header.Get("Connection") == "close" ||
		!req.ProtoAtLeast(1, 1) ||
		(w.Base != nil && w.Base.Quit())

	// Step 4.
	env := buildEnviron(req, remoteAddr, "")

	// Step 5.
	resp, panicked := w.invoke(env, req.Body, requestLine, start)
	if panicked {
		closeConnection = true
	}

	// Step 6: POST keep-alive safety check. A bare read() on the request
	// body never blocks past Content-Length because http.ReadRequest's
	// body reader already enforces that bound; what we verify here is that
	// the application actually consumed the whole thing.
	if !panicked && req.Method == http.MethodPost {
		closeConnection = true
		if cl := req.Header.Get("Content-Length"); cl != "" {
			if n, convErr := strconv.ParseInt(cl, 10, 64); convErr == nil && n >= 0 {
				if cr.socketTell() == headerSize+n {
					closeConnection = false
				}
			}
		}
	}

	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	if closeConnection {
		resp.Header.Set("Connection", "close")
	}
	if w.ServerName != "" && resp.Header.Get("Server") == "" {
		resp.Header.Set("Server", w.ServerName)
	}

	if err := writeResponse(conn, req, resp); err != nil {
		if l := w.logger(); l != nil {
			l.Warning("httpworker: write failed for %q after %s: %v", nil, requestLine, time.Since(start), err)
		}
		return true, err
	}

	if w.Collector != nil {
		now := time.Now()
		w.Collector.Increment("http.requests", 1, now)
		w.Collector.LogExecTime("http.request_duration", now.Sub(start).Seconds(), now)
	}

	// Step 7: this worker has now served one more request regardless of
	// whether the connection itself stays alive; CloseRequest is what
	// enforces MaxRequests/MaxLifetime across the worker's whole service
	// life (managedserver.Base, §4.2).
	if w.Base != nil {
		w.Base.CloseRequest()
		if w.Base.Quit() {
			closeConnection = true
		}
	}

	return closeConnection, nil
}

// invoke calls the application and recovers a panic into a 500 response,
// logging at error level with a stack trace (§4.4 step 8, second case).
func (w *Worker) invoke(env Environ, body io.Reader, requestLine string, start time.Time) (resp Response, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			if l := w.logger(); l != nil {
				l.Error("httpworker: handler panic for %q after %s: %v\n%s", nil,
					requestLine, time.Since(start),
					ErrorHandlerPanic.Error(fmt.Errorf("%v", r)), string(debug.Stack()))
			}
			resp = Response{
				Status: http.StatusInternalServerError,
				Header: make(http.Header),
				Body:   []byte("Internal Server Error"),
			}
		}
	}()

	resp = w.App(env, body)
	return resp, false
}

// writeResponse writes the status line, headers, and (unless suppressed)
// body to conn in one Write call, so a slow client can never observe a
// response torn mid-header.
func writeResponse(conn net.Conn, req *http.Request, resp Response) error {
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	if resp.Header.Get("Content-Length") == "" {
		resp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", resp.Status, http.StatusText(resp.Status))
	if err := resp.Header.Write(&buf); err != nil {
		return err
	}
	buf.WriteString("\r\n")

	if req.Method != http.MethodHead && !suppressesBody(resp.Status) {
		buf.Write(resp.Body)
	}

	_, err := conn.Write(buf.Bytes())
	return err
}

func isIdleTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
