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

package httpworker

import (
	"io"
	"net/http"
)

// App is the application hook invoked once per request. It plays the role
// of WSGI's (environ, start_response) callable: given the built Environ and
// the request body, it returns the full Response to write. Returning a
// value rather than streaming through a start_response callback is what
// lets the worker decide the Connection header after the handler has
// already run, which is exactly the ordering step 5/6 require.
//
// body is whatever http.ReadRequest produced for this request: reading it
// only as far as the application chooses to is the point — the worker
// never drains it on the application's behalf, so the POST safety check
// (step 6) can tell a fully-consumed body from a partially-consumed one.
type App func(env Environ, body io.Reader) Response

// Response is the status/header/body triple the worker writes to the wire.
// The worker — not the application — inserts Connection: close when the
// keep-alive state machine calls for it (step 5).
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// suppressesBody reports whether status forbids a message body per HTTP
// semantics (1xx, 204, 304) — the worker strips Body before writing in that
// case regardless of what the application returned (§6).
func suppressesBody(status int) bool {
	return (status >= 100 && status < 200) || status == http.StatusNoContent || status == http.StatusNotModified
}
