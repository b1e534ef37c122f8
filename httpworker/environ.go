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
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Environ is the per-request environment dictionary handed to the
// application, built key-for-key per §4.4 step 4 / the original's
// get_environ.
type Environ map[string]string

// headerEnvKey upper-cases a header name and maps '-' to '_', matching the
// original's translate_header_table, then prefixes it with HTTP_.
func headerEnvKey(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 5)
	b.WriteString("HTTP_")
	for _, r := range name {
		if r == '-' {
			b.WriteByte('_')
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// buildEnviron builds the environment dictionary for req, arriving over a
// connection whose remote address is remoteAddr. remoteHost, if non-empty
// and different from the bare IP in remoteAddr, is also exposed as
// REMOTE_HOST (the original only sets this when address_string() —
// optional reverse-DNS — differs from the raw client IP; we never do
// reverse DNS ourselves, so callers pass remoteHost only when they already
// have it).
func buildEnviron(req *http.Request, remoteAddr, remoteHost string) Environ {
	env := make(Environ, 8+len(req.Header))

	env["SERVER_PROTOCOL"] = req.Proto
	env["REQUEST_METHOD"] = req.Method

	path := req.URL.Path
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	env["PATH_INFO"] = path
	env["QUERY_STRING"] = req.URL.RawQuery

	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	env["REMOTE_ADDR"] = host
	if remoteHost != "" && remoteHost != host {
		env["REMOTE_HOST"] = remoteHost
	}

	if ct := req.Header.Get("Content-Type"); ct != "" {
		env["CONTENT_TYPE"] = ct
	}
	if cl := req.Header.Get("Content-Length"); cl != "" {
		env["CONTENT_LENGTH"] = cl
	}

	for name, values := range req.Header {
		lower := strings.ToLower(name)
		if lower == "content-type" || lower == "content-length" {
			continue
		}
		key := headerEnvKey(name)
		// Repeated headers are comma-joined in insertion order (§4.4 step 4).
		env[key] = strings.Join(values, ",")
	}

	return env
}
