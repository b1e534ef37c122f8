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
	"bufio"
	"net"
)

// countingConn wraps a net.Conn with a byte-counting reader — our analog of
// the Python original's SocketFileWrapper.socket_tell(). http.ReadRequest
// and the POST safety check both need to know how many bytes have actually
// been *delivered* to the logical read stream, not how many bytes bufio has
// merely pulled ahead into its internal buffer.
//
// totalPulled counts every byte physically read off the connection; the
// delivered count subtracts whatever bufio is still holding unconsumed
// (br.Buffered()), giving exactly the position the caller's reads have
// reached — matching what the original counts at the makefile()-wrapper
// level, one layer above the raw socket.
type countingConn struct {
	net.Conn
	totalPulled int64
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.totalPulled += int64(n)
	return n, err
}

// countingReader pairs a countingConn with the single *bufio.Reader that
// persists across every request on this connection (so a pipelined
// keep-alive request's bytes, read ahead by bufio during the previous
// request's header parse, are not lost).
type countingReader struct {
	cc *countingConn
	br *bufio.Reader
}

func newCountingReader(conn net.Conn) *countingReader {
	cc := &countingConn{Conn: conn}
	return &countingReader{cc: cc, br: bufio.NewReader(cc)}
}

// socketTell reports the number of bytes delivered to the logical read
// stream so far: physically-read bytes minus whatever bufio is still
// sitting on, unconsumed.
func (r *countingReader) socketTell() int64 {
	return r.cc.totalPulled - int64(r.br.Buffered())
}
