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

// Package fdsock implements the listening-socket handoff protocol: a registry
// server holds canonical-bind-address -> listening-fd mappings and lends
// duplicates to clients over SCM_RIGHTS ancillary data on a Unix socket.
package fdsock

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Request tags, sent by the client as a length-prefixed frame.
const (
	TagReqFD    = "REQ_FD"
	TagReqPID   = "REQ_PID"
	TagReqAddrs = "REQ_ADDRS"
)

// Response tags, sent by the server as a length-prefixed frame.
const (
	TagOK    = "OK"
	TagError = "ERROR"
)

// maxFrame bounds a single length-prefixed payload; registry addresses and
// error strings are small, this only guards against a corrupt peer.
const maxFrame = 1 << 20

// writeFrame writes a 4-byte big-endian length followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads a 4-byte big-endian length followed by that many bytes.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrame {
		return nil, fmt.Errorf("fdsock: frame of %d bytes exceeds maximum %d", n, maxFrame)
	}

	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// writeString writes a tag string as a length-prefixed frame.
func writeString(w io.Writer, s string) error {
	return writeFrame(w, []byte(s))
}

// readString reads a length-prefixed frame and returns it as a string.
func readString(r io.Reader) (string, error) {
	b, err := readFrame(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// writeUint32 writes a bare 4-byte big-endian integer (used for REQ_PID's
// response, which per the wire protocol is not itself length-prefixed).
func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// readUint32 reads a bare 4-byte big-endian integer.
func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
