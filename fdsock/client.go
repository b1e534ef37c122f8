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
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Client is the counterpart to Server, used by a new-generation worker
// during a rolling restart to fetch the previous generation's listening fd
// for a given canonical bind address, rather than racing a fresh bind.
//
// Each method dials a fresh connection, performs exactly one request, and
// disconnects — matching the registry's disconnect-on-completion discipline
// (§4.1); Client holds no persistent connection.
type Client struct {
	path string
}

// NewClient returns a Client that dials the registry's Unix socket at path
// for every request.
func NewClient(path string) *Client {
	return &Client{path: path}
}

func (c *Client) dial() (*net.UnixConn, error) {
	conn, err := net.Dial("unix", c.path)
	if err != nil {
		return nil, ErrorClientDial.Error(err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		return nil, ErrorClientDial.Error(nil)
	}
	return uc, nil
}

// RequestFD asks the registry for the listening fd registered under addr.
// On success it returns a duplicate *os.File the caller owns; the registry
// retains its own reference (§4.1 "client duplicates the fd into its address
// space; server retains its own reference").
func (c *Client) RequestFD(addr string) (*os.File, error) {
	uc, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer uc.Close()

	if err := writeString(uc, TagReqFD); err != nil {
		return nil, ErrorClientDial.Error(err)
	}
	if err := writeString(uc, addr); err != nil {
		return nil, ErrorClientDial.Error(err)
	}

	tag, err := readString(uc)
	if err != nil {
		return nil, ErrorClientResponse.Error(err)
	}

	switch tag {
	case TagOK:
		// The server writes the OK frame with a plain Write, then sends the
		// fd as a separate Sendmsg carrying SCM_RIGHTS with no regular
		// payload bytes. SCM_RIGHTS can only be retrieved via recvmsg, so
		// we must use ReadMsgUnix here even though there are zero regular
		// bytes to read — a plain Read would silently drop the ancillary
		// data (§9 design note: fd reception is part of the same protocol
		// step as the OK frame, received immediately after it).
		oob := make([]byte, unix.CmsgSpace(4))
		_, oobn, _, _, err := uc.ReadMsgUnix(nil, oob)
		if err != nil {
			return nil, ErrorFdTransfer.Error(err)
		}

		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil || len(msgs) == 0 {
			return nil, ErrorFdTransfer.Error(err)
		}

		fds, err := unix.ParseUnixRights(&msgs[0])
		if err != nil || len(fds) == 0 {
			return nil, ErrorFdTransfer.Error(err)
		}
		return os.NewFile(uintptr(fds[0]), addr), nil
	case TagError:
		reason, _ := readString(uc)
		return nil, ErrorClientResponse.Error(errors.New(reason))
	default:
		return nil, ErrorUnknownTag.Error(nil)
	}
}

// RequestPID asks the registry for its own process id.
func (c *Client) RequestPID() (int, error) {
	uc, err := c.dial()
	if err != nil {
		return 0, err
	}
	defer uc.Close()

	if err := writeString(uc, TagReqPID); err != nil {
		return 0, ErrorClientDial.Error(err)
	}

	tag, err := readString(uc)
	if err != nil {
		return 0, ErrorClientResponse.Error(err)
	}
	if tag != TagOK {
		reason, _ := readString(uc)
		return 0, ErrorClientResponse.Error(errors.New(reason))
	}

	pid, err := readUint32(uc)
	if err != nil {
		return 0, ErrorClientResponse.Error(err)
	}
	return int(pid), nil
}

// RequestAddrs asks the registry for its currently registered addresses.
func (c *Client) RequestAddrs() (string, error) {
	uc, err := c.dial()
	if err != nil {
		return "", err
	}
	defer uc.Close()

	if err := writeString(uc, TagReqAddrs); err != nil {
		return "", ErrorClientDial.Error(err)
	}

	tag, err := readString(uc)
	if err != nil {
		return "", ErrorClientResponse.Error(err)
	}
	if tag != TagOK {
		reason, _ := readString(uc)
		return "", ErrorClientResponse.Error(errors.New(reason))
	}

	return readString(uc)
}
