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
	"context"
	"net"
	"os"
	"sync/atomic"

	liblog "github.com/ahmedissa/wiseguy/logger"
	"golang.org/x/sys/unix"
)

// fileConn is satisfied by *net.UnixListener, *net.TCPListener and
// *net.UnixConn — anything that can hand back its underlying *os.File so we
// can read its raw fd for SCM_RIGHTS transfer or registry bookkeeping.
type fileConn interface {
	File() (*os.File, error)
}

// Server is the FD registry: it owns a Unix socket at a well-known path and
// answers REQ_FD/REQ_PID/REQ_ADDRS requests from clients in other processes
// (typically a new-generation supervisor's workers during a rolling restart).
type Server struct {
	path string
	log  liblog.FuncLog

	ln      net.Listener
	reg     *registry
	running atomic.Bool
}

// New creates a registry server bound to the Unix socket at path. It does not
// start accepting connections until Serve is called.
func New(path string, log liblog.FuncLog) *Server {
	return &Server{
		path: path,
		log:  log,
		reg:  newRegistry(),
	}
}

func (s *Server) logger() liblog.Logger {
	if s.log == nil {
		return nil
	}
	return s.log()
}

// RegisterListener records addr -> the raw fd backing ln, so future REQ_FD
// requests for addr can hand out a duplicate. The registry keeps its own
// reference; ln may continue to be used normally by the caller.
func (s *Server) RegisterListener(addr string, ln net.Listener) error {
	fc, ok := ln.(fileConn)
	if !ok {
		return ErrorFdTransfer.Error(nil)
	}

	f, err := fc.File()
	if err != nil {
		return ErrorFdTransfer.Error(err)
	}
	defer f.Close()

	dup, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return ErrorFdTransfer.Error(err)
	}

	s.reg.register(addr, dup)
	return nil
}

// Serve accepts registry connections until ctx is cancelled or Close is
// called. Each connection handles exactly one request then disconnects,
// per the registry's disconnect-on-completion discipline.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return ErrorListen.Error(err)
	}
	s.ln = ln
	s.running.Store(true)

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			return err
		}

		go s.handle(conn)
	}
}

// Close stops accepting new registry connections.
func (s *Server) Close() error {
	s.running.Store(false)
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	tag, err := readString(conn)
	if err != nil {
		return
	}

	switch tag {
	case TagReqFD:
		s.handleReqFD(conn)
	case TagReqPID:
		s.handleReqPID(conn)
	case TagReqAddrs:
		s.handleReqAddrs(conn)
	default:
		if l := s.logger(); l != nil {
			l.Warning("fdsock: unknown request tag %q", tag)
		}
	}
}

func (s *Server) handleReqFD(conn net.Conn) {
	addr, err := readString(conn)
	if err != nil {
		return
	}

	fd, ok := s.reg.lookup(addr)
	if !ok {
		_ = writeString(conn, TagError)
		_ = writeString(conn, "no fd matching "+addr)
		return
	}

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		_ = writeString(conn, TagError)
		_ = writeString(conn, "registry socket is not a unix connection")
		return
	}

	if err := writeString(conn, TagOK); err != nil {
		return
	}

	rights := unix.UnixRights(fd)

	f, err := uc.File()
	if err != nil {
		return
	}
	defer f.Close()

	_ = unix.Sendmsg(int(f.Fd()), nil, rights, nil, 0)
}

func (s *Server) handleReqPID(conn net.Conn) {
	if err := writeString(conn, TagOK); err != nil {
		return
	}
	_ = writeUint32(conn, uint32(os.Getpid()))
}

func (s *Server) handleReqAddrs(conn net.Conn) {
	if err := writeString(conn, TagOK); err != nil {
		return
	}
	_ = writeString(conn, s.reg.addrs())
}
