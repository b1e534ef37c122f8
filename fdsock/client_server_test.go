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

package fdsock_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ahmedissa/wiseguy/fdsock"
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// sockname returns the getsockname() result for fd, used to prove a
// REQ_FD round trip returns a duplicate of the exact same underlying socket.
func sockname(fd int) (unix.Sockaddr, error) {
	return unix.Getsockname(fd)
}

var _ = Describe("FD registry round trip", func() {
	var (
		sockPath string
		server   *fdsock.Server
		cancel   context.CancelFunc
		done     chan struct{}
	)

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		sockPath = filepath.Join(dir, "fd.sock")

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		server = fdsock.New(sockPath, nil)
		done = make(chan struct{})

		go func() {
			defer close(done)
			_ = server.Serve(ctx)
		}()

		Eventually(func() error {
			_, err := os.Stat(sockPath)
			return err
		}).Should(Succeed())
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(BeClosed())
	})

	It("answers REQ_PID with the server's own process id", func() {
		client := fdsock.NewClient(sockPath)
		pid, err := client.RequestPID()
		Expect(err).NotTo(HaveOccurred())
		Expect(pid).To(Equal(os.Getpid()))
	})

	It("answers REQ_ADDRS with every registered address", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()

		addr := ln.Addr().String()
		Expect(server.RegisterListener(addr, ln)).To(Succeed())

		client := fdsock.NewClient(sockPath)
		addrs, err := client.RequestAddrs()
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Split(addrs, "\n")).To(ContainElement(addr))
	})

	It("hands out a duplicate fd referring to the same underlying socket", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()

		addr := ln.Addr().String()
		Expect(server.RegisterListener(addr, ln)).To(Succeed())

		tcpLn := ln.(*net.TCPListener)
		lnFile, err := tcpLn.File()
		Expect(err).NotTo(HaveOccurred())
		defer lnFile.Close()

		wantName, err := sockname(int(lnFile.Fd()))
		Expect(err).NotTo(HaveOccurred())

		client := fdsock.NewClient(sockPath)
		f, err := client.RequestFD(addr)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		gotName, err := sockname(int(f.Fd()))
		Expect(err).NotTo(HaveOccurred())

		Expect(fmt.Sprintf("%v", gotName)).To(Equal(fmt.Sprintf("%v", wantName)))
	})

	It("returns ERROR for an address nothing was registered under", func() {
		client := fdsock.NewClient(sockPath)
		_, err := client.RequestFD("127.0.0.1:1")
		Expect(err).To(HaveOccurred())
	})

	It("never evicts an entry on a malformed client request", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()
		addr := ln.Addr().String()
		Expect(server.RegisterListener(addr, ln)).To(Succeed())

		// A raw connection that sends an unknown tag and disconnects must
		// not disturb the registry's existing entries.
		raw, err := net.DialTimeout("unix", sockPath, time.Second)
		Expect(err).NotTo(HaveOccurred())
		_, _ = raw.Write([]byte("bogus"))
		_ = raw.Close()

		client := fdsock.NewClient(sockPath)
		addrs, err := client.RequestAddrs()
		Expect(err).NotTo(HaveOccurred())
		Expect(addrs).To(ContainSubstring(addr))
	})
})
