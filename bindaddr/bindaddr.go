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

// Package bindaddr parses and canonicalizes listening-address specifications:
// either a Unix domain socket path (starting with "/") or a host:port pair.
// The canonical string form is the key used throughout fdsock's registry.
package bindaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Family identifies the socket family a bind address belongs to.
type Family uint8

const (
	Unknown Family = iota
	Unix
	TCP
)

func (f Family) String() string {
	switch f {
	case Unix:
		return "unix"
	case TCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Addr is a parsed, canonical bind address.
type Addr struct {
	Family Family
	Path   string // set when Family == Unix
	Host   string // set when Family == TCP
	Port   int    // set when Family == TCP
}

// Parse interprets raw as either a Unix socket path ("/run/app.sock") or a
// "host:port" pair ("127.0.0.1:8080", ":8080"). A leading "/" always selects
// the Unix family; anything else is split as host:port.
func Parse(raw string) (Addr, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Addr{}, fmt.Errorf("bindaddr: empty address")
	}

	if strings.HasPrefix(raw, "/") {
		return Addr{Family: Unix, Path: raw}, nil
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return Addr{}, fmt.Errorf("bindaddr: invalid host:port %q: %w", raw, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Addr{}, fmt.Errorf("bindaddr: invalid port in %q: %w", raw, err)
	}

	return Addr{Family: TCP, Host: host, Port: port}, nil
}

// String renders the canonical bind string: the raw path for Unix, or
// "host:port" for TCP — exactly the key used as the fd registry lookup.
func (a Addr) String() string {
	switch a.Family {
	case Unix:
		return a.Path
	case TCP:
		return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
	default:
		return ""
	}
}

// Network returns the net.Listen network argument for this address family.
func (a Addr) Network() string {
	switch a.Family {
	case Unix:
		return "unix"
	case TCP:
		return "tcp"
	default:
		return ""
	}
}

// Domain returns the raw socket domain (AF_UNIX/AF_INET) backing this
// address, for callers building a listening socket with raw syscalls
// instead of net.Listen (managedserver's bind/activate split, §4.2).
func (a Addr) Domain() (int, error) {
	switch a.Family {
	case Unix:
		return unix.AF_UNIX, nil
	case TCP:
		if ip := net.ParseIP(a.Host); ip != nil && ip.To4() == nil {
			return unix.AF_INET6, nil
		}
		return unix.AF_INET, nil
	default:
		return 0, fmt.Errorf("bindaddr: unknown family")
	}
}

// Sockaddr returns the unix.Sockaddr value to pass to unix.Bind for this
// address.
func (a Addr) Sockaddr() (unix.Sockaddr, error) {
	switch a.Family {
	case Unix:
		return &unix.SockaddrUnix{Name: a.Path}, nil
	case TCP:
		ip := net.ParseIP(a.Host)
		if a.Host == "" {
			ip = net.IPv4zero
		}
		if ip == nil {
			resolved, err := net.ResolveIPAddr("ip", a.Host)
			if err != nil {
				return nil, fmt.Errorf("bindaddr: cannot resolve host %q: %w", a.Host, err)
			}
			ip = resolved.IP
		}
		if v4 := ip.To4(); v4 != nil {
			var sa unix.SockaddrInet4
			sa.Port = a.Port
			copy(sa.Addr[:], v4)
			return &sa, nil
		}
		var sa unix.SockaddrInet6
		sa.Port = a.Port
		copy(sa.Addr[:], ip.To16())
		return &sa, nil
	default:
		return nil, fmt.Errorf("bindaddr: unknown family")
	}
}
