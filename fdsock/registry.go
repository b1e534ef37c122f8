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
	"sort"
	"strings"
	"sync"
)

// registry maps canonical bind-address strings to their listening fd. Entries
// are inserted on bind/handoff and removed only on process exit; a client
// error never evicts an entry.
type registry struct {
	mu  sync.Mutex
	fds map[string]int
}

func newRegistry() *registry {
	return &registry{fds: make(map[string]int)}
}

func (r *registry) register(addr string, fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fds[addr] = fd
}

func (r *registry) lookup(addr string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd, ok := r.fds[addr]
	return fd, ok
}

// addrs returns a sorted, newline-joined listing of registered addresses —
// the human-readable payload returned for REQ_ADDRS.
func (r *registry) addrs() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.fds))
	for k := range r.fds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, "\n")
}
