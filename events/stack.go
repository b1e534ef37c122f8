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

package events

import "sync"

// Stack is an explicit, worker-owned collector stack (§4.6, §9). Opening a
// sub-collector pushes a fresh Collector; closing it merges into whatever
// is now on top and pops. Closing anything but the top collector fails.
//
// The Python original reaches this through a process-global list and an
// EventCollectorProxy; here the stack is a plain value the worker loop
// holds and passes explicitly, per spec §9's design note against a global.
type Stack struct {
	mu    sync.Mutex
	stack []*Collector
}

// NewStack returns a Stack seeded with one root collector, mirroring
// get_event_collector()'s lazy base-collector creation.
func NewStack() *Stack {
	return &Stack{stack: []*Collector{New()}}
}

// Current returns the collector on top of the stack.
func (s *Stack) Current() *Collector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack[len(s.stack)-1]
}

// Push opens a new sub-collector, to scope a subset of the program's
// events (e.g. a single request) before folding them into the parent.
func (s *Stack) Push() *Collector {
	c := New()
	s.mu.Lock()
	s.stack = append(s.stack, c)
	s.mu.Unlock()
	return c
}

// Pop closes c, merging it into the collector now beneath it on the stack.
// It returns ErrorCloseNonTop if c is not the current top of the stack.
func (s *Stack) Pop(c *Collector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.stack) == 0 || s.stack[len(s.stack)-1] != c {
		return ErrorCloseNonTop.Error(nil)
	}
	if len(s.stack) == 1 {
		// The root collector is never merged away; popping it would leave
		// the stack empty and break Current().
		return ErrorCloseNonTop.Error(nil)
	}

	s.stack = s.stack[:len(s.stack)-1]
	s.stack[len(s.stack)-1].Merge(c)
	return nil
}

// Depth reports how many collectors are currently on the stack.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}
