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

// Package startStop provides a small, reusable goroutine-lifecycle primitive:
// a start function and a stop function wrapped behind Start/Stop/IsRunning/Uptime,
// with concurrent Start/Stop calls serialized and idempotent.
package startStop

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyRunning is returned by Start when the runner is already started.
var ErrAlreadyRunning = errors.New("runner: already running")

// ErrNotRunning is returned by Stop when the runner is not started.
var ErrNotRunning = errors.New("runner: not running")

// FuncStart is called by Start. A nil return means the runner is now running.
type FuncStart func(ctx context.Context) error

// FuncStop is called by Stop to release whatever FuncStart acquired.
type FuncStop func(ctx context.Context) error

// Runner wraps a start/stop pair behind a small lifecycle contract.
type Runner interface {
	// Start invokes the start function if not already running.
	Start(ctx context.Context) error

	// Stop invokes the stop function if currently running.
	Stop(ctx context.Context) error

	// IsRunning reports whether Start has succeeded and Stop has not yet been called.
	IsRunning() bool

	// Uptime reports how long the runner has been running, or 0 if not running.
	Uptime() time.Duration
}

// New returns a Runner wrapping the given start/stop functions.
func New(start FuncStart, stop FuncStop) Runner {
	return &runner{
		fctStart: start,
		fctStop:  stop,
	}
}
