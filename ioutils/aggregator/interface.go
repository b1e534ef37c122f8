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

// Package aggregator batches writes to a slow underlying writer (a log file, a
// syslog connection) behind a single buffered goroutine, flushing on a byte
// threshold or a periodic tick, and runs an independent periodic "sync" callback
// used by callers to detect external rotation of the underlying resource.
package aggregator

import (
	"context"
	"errors"
	"time"
)

// ErrClosedResources is returned by Write once the aggregator's underlying
// resources have been closed; callers are expected to reopen and retry.
var ErrClosedResources = errors.New("aggregator: underlying resources are closed")

// FuncWriter writes a buffered chunk to the real destination.
type FuncWriter func(p []byte) (int, error)

// FuncSync is invoked every SyncTimer tick regardless of write activity.
type FuncSync func(ctx context.Context)

// FuncAsync is invoked after each flush that occurs because AsyncTimer or
// AsyncMax triggered (as opposed to an explicit Close/Start boundary).
type FuncAsync func(ctx context.Context)

// FuncError receives internal errors (failed flush, failed sync) for logging.
type FuncError func(msg string, err ...error)

// Config configures an Aggregator.
type Config struct {
	// AsyncTimer flushes the buffer on this interval even if AsyncMax isn't hit.
	// Zero disables the timer-based flush (BufWriter/explicit flush still apply).
	AsyncTimer time.Duration

	// AsyncMax flushes the buffer once it holds this many queued writes.
	// Zero disables the count-based flush.
	AsyncMax int

	// AsyncFct is called after every timer/count-triggered flush.
	AsyncFct FuncAsync

	// SyncTimer runs SyncFct on this interval, independent of buffered writes.
	SyncTimer time.Duration

	// SyncFct is the periodic maintenance callback (e.g. rotation detection).
	SyncFct FuncSync

	// BufWriter bounds the in-memory buffer size, in number of pending writes.
	BufWriter int

	// FctWriter performs the actual write to the underlying resource.
	FctWriter FuncWriter
}

// Aggregator is a started/stopped, buffered io.Writer.
type Aggregator interface {
	// Write queues p for the background flusher. It never blocks on the
	// underlying FctWriter; it returns ErrClosedResources once closed.
	Write(p []byte) (int, error)

	// SetLoggerError registers a callback for internal (flush/sync) errors.
	SetLoggerError(fct FuncError)

	// Start launches the background flush/sync goroutines.
	Start(ctx context.Context) error

	// Close stops the background goroutines, flushing any pending data.
	Close() error
}

// New builds an Aggregator from the given Config. The returned Aggregator is
// not started; call Start to begin flushing.
func New(ctx context.Context, cfg Config) (Aggregator, error) {
	if cfg.FctWriter == nil {
		return nil, errors.New("aggregator: FctWriter is required")
	}

	if cfg.BufWriter <= 0 {
		cfg.BufWriter = 64
	}

	return newAggregator(ctx, cfg), nil
}
