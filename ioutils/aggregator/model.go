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

package aggregator

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmedissa/wiseguy/runner/startStop"
)

type agg struct {
	cfg Config
	run startStop.Runner

	mu     sync.Mutex
	queue  [][]byte
	closed atomic.Bool

	errFct atomic.Value // FuncError
}

func newAggregator(_ context.Context, cfg Config) *agg {
	a := &agg{cfg: cfg}
	a.run = startStop.New(a.run0, a.stop0)
	return a
}

func (a *agg) Write(p []byte) (int, error) {
	if a.closed.Load() {
		return 0, ErrClosedResources
	}

	cp := make([]byte, len(p))
	copy(cp, p)

	a.mu.Lock()
	a.queue = append(a.queue, cp)
	n := len(a.queue)
	a.mu.Unlock()

	if a.cfg.AsyncMax > 0 && n >= a.cfg.AsyncMax {
		a.flush(context.Background())
	}

	return len(p), nil
}

func (a *agg) SetLoggerError(fct FuncError) {
	a.errFct.Store(fct)
}

func (a *agg) logError(msg string, err ...error) {
	if v := a.errFct.Load(); v != nil {
		if fct, ok := v.(FuncError); ok && fct != nil {
			fct(msg, err...)
		}
	}
}

func (a *agg) Start(ctx context.Context) error {
	return a.run.Start(ctx)
}

func (a *agg) Close() error {
	return a.run.Stop(context.Background())
}

func (a *agg) run0(ctx context.Context) error {
	go a.loop(ctx)
	return nil
}

func (a *agg) stop0(ctx context.Context) error {
	a.closed.Store(true)
	a.flush(ctx)
	return nil
}

func (a *agg) loop(ctx context.Context) {
	var asyncC <-chan time.Time
	if a.cfg.AsyncTimer > 0 {
		t := time.NewTicker(a.cfg.AsyncTimer)
		defer t.Stop()
		asyncC = t.C
	}

	var syncC <-chan time.Time
	if a.cfg.SyncTimer > 0 {
		t := time.NewTicker(a.cfg.SyncTimer)
		defer t.Stop()
		syncC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-asyncC:
			a.flush(ctx)
			if a.cfg.AsyncFct != nil {
				a.cfg.AsyncFct(ctx)
			}
		case <-syncC:
			if a.cfg.SyncFct != nil {
				a.cfg.SyncFct(ctx)
			}
		}
	}
}

func (a *agg) flush(ctx context.Context) {
	a.mu.Lock()
	if len(a.queue) == 0 {
		a.mu.Unlock()
		return
	}
	pending := a.queue
	a.queue = nil
	a.mu.Unlock()

	var buf bytes.Buffer
	for _, p := range pending {
		buf.Write(p)
	}

	if _, err := a.cfg.FctWriter(buf.Bytes()); err != nil {
		a.logError("aggregator: flush failed", err)
	}

	_ = ctx
}
