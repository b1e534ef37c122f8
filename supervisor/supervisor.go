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

// Package supervisor implements the preforking process model (C4): a
// supervisor process that re-execs itself N times to produce workers
// sharing one listening socket, reaps and restarts them on unexpected exit
// with an exponential backoff ceiling, and drives rolling restarts and
// signal-triggered drains while keeping the worker pool within N-1..N+1.
//
// The Go runtime cannot safely POSIX-fork() once its scheduler has started
// goroutines, so "fork" here means re-executing os.Args[0] with a marker
// env var and the listening socket passed down via os/exec's ExtraFiles —
// the same shape valyala/fasthttp's prefork package uses, adapted to pass a
// generation number and support a readiness handshake.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	libpool "github.com/ahmedissa/wiseguy/errors/pool"
	liblog "github.com/ahmedissa/wiseguy/logger"
)

const (
	DefaultReadyTimeout = 2 * time.Second
	DefaultDrainTimeout = 10 * time.Second
	DefaultBackoffMin   = 50 * time.Millisecond
	DefaultBackoffMax   = 5 * time.Second
)

// Supervisor owns the worker pool for one listening socket.
type Supervisor struct {
	// BinaryPath defaults to os.Args[0]; Args defaults to os.Args[1:].
	BinaryPath string
	Args       []string

	// Listener is the shared listening socket, already bound and
	// activated (managedserver.Base.Bind/Activate), handed down to every
	// spawned worker on fd 3.
	Listener net.Listener

	PoolSize int

	ReadyTimeout time.Duration
	DrainTimeout time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration

	// RecoverThreshold bounds the total number of unexpected worker exits
	// tolerated over the supervisor's lifetime before it gives up and
	// returns an error instead of continuing to respawn (§7 "child crash
	// loop ... after threshold, exit with non-zero status so an external
	// init can restart"). Zero means no threshold. Grounded on
	// valyala/fasthttp prefork's RecoverThreshold field.
	RecoverThreshold int

	// PreviousAdminAddr holds the outgoing generation's admin listen
	// address (§4.3's "micro-management address") when the caller sets
	// it. Supervisor neither fills it in during a handoff nor reads it,
	// and nothing in this package proxies requests to that address.
	PreviousAdminAddr string

	Log liblog.FuncLog

	lnFile     *os.File
	mu         sync.Mutex
	workers    map[int]*Worker
	generation atomic.Int64
	quit       atomic.Bool
	crashCount int
}

func (s *Supervisor) logger() liblog.Logger {
	if s.Log == nil {
		return nil
	}
	return s.Log()
}

func (s *Supervisor) binaryPath() string {
	if s.BinaryPath != "" {
		return s.BinaryPath
	}
	return os.Args[0]
}

func (s *Supervisor) args() []string {
	if s.Args != nil {
		return s.Args
	}
	return os.Args[1:]
}

func (s *Supervisor) readyTimeout() time.Duration {
	if s.ReadyTimeout > 0 {
		return s.ReadyTimeout
	}
	return DefaultReadyTimeout
}

func (s *Supervisor) drainTimeout() time.Duration {
	if s.DrainTimeout > 0 {
		return s.DrainTimeout
	}
	return DefaultDrainTimeout
}

func (s *Supervisor) backoffMin() time.Duration {
	if s.BackoffMin > 0 {
		return s.BackoffMin
	}
	return DefaultBackoffMin
}

func (s *Supervisor) backoffMax() time.Duration {
	if s.BackoffMax > 0 {
		return s.BackoffMax
	}
	return DefaultBackoffMax
}

func (s *Supervisor) listenerFile() (*os.File, error) {
	fc, ok := s.Listener.(interface{ File() (*os.File, error) })
	if !ok {
		return nil, ErrorListenerFile.Error(nil)
	}
	return fc.File()
}

// Workers returns a snapshot of the current worker pool (for the admin
// surface's GET /workers, §4.7).
func (s *Supervisor) Workers() []*Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out
}

// Reload triggers a rolling restart from outside the process — the admin
// surface's POST /reload (§4.7) — by delivering SIGHUP to the running
// process, the same signal Run's own HUP handler reacts to (§4.3).
func (s *Supervisor) Reload() error {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return ErrorSpawn.Error(err)
	}
	return p.Signal(syscall.SIGHUP)
}

type exitEvent struct {
	w   *Worker
	err error
}

// spawn starts one new worker process at the given generation and blocks
// until it either signals ready or the ready timeout elapses.
func (s *Supervisor) spawn(gen int) (*Worker, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, ErrorSpawn.Error(err)
	}

	cmd := exec.Command(s.binaryPath(), s.args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=1", EnvWorkerFlag),
		fmt.Sprintf("%s=%d", EnvGeneration, gen),
	)
	cmd.ExtraFiles = []*os.File{s.lnFile, pw}

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, ErrorSpawn.Error(err)
	}
	_ = pw.Close()

	w := &Worker{
		Generation: gen,
		Pid:        cmd.Process.Pid,
		StartTime:  time.Now(),
		cmd:        cmd,
		readyR:     pr,
		exited:     make(chan error, 1),
	}
	w.setState(StateStarting)

	go func() {
		w.exited <- cmd.Wait()
	}()

	return w, nil
}

// waitReady blocks until w writes its readiness byte or timeout elapses. A
// timed-out worker is left running (the caller is responsible for killing
// it) since it may simply be slow, not broken.
func (s *Supervisor) waitReady(w *Worker, timeout time.Duration) error {
	result := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := w.readyR.Read(buf)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			return ErrorReadyTimeout.Error(err)
		}
		w.setState(StateServing)
		return nil
	case <-time.After(timeout):
		return ErrorReadyTimeout.Error(nil)
	}
}

// spawnAndTrack spawns a worker, waits for readiness, registers it, and
// wires its exit into exitCh.
func (s *Supervisor) spawnAndTrack(gen int, exitCh chan<- exitEvent) (*Worker, error) {
	w, err := s.spawn(gen)
	if err != nil {
		return nil, err
	}

	if err := s.waitReady(w, s.readyTimeout()); err != nil {
		_ = w.Signal(syscall.SIGKILL)
		return nil, err
	}

	s.mu.Lock()
	s.workers[w.Pid] = w
	s.mu.Unlock()

	go func() {
		err := <-w.exited
		w.setState(StateDead)
		exitCh <- exitEvent{w: w, err: err}
	}()

	return w, nil
}

// Run spawns the initial worker pool and then reaps/restarts/rolling-
// restarts it until ctx is cancelled, at which point it drains the pool
// and returns. It installs its own TERM/INT/HUP handling on top of ctx
// cancellation: TERM/INT cancel ctx (drain path); HUP triggers a rolling
// restart without affecting ctx. Each HUP replaces one old-generation
// worker (see rollingRestartOnce); the other old-generation workers keep
// serving.
func (s *Supervisor) Run(ctx context.Context) error {
	lnFile, err := s.listenerFile()
	if err != nil {
		return err
	}
	s.lnFile = lnFile
	defer lnFile.Close()

	s.workers = make(map[int]*Worker, s.PoolSize)

	sig := make(chan os.Signal, 4)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sig)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exitCh := make(chan exitEvent, s.PoolSize*2+4)
	restartCh := make(chan struct{}, 1)

	for i := 0; i < s.PoolSize; i++ {
		if _, err := s.spawnAndTrack(int(s.generation.Load()), exitCh); err != nil {
			return err
		}
	}

	backoff := s.backoffMin()

	for {
		select {
		case <-ctx.Done():
			s.drain(exitCh)
			return nil

		case received := <-sig:
			switch received {
			case syscall.SIGTERM, syscall.SIGINT:
				cancel()
			case syscall.SIGHUP:
				select {
				case restartCh <- struct{}{}:
				default:
				}
			}

		case <-restartCh:
			if err := s.rollingRestartOnce(exitCh); err != nil && s.logger() != nil {
				s.logger().Error("supervisor: rolling restart failed: %v", nil, err)
			}

		case ev := <-exitCh:
			s.mu.Lock()
			delete(s.workers, ev.w.Pid)
			s.mu.Unlock()

			if s.quit.Load() || ev.w.State() == StateDraining {
				// Expected retirement (shutdown in progress, or this
				// worker was TERM'd by a rolling restart); no respawn.
				continue
			}

			if ev.err != nil {
				if l := s.logger(); l != nil {
					l.Warning("supervisor: worker pid=%d generation=%d exited unexpectedly: %v",
						nil, ev.w.Pid, ev.w.Generation, ev.err)
				}

				s.crashCount++
				if s.RecoverThreshold > 0 && s.crashCount > s.RecoverThreshold {
					if l := s.logger(); l != nil {
						l.Error("supervisor: %d unexpected worker exits exceeds recover threshold %d, giving up",
							nil, s.crashCount, s.RecoverThreshold)
					}
					s.drain(exitCh)
					return ErrorRecoverThreshold.Error(ev.err)
				}

				time.Sleep(backoff)
				backoff *= 2
				if backoff > s.backoffMax() {
					backoff = s.backoffMax()
				}
			} else {
				backoff = s.backoffMin()
			}

			if _, err := s.spawnAndTrack(ev.w.Generation, exitCh); err != nil {
				if l := s.logger(); l != nil {
					l.Error("supervisor: failed to respawn worker: %v", nil, err)
				}
			}
		}
	}
}

// rollingRestartOnce implements one HUP cycle (§4.3): start a new-
// generation worker, wait for its readiness signal, then TERM exactly one
// old-generation worker — keeping the pool within N-1..N+1 throughout.
func (s *Supervisor) rollingRestartOnce(exitCh chan<- exitEvent) error {
	newGen := int(s.generation.Add(1))

	s.mu.Lock()
	var oldest *Worker
	for _, w := range s.workers {
		if w.Generation < newGen && (oldest == nil || w.StartTime.Before(oldest.StartTime)) {
			oldest = w
		}
	}
	s.mu.Unlock()

	if _, err := s.spawnAndTrack(newGen, exitCh); err != nil {
		s.generation.Add(-1)
		return err
	}

	if oldest != nil {
		oldest.setState(StateDraining)
		_ = oldest.Signal(syscall.SIGTERM)
	}

	return nil
}

// drain TERMs every worker, waits up to DrainTimeout for them to exit
// (observed via exitCh, the same queue spawnAndTrack's forwarding
// goroutines feed during normal operation), and SIGKILLs any survivor once
// the deadline passes. Signal failures across the pool are collected rather
// than silently dropped, since a drain that can't be delivered to one
// worker shouldn't hide failures against the others.
func (s *Supervisor) drain(exitCh <-chan exitEvent) {
	s.quit.Store(true)

	sigErrs := libpool.New()

	s.mu.Lock()
	remaining := make(map[int]bool, len(s.workers))
	for pid, w := range s.workers {
		w.setState(StateDraining)
		remaining[pid] = true
		sigErrs.Add(w.Signal(syscall.SIGTERM))
	}
	s.mu.Unlock()

	deadline := time.NewTimer(s.drainTimeout())
	defer deadline.Stop()

	for len(remaining) > 0 {
		select {
		case ev := <-exitCh:
			delete(remaining, ev.w.Pid)
			s.mu.Lock()
			delete(s.workers, ev.w.Pid)
			s.mu.Unlock()

		case <-deadline.C:
			s.mu.Lock()
			for pid := range remaining {
				if w, ok := s.workers[pid]; ok {
					sigErrs.Add(w.Signal(syscall.SIGKILL))
				}
			}
			s.mu.Unlock()
			s.logDrainErrors(sigErrs)
			return
		}
	}

	s.logDrainErrors(sigErrs)
}

func (s *Supervisor) logDrainErrors(sigErrs libpool.Pool) {
	if sigErrs.Len() == 0 {
		return
	}
	if l := s.logger(); l != nil {
		l.Warning("supervisor: drain signal errors: %v", nil, sigErrs.Error())
	}
}
