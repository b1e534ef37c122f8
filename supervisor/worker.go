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

package supervisor

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"
)

// Environment variables the supervisor uses to mark a re-exec'd child as a
// worker and tell it which generation it belongs to, in place of the
// POSIX fork() the Go runtime cannot safely perform once its scheduler is
// running (grounded on valyala/fasthttp's prefork package, which does the
// same re-exec dance with a CLI flag instead of env vars).
const (
	EnvWorkerFlag = "WISEGUY_WORKER"
	EnvGeneration = "WISEGUY_WORKER_GENERATION"

	// listenerFD and readyFD are the ExtraFiles slots a spawned worker
	// inherits: index 0 maps to fd 3, index 1 to fd 4.
	listenerFD = 3
	readyFD    = 4
)

// IsWorker reports whether the current process was re-exec'd by a
// supervisor (as opposed to being the supervisor itself).
func IsWorker() bool {
	return os.Getenv(EnvWorkerFlag) == "1"
}

// WorkerGeneration reads the generation number a worker process was told it
// belongs to. ok is false if this process isn't a worker or the env var is
// missing/malformed.
func WorkerGeneration() (gen int, ok bool) {
	if !IsWorker() {
		return 0, false
	}
	n, err := strconv.Atoi(os.Getenv(EnvGeneration))
	if err != nil {
		return 0, false
	}
	return n, true
}

// AdoptListener wraps the listening socket a worker inherited from its
// supervisor on fd 3.
func AdoptListener() (net.Listener, error) {
	f := os.NewFile(listenerFD, "wiseguy-listener")
	return net.FileListener(f)
}

// SignalReady writes one byte down the inherited ready pipe (fd 4) to tell
// the supervisor this worker has finished initializing and is ready to
// accept connections — the readiness handshake the rolling-restart
// algorithm (§4.3) waits on before retiring an old-generation worker.
// Grounded on Ankit-Kulkarni-go-experiments' graceful_restarts SocketHandoff
// ready-pipe pattern.
func SignalReady() error {
	f := os.NewFile(readyFD, "wiseguy-ready")
	if f == nil {
		return ErrorReadyTimeout.Error(nil)
	}
	defer f.Close()
	_, err := f.Write([]byte{1})
	return err
}

// State is a worker record's lifecycle stage.
type State int32

const (
	StateStarting State = iota
	StateServing
	StateDraining
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Worker is the supervisor's record of one child process.
type Worker struct {
	Generation int
	Pid        int
	StartTime  time.Time

	state atomic.Int32

	cmd    *exec.Cmd
	readyR *os.File
	exited chan error
}

// State returns the worker's current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Signal delivers a signal to the worker's process directly, bypassing the
// process group (used for targeted TERM during a rolling restart and for
// SIGKILL against a drain-deadline survivor).
func (w *Worker) Signal(sig os.Signal) error {
	if w.cmd == nil || w.cmd.Process == nil {
		return nil
	}
	return w.cmd.Process.Signal(sig)
}
