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

// Command wiseguy is the thin binary wiring every package in this module
// into one preforking server process. One binary plays both roles: run
// without WISEGUY_WORKER set, it is the supervisor (C4) that binds the
// listening socket and re-execs itself into a pool of workers; re-exec'd
// with WISEGUY_WORKER=1, the very same binary adopts the inherited fd and
// runs the configured worker loop (httpworker or fcgiworker) until retired.
//
// Grounded on nabbar-golib's cmd/ binaries (flag-driven, one config file,
// one constructed logger threaded down to every component) and on
// valyala/fasthttp's prefork package for the supervisor/worker split itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmedissa/wiseguy/adminhttp"
	"github.com/ahmedissa/wiseguy/bindaddr"
	"github.com/ahmedissa/wiseguy/events"
	"github.com/ahmedissa/wiseguy/fcgiworker"
	"github.com/ahmedissa/wiseguy/fdsock"
	"github.com/ahmedissa/wiseguy/httpworker"
	liblog "github.com/ahmedissa/wiseguy/logger"
	"github.com/ahmedissa/wiseguy/managedserver"
	"github.com/ahmedissa/wiseguy/supervisor"
	"github.com/ahmedissa/wiseguy/wgconfig"
)

func main() {
	configPath := flag.String("config", "wiseguy.yaml", "path to the wiseguy YAML configuration file")
	flag.Parse()

	cfg, err := wgconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wiseguy: %v\n", err)
		os.Exit(1)
	}

	log := liblog.New(context.Background())
	logFn := func() liblog.Logger { return log }

	if supervisor.IsWorker() {
		runWorker(cfg, logFn)
		return
	}

	runSupervisor(cfg, logFn)
}

// echoApp is the default httpworker.App: it answers every request with a
// small fixed payload describing the worker that handled it. A real
// deployment supplies its own App; this one exists so the binary is
// runnable and exercisable on its own, the way nabbar-golib's example
// servers ship a minimal default handler.
func echoApp(env httpworker.Environ, body io.Reader) httpworker.Response {
	msg := fmt.Sprintf("wiseguy worker pid=%d method=%s path=%s\n", os.Getpid(), env["REQUEST_METHOD"], env["PATH_INFO"])
	return httpworker.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:   []byte(msg),
	}
}

// echoHandler is the fcgiworker equivalent of echoApp, expressed as a plain
// http.Handler since fcgiworker drives net/http/fcgi.Serve directly.
type echoHandler struct{}

func (echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "wiseguy worker pid=%d method=%s path=%s\n", os.Getpid(), r.Method, r.URL.Path)
}

// runWorker is the body of a re-exec'd child: adopt the inherited listener,
// build the configured worker loop, signal readiness, and serve until the
// supervisor retires it (TERM) or a limit trips Base.Quit().
func runWorker(cfg wgconfig.Config, logFn liblog.FuncLog) {
	ln, err := supervisor.AdoptListener()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wiseguy worker: adopt listener: %v\n", err)
		os.Exit(1)
	}

	base := &managedserver.Base{
		MaxRequests: cfg.MaxRequestsPerWorker,
		MaxLifetime: cfg.MaxWorkerLifetime,
	}
	base.Adopted(ln)

	collector := events.New()
	stopPrune := startPruneLoop(collector, cfg)
	defer close(stopPrune)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go func() {
		<-ctx.Done()
		base.SetQuit(true)
	}()

	if err := supervisor.SignalReady(); err != nil {
		fmt.Fprintf(os.Stderr, "wiseguy worker: signal ready: %v\n", err)
		os.Exit(1)
	}

	switch cfg.Mode {
	case wgconfig.ModeFCGI:
		w := &fcgiworker.Worker{Handler: echoHandler{}, Base: base, Collector: collector, Log: logFn}
		if err := w.Serve(ln); err != nil {
			fmt.Fprintf(os.Stderr, "wiseguy worker: fcgi serve: %v\n", err)
			os.Exit(1)
		}
	default:
		w := &httpworker.Worker{
			App:              echoApp,
			Base:             base,
			KeepAliveTimeout: cfg.KeepAliveTimeout,
			ServerName:       "wiseguy",
			Log:              logFn,
			Collector:        collector,
		}
		for {
			if base.Quit() {
				return
			}
			conn, err := ln.Accept()
			if err != nil {
				if base.Quit() {
					return
				}
				continue
			}
			go w.ServeConn(conn)
		}
	}
}

// runSupervisor binds the shared listener, starts the fd registry and the
// admin surface, and hands control to the preforking Supervisor until it
// returns (either a clean drain or a RecoverThreshold trip).
func runSupervisor(cfg wgconfig.Config, logFn liblog.FuncLog) {
	addr, err := bindaddr.Parse(cfg.Listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wiseguy: parse listen address: %v\n", err)
		os.Exit(1)
	}

	fdServer := fdsock.New(cfg.FdRegistrySocket, logFn)
	fdClient := fdsock.NewClient(cfg.FdRegistrySocket)

	base := &managedserver.Base{
		Addr:     addr,
		FDClient: fdClient,
		FDServer: fdServer,
	}
	if err := base.Bind(); err != nil {
		fmt.Fprintf(os.Stderr, "wiseguy: bind: %v\n", err)
		os.Exit(1)
	}
	if err := base.Activate(); err != nil {
		fmt.Fprintf(os.Stderr, "wiseguy: activate: %v\n", err)
		os.Exit(1)
	}

	regCtx, regCancel := context.WithCancel(context.Background())
	defer regCancel()
	go func() {
		if err := fdServer.Serve(regCtx); err != nil {
			log := logFn()
			if log != nil {
				log.Error("wiseguy: fd registry serve error: %v", nil, err)
			}
		}
	}()
	defer fdServer.Close()

	collector := events.New()
	stopPrune := startPruneLoop(collector, cfg)
	defer close(stopPrune)

	sup := &supervisor.Supervisor{
		Listener:         base.Listener(),
		PoolSize:         cfg.Workers,
		RecoverThreshold: cfg.RecoverThreshold,
		Log:              logFn,
	}

	var admin *adminhttp.Server
	if cfg.AdminListen != "" {
		admin = &adminhttp.Server{Collector: collector, Pool: sup, Log: logFn}
		if err := admin.Start(cfg.AdminListen); err != nil {
			fmt.Fprintf(os.Stderr, "wiseguy: admin listen: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = admin.Stop(ctx)
		}()
	}

	if err := sup.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "wiseguy: supervisor exited: %v\n", err)
		os.Exit(1)
	}
}

// startPruneLoop periodically prunes collector per cfg.EventPruneInterval
// (§4.6, §8 scenario 6). It returns a channel the caller closes to stop the
// loop; a zero interval disables pruning entirely and returns a channel
// closing it is a harmless no-op.
func startPruneLoop(collector *events.Collector, cfg wgconfig.Config) chan struct{} {
	stop := make(chan struct{})
	if cfg.EventPruneInterval <= 0 {
		return stop
	}

	go func() {
		t := time.NewTicker(cfg.EventPruneInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-t.C:
				collector.Prune(cfg.EventMaxInactivity, now)
			}
		}
	}()

	return stop
}
