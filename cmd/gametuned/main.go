// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// gametuned is the privileged tuning daemon. It listens on a unix
// socket for session requests from gametune-launch, applies the
// requested CPU, GPU, and process adjustments, and guarantees they
// are reverted when the target process exits, whether or not the
// client survives to say goodbye.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gametune-project/gametune/lib/ipc"
	"github.com/gametune-project/gametune/lib/process"
	"github.com/gametune-project/gametune/lib/session"
	"github.com/gametune-project/gametune/lib/tuning"
)

const daemonVersion = "0.3.0"

func main() {
	socketPath := flag.String("socket", ipc.DefaultSocketPath,
		"unix socket to listen on")
	runDir := flag.String("run-dir", "/run/gametune",
		"directory for the socket and session journal")
	sweepInterval := flag.Duration("sweep-interval", 5*time.Second,
		"how often to check session targets for liveness")
	logLevel := flag.String("log-level", "info",
		"log level: debug, info, warn, or error")
	flag.Parse()

	if err := run(*socketPath, *runDir, *sweepInterval, *logLevel); err != nil {
		process.Fatal(err)
	}
}

func run(socketPath, runDir string, sweepInterval time.Duration, logLevel string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if os.Geteuid() != 0 {
		log.Warn("not running as root, most tunings will fail to apply")
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal := session.NewJournal(filepath.Join(runDir, "sessions.json"))
	manager := session.NewManager(session.Options{
		Executors: []tuning.Executor{
			&tuning.CPUExecutor{Root: "/sys/devices/system/cpu", Log: log},
			&tuning.GPUExecutor{Root: "/sys/class/drm", Log: log},
			&tuning.ProcessExecutor{SysctlRoot: "/proc/sys", Log: log},
		},
		Journal: journal,
		Log:     log,
	})

	// A previous instance may have died with sessions applied. Adopt
	// them and immediately sweep: anything whose target is gone gets
	// reverted before we accept a single request.
	recovered, err := journal.Load()
	if err != nil {
		return fmt.Errorf("recovering journal: %w", err)
	}
	if len(recovered) > 0 {
		log.Info("recovering sessions from journal", "count", len(recovered))
		manager.Adopt(recovered)
	}
	manager.SweepOrphans()

	listener, err := listen(socketPath)
	if err != nil {
		return err
	}
	defer listener.Close()
	defer os.Remove(socketPath)
	log.Info("listening", "socket", socketPath, "version", daemonVersion)

	go manager.Run(ctx, sweepInterval)

	server := &server{manager: manager, log: log}
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.serve(ctx, listener)
	}()

	<-ctx.Done()
	log.Info("shutting down")
	listener.Close()
	<-done

	// Sessions with living targets stay journaled for the next
	// instance; a final sweep catches targets that exited during
	// shutdown.
	manager.SweepOrphans()
	return nil
}

// listen binds the unix socket world-writable. Any local user may
// start a session; the trust boundary is the machine, and every
// tuning is bounded by its session's lifetime.
func listen(socketPath string) (*net.UnixListener, error) {
	// A stale socket from a crashed instance would fail the bind.
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	address, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("resolving socket address: %w", err)
	}
	listener, err := net.ListenUnix("unix", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o666); err != nil {
		listener.Close()
		return nil, fmt.Errorf("opening socket permissions: %w", err)
	}
	return listener, nil
}
