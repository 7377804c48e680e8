// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// gametune-launch wraps a game (or any process) in a tuning session:
// it resolves the profile for the target, sets up the child's
// environment and hooks, asks gametuned to tune for the child's
// lifetime, and hands the child's exit code through.
//
// Tuning is strictly best effort from the launcher's point of view.
// No profile, an unreachable daemon, or a rejected session all
// degrade to running the target untuned with a warning; the game
// launches either way.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/gametune-project/gametune/lib/hwinfo"
	"github.com/gametune-project/gametune/lib/ipc"
	"github.com/gametune-project/gametune/lib/process"
	"github.com/gametune-project/gametune/lib/profile"
)

func main() {
	flags := pflag.NewFlagSet("gametune-launch", pflag.ContinueOnError)
	// Everything after the command belongs to the command.
	flags.SetInterspersed(false)
	socketPath := flags.String("socket", ipc.DefaultSocketPath, "gametuned socket")
	profilePath := flags.String("profile", "", "profile document (default: XDG config search)")
	envGroups := flags.StringArray("env-group", nil, "additional environment groups to apply (repeatable)")
	noTuning := flags.Bool("no-tuning", false, "skip the daemon entirely, just environment and hooks")
	ping := flags.Bool("ping", false, "check daemon liveness and exit")
	status := flags.Bool("status", false, "print active sessions and exit")
	devices := flags.Bool("devices", false, "list tunable hardware and exit")
	verbose := flags.BoolP("verbose", "v", false, "debug logging")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: gametune-launch [flags] <command> [args...]\n\n%s", flags.FlagUsages())
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		process.Fatal(err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	client := &ipc.Client{SocketPath: *socketPath}

	switch {
	case *ping:
		os.Exit(runPing(client))
	case *status:
		os.Exit(runStatus(client))
	case *devices:
		os.Exit(runDevices())
	}

	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	code, err := launch(client, log, launchOptions{
		command:     flags.Args(),
		profilePath: *profilePath,
		envGroups:   *envGroups,
		noTuning:    *noTuning,
	})
	if err != nil {
		process.Fatal(err)
	}
	os.Exit(code)
}

type launchOptions struct {
	command     []string
	profilePath string
	envGroups   []string
	noTuning    bool
}

// launch runs the target to completion and returns its exit code. The
// error return covers only failures to run the target itself; tuning
// problems are logged and degraded around.
func launch(client *ipc.Client, log *slog.Logger, options launchOptions) (int, error) {
	target := profile.Normalize(options.command[0])
	effective := resolveProfile(target, options.profilePath, log)

	environment := buildEnv(os.Environ(), effective, options.envGroups, log)

	// Hooks run with the launcher's identity and the child's
	// environment. on_start precedes the session, and on_end runs
	// after the target exits but before the session ends, so a hook
	// that cares about the tuned state still sees it.
	runHook("on_start", effective.Hooks.OnStart, environment, log)

	child := exec.Command(options.command[0], options.command[1:]...)
	child.Env = environment
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", options.command[0], err)
	}
	log.Debug("target started", "target", target, "pid", child.Process.Pid)

	// Forward termination signals so the child dies first and the
	// launcher lives long enough to end the session.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		for received := range signals {
			child.Process.Signal(received)
		}
	}()

	handle := ""
	if !options.noTuning && wantsTuning(effective) {
		handle = startSession(client, child.Process.Pid, effective, log)
	}

	exitCode := 0
	if err := child.Wait(); err != nil {
		exitError, ok := err.(*exec.ExitError)
		if !ok {
			return 0, fmt.Errorf("waiting for %s: %w", options.command[0], err)
		}
		exitCode = exitError.ExitCode()
	}

	runHook("on_end", effective.Hooks.OnEnd, environment, log)
	if handle != "" {
		endSession(client, handle, log)
	}
	return exitCode, nil
}

// resolveProfile loads and resolves the profile for target. Every
// failure path returns a disabled-everything profile so the launch
// proceeds untuned.
func resolveProfile(target, path string, log *slog.Logger) profile.Effective {
	if path == "" {
		path = profile.DefaultPath()
	}
	document, err := profile.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("no profile document, running untuned", "path", path)
		} else {
			log.Warn("profile unusable, running untuned", "path", path, "error", err)
		}
		return profile.Effective{Target: target}
	}
	effective, err := document.Resolve(target)
	if err != nil {
		log.Warn("profile unusable, running untuned", "path", path, "error", err)
		return profile.Effective{Target: target}
	}
	return effective
}

// wantsTuning reports whether the profile asks for anything the
// daemon would do. A profile that only sets environment groups and
// hooks never needs a session.
func wantsTuning(effective profile.Effective) bool {
	return effective.CPU.Enabled || effective.GPU.Enabled || effective.Process.Enabled
}

// startSession asks the daemon to tune for the child. Returns the
// session handle, or "" when tuning was declined or unreachable.
func startSession(client *ipc.Client, targetPID int, effective profile.Effective, log *slog.Logger) string {
	response, err := client.StartSession(targetPID, effective)
	if err != nil {
		log.Warn("daemon unreachable, running untuned", "error", err)
		return ""
	}
	if !response.OK {
		log.Warn("daemon declined session, running untuned",
			"code", response.Code, "error", response.Error)
		return ""
	}
	log.Info("tuning session started", "handle", response.Handle, "target", effective.Target)
	return response.Handle
}

func endSession(client *ipc.Client, handle string, log *slog.Logger) {
	response, err := client.EndSession(handle)
	if err != nil {
		// The sweeper will revert once it notices the child is gone.
		log.Warn("daemon unreachable at session end, sweeper will revert", "error", err)
		return
	}
	for _, failure := range response.Failures {
		log.Error("tuning not fully reverted", "failure", failure)
	}
	log.Info("tuning session ended", "handle", handle, "state", response.State)
}

// runHook runs a profile hook through the shell. Hook failures are
// reported but never stop the launch; a notification script with a
// typo should not cost a game session.
func runHook(name, command string, environment []string, log *slog.Logger) {
	if command == "" {
		return
	}
	hook := exec.Command("sh", "-c", command)
	hook.Env = environment
	hook.Stdout = os.Stderr
	hook.Stderr = os.Stderr
	if err := hook.Run(); err != nil {
		log.Warn("hook failed", "hook", name, "error", err)
	}
}

func runPing(client *ipc.Client) int {
	response, err := client.Ping()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gametuned unreachable: %v\n", err)
		return 1
	}
	fmt.Println(response.Message)
	return 0
}

// runDevices reads sysfs directly; listing hardware needs neither the
// daemon nor privileges.
func runDevices() int {
	inventory := hwinfo.Probe("/sys/devices/system/cpu", "/sys/class/drm")

	if inventory.CPU.EPPSupported {
		fmt.Printf("cpu: %s, %d policies, EPP hints: %s\n",
			inventory.CPU.Driver, inventory.CPU.Policies,
			strings.Join(inventory.CPU.AvailableHints, " "))
	} else {
		fmt.Printf("cpu: %s, EPP not supported\n", inventory.CPU.Driver)
	}

	for _, gpu := range inventory.GPUs {
		name := gpu.Name
		if name == "" {
			name = gpu.Vendor + " GPU"
		}
		if gpu.Tunable {
			fmt.Printf("%s: %s (%s, %s) power cap %d/%d mW\n",
				gpu.Card, name, gpu.Driver, gpu.Slot,
				gpu.PowerCapMicrowatts/1000, gpu.PowerCapMaxMicrowatts/1000)
		} else {
			fmt.Printf("%s: %s (%s, %s) no power cap\n", gpu.Card, name, gpu.Driver, gpu.Slot)
		}
	}
	return 0
}

func runStatus(client *ipc.Client) int {
	response, err := client.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gametuned unreachable: %v\n", err)
		return 1
	}
	if len(response.Sessions) == 0 {
		fmt.Println("no active sessions")
		return 0
	}
	for _, item := range response.Sessions {
		fmt.Printf("%s  %-20s  client=%d  target=%d  %s\n",
			item.Handle, item.Target, item.ClientPID, item.TargetPID, item.State)
	}
	return 0
}
