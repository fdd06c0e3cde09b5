// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hooks runs the user configured command when a torrent finishes.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Hellseher/go-shellquote"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdwatch/internal/tracker"
)

const (
	DefaultTimeout = 2 * time.Minute

	// maxLoggedOutput caps how much combined output ends up in a log line.
	maxLoggedOutput = 4096
)

var ErrNoCommand = errors.New("no completion command configured")

// Result describes one command execution.
type Result struct {
	Command  []string
	ExitCode int
	Output   string
	Duration time.Duration
	Err      error
}

type Runner struct {
	mu      sync.RWMutex
	command string
	timeout time.Duration

	wg  sync.WaitGroup
	log zerolog.Logger
}

func NewRunner(command string, timeout time.Duration) *Runner {
	r := &Runner{log: log.With().Str("module", "hooks").Logger()}
	r.Configure(command, timeout)
	return r
}

// Configure replaces the command and timeout. Runs already in flight keep the
// values they started with.
func (r *Runner) Configure(command string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.mu.Lock()
	r.command = strings.TrimSpace(command)
	r.timeout = timeout
	r.mu.Unlock()
}

func (r *Runner) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.command != ""
}

// Handler adapts the runner to the tracker completion callback. The command
// runs in the background so a slow hook never delays a poll.
func (r *Runner) Handler() tracker.CompletionHandler {
	return func(ctx context.Context, t tracker.TrackedTorrent) {
		if !r.Enabled() {
			return
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			// detached from the poll context, which ends when the refresh returns
			_ = r.Run(context.WithoutCancel(ctx), t)
		}()
	}
}

// Wait blocks until all background runs have returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run executes the command synchronously for t.
func (r *Runner) Run(ctx context.Context, t tracker.TrackedTorrent) Result {
	r.mu.RLock()
	command, timeout := r.command, r.timeout
	r.mu.RUnlock()

	if command == "" {
		return Result{ExitCode: -1, Err: ErrNoCommand}
	}

	args, err := shellquote.Split(command)
	if err != nil || len(args) == 0 {
		if err == nil {
			err = ErrNoCommand
		}
		r.log.Error().Err(err).Str("command", command).Msg("Invalid completion command")
		return Result{ExitCode: -1, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), Env(t)...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.log.Debug().
		Str("hash", t.Hash).
		Strs("command", args).
		Msg("Running completion command")

	start := time.Now()
	err = cmd.Run()
	res := Result{
		Command:  args,
		ExitCode: exitCode(cmd, err),
		Output:   output.String(),
		Duration: time.Since(start),
		Err:      err,
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.Err = ctx.Err()
	}

	event := r.log.Info()
	if res.Err != nil {
		event = r.log.Error().Err(res.Err)
	}
	event.
		Str("hash", t.Hash).
		Str("filename", t.Filename).
		Int("exitCode", res.ExitCode).
		Dur("duration", res.Duration).
		Str("output", truncate(res.Output, maxLoggedOutput)).
		Msg("Completion command finished")

	return res
}

// Env returns the variables describing t that are passed to the command.
func Env(t tracker.TrackedTorrent) []string {
	return []string{
		"RDWATCH_HASH=" + t.Hash,
		"RDWATCH_FILENAME=" + t.Filename,
		"RDWATCH_ID=" + t.ID,
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil || cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
