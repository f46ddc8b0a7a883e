// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package tuning

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/sqltune/sqltune/pkg/utils"
)

// DefaultWaitDelay is how long the trainer's output may stay open after it is killed.
const DefaultWaitDelay = 10 * time.Second

// LocalRunner runs the trainer as a child process of this one.
type LocalRunner struct {
	// Stdout also receives every line the trainer prints. Optional.
	Stdout io.Writer
	// WaitDelay defaults to DefaultWaitDelay.
	WaitDelay time.Duration
}

var _ Runner = &LocalRunner{}

func (r *LocalRunner) Run(ctx context.Context, job *Job) (*TrainerStats, error) {
	timeout := job.Timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// stats of an earlier run in the same output dir must not be reported for this one
	if err := os.Remove(job.Paths.StatsFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale trainer stats: %w", err)
	}

	command := BuildTrainerCommand(job)
	argv := utils.ShellCmd(command)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	for k, v := range TrainerEnv(job.Settings) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.WaitDelay = DefaultWaitDelay
	if r.WaitDelay > 0 {
		cmd.WaitDelay = r.WaitDelay
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	var (
		mu        sync.Mutex
		lineStats *TrainerStats
	)
	g := errgroup.Group{}
	stream := func(name string, pipe io.Reader) {
		g.Go(func() error {
			scanner := bufio.NewScanner(pipe)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				klog.V(1).InfoS("trainer", "stream", name, "line", line)
				mu.Lock()
				if stats, ok, err := ParseStatsLine(line); ok && err == nil {
					lineStats = stats
				}
				if r.Stdout != nil {
					fmt.Fprintln(r.Stdout, line)
				}
				mu.Unlock()
			}
			// keep draining so the child never blocks on a full pipe
			_, _ = io.Copy(io.Discard, pipe)
			return scanner.Err()
		})
	}
	stream("stdout", stdoutR)
	stream("stderr", stderrR)

	klog.InfoS("Starting trainer", "command", command, "timeout", timeout)
	start := time.Now()
	runErr := cmd.Run()
	stdoutW.Close()
	stderrW.Close()
	if streamErr := g.Wait(); streamErr != nil {
		klog.ErrorS(streamErr, "Failed to read trainer output")
	}

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("trainer did not finish within %s: %w", timeout, err)
		}
		return nil, fmt.Errorf("trainer cancelled: %w", err)
	}
	if runErr != nil {
		return nil, fmt.Errorf("trainer failed: %w", runErr)
	}
	klog.InfoS("Trainer finished", "duration", time.Since(start).Round(time.Second))

	stats, err := ReadTrainerStatsFile(job.Paths.StatsFile)
	if err == nil {
		return stats, nil
	}
	if lineStats != nil {
		klog.V(2).InfoS("Using trainer stats from output", "statsFile", job.Paths.StatsFile, "err", err)
		return lineStats, nil
	}
	return nil, fmt.Errorf("trainer wrote no stats: %w", err)
}
