// Package jormungandr starts the voting ledger node process.
package jormungandr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

type Process struct {
	bin    string
	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func New(logger *slog.Logger, bin string) *Process {
	if logger == nil {
		logger = slog.Default()
	}
	bin = strings.TrimSpace(bin)
	if bin == "" {
		bin = "jormungandr"
	}
	return &Process{bin: bin, logger: logger}
}

// StartLeader launches the ledger as a BFT leader. The process outlives ctx;
// Stop terminates it. Starting while a previous process is alive is a no-op.
func (p *Process) StartLeader(ctx context.Context, secretPath, configPath, block0Path string) error {
	for name, v := range map[string]string{"secret": secretPath, "config": configPath, "block0": block0Path} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s path is required", name)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running() {
		p.logger.Info("ledger already running", "pid", p.cmd.Process.Pid)
		return nil
	}

	cmd := exec.Command(
		p.bin,
		"--genesis-block", block0Path,
		"--config", configPath,
		"--secret", secretPath,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.bin, err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.done = done
	p.err = nil
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(done)
		p.logger.Warn("ledger exited", "pid", cmd.Process.Pid, "error", err)
	}()

	p.logger.Info("ledger started", "pid", cmd.Process.Pid, "config", configPath)
	return nil
}

// Running reports whether the last started process is still alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running()
}

func (p *Process) running() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop kills the ledger process and waits for it to exit.
func (p *Process) Stop() error {
	p.mu.Lock()
	if !p.running() {
		p.mu.Unlock()
		return nil
	}
	cmd, done := p.cmd, p.done
	p.mu.Unlock()

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop %s: %w", p.bin, err)
	}
	<-done
	return nil
}
