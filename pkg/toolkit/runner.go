// Package toolkit shells out to the external linguistic programs the
// compilation pipeline depends on: foma and flookup for finite-state
// morphophonology, tgrep2 for treebank search, and the MITLM estimate-ngram
// tool for language model estimation.
package toolkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dativebase/old/pkg/model"
)

// External binaries.
const (
	FomaBinary          = "foma"
	FlookupBinary       = "flookup"
	TGrep2Binary        = "tgrep2"
	EstimateNgramBinary = "estimate-ngram"
	EvaluateNgramBinary = "evaluate-ngram"
)

// ErrTimeout is returned when a subprocess exceeds its deadline and is
// killed.
var ErrTimeout = errors.New("toolkit: process timed out")

// Command describes one subprocess invocation.
type Command struct {
	Binary  string
	Args    []string
	Stdin   string
	Dir     string
	Timeout time.Duration // zero means no deadline
}

// Runner executes toolkit binaries with deadline enforcement. The zero
// timeout is deliberate: morphology compiles on large lexica can run for
// hours and are bounded by the worker queue instead.
type Runner struct {
	logger *logrus.Logger
}

// NewRunner creates a runner. A nil logger falls back to the standard one.
func NewRunner(logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{logger: logger}
}

// Available reports whether a binary is on the PATH, returning the
// user-facing installation error when it is not.
func (r *Runner) Available(binary string) error {
	if _, err := exec.LookPath(binary); err != nil {
		return &model.ToolNotInstalledError{Tool: binary}
	}
	return nil
}

// Run executes the command, returning combined stdout. The subprocess and
// any children it spawns are killed as a process group on timeout.
func (r *Runner) Run(ctx context.Context, cmd Command) (string, error) {
	if err := r.Available(cmd.Binary); err != nil {
		return "", err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	// Child processes (foma spawns a pager in some modes) must die with the
	// parent, so kill the whole process group.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	logger := r.logger.WithFields(logrus.Fields{
		"binary":  cmd.Binary,
		"elapsed": elapsed.String(),
	})
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			logger.Warn("process killed on timeout")
			return stdout.String(), ErrTimeout
		}
		logger.WithError(err).Debug("process failed")
		return stdout.String(), fmt.Errorf("%s failed: %w: %s",
			cmd.Binary, err, strings.TrimSpace(stderr.String()))
	}
	logger.Debug("process finished")
	return stdout.String(), nil
}
