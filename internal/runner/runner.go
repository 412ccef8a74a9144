// Package runner is the external-process capability the capture backends
// depend on. Backends describe a command; the runner executes it and returns
// captured stdout. Tests swap in Scripted.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bryanchriswhite/deskshot/internal/logger"
)

// Command describes one external process invocation
type Command struct {
	Name  string
	Args  []string
	Stdin []byte
}

// String renders the command line for logs and errors
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Cmd is shorthand for building a Command
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// Runner executes commands and returns their stdout
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
	// LookPath reports whether the named tool is available
	LookPath(name string) bool
}

// ErrToolNotFound is returned when the tool is not installed
var ErrToolNotFound = errors.New("tool not found")

// ErrEmptyOutput is returned by Output when a tool exits cleanly but prints nothing
var ErrEmptyOutput = errors.New("tool produced no output")

// ExitError carries the exit status and stderr of a failed command
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v (stderr: %s)", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exec runs commands with os/exec. The process is reaped before Run returns;
// cancelling ctx kills it.
type Exec struct{}

// NewExec returns the real process runner
func NewExec() *Exec {
	return &Exec{}
}

// LookPath reports whether name resolves on PATH
func (Exec) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Run executes cmd and returns its stdout
func (Exec) Run(ctx context.Context, c Command) ([]byte, error) {
	log := logger.WithComponent("runner")

	if _, err := exec.LookPath(c.Name); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, ErrToolNotFound)
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	log.Debug().
		Str("tool", c.Name).
		Int("args", len(c.Args)).
		Int("stdout_bytes", stdout.Len()).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("Ran external command")

	if err != nil {
		exitErr := &ExitError{
			Command:  c.Name,
			ExitCode: -1,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitErr.ExitCode = ee.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			exitErr.Err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, exitErr
	}

	return stdout.Bytes(), nil
}

// Output runs cmd and treats empty stdout as a failure
func Output(ctx context.Context, r Runner, c Command) ([]byte, error) {
	out, err := r.Run(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, fmt.Errorf("%s: %w", c.Name, ErrEmptyOutput)
	}
	return out, nil
}
