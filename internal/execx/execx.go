package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/apex/log"
	"github.com/google/shlex"
)

// ErrNoCommand is returned when a command line contains no program.
var ErrNoCommand = errors.New("no command to execute")

// Runner abstracts command execution so packages can be unit-tested without
// touching real system networking (tc/ip/nc).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
	RunInput(ctx context.Context, stdin io.Reader, name string, args ...string) error
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Interface
}

func NewOSRunner(stdout, stderr io.Writer) *OSRunner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &OSRunner{Stdout: stdout, Stderr: stderr, Logger: log.Log}
}

func (r *OSRunner) Run(ctx context.Context, name string, args ...string) error {
	return r.RunInput(ctx, nil, name, args...)
}

// RunInput runs the command with stdin attached to the given reader.
// The command's stdout is discarded when Stdout is io.Discard.
func (r *OSRunner) RunInput(ctx context.Context, stdin io.Reader, name string, args ...string) error {
	r.trace(name, args)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = r.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %s", err.Error(), msg)
		}
		return err
	}
	if stderr.Len() > 0 && r.Stderr != nil {
		_, _ = io.Copy(r.Stderr, &stderr)
	}
	return nil
}

func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	r.trace(name, args)
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(buf.String())
		if msg == "" {
			return "", err
		}
		return "", errors.New(msg)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (r *OSRunner) trace(name string, args []string) {
	if r.Logger == nil {
		return
	}
	r.Logger.Debugf("+ %s", CommandLine(name, args...))
}

// CommandLine renders a command for log output.
func CommandLine(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// ParseTemplate tokenizes a shell-like command template and substitutes
// {key} placeholders in every token.
func ParseTemplate(template string, vars map[string]string) (string, []string, error) {
	tokens, err := shlex.Split(template)
	if err != nil {
		return "", nil, err
	}
	if len(tokens) == 0 {
		return "", nil, ErrNoCommand
	}
	for i, tok := range tokens {
		for k, v := range vars {
			tok = strings.ReplaceAll(tok, "{"+k+"}", v)
		}
		tokens[i] = tok
	}
	return tokens[0], tokens[1:], nil
}
