package probe

import (
	"errors"
	"os/exec"
)

// CommandRunner executes a helper command and returns its combined output.
type CommandRunner interface {
	RunCommand(args ...string) (string, error)
}

// ExecCommandRunner runs commands through os/exec.
type ExecCommandRunner struct{}

var _ CommandRunner = ExecCommandRunner{}

func (ExecCommandRunner) RunCommand(args ...string) (string, error) {
	cmd := exec.Command(args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// FakeCommandRunner returns canned output, for tests.
type FakeCommandRunner struct {
	Output string
	ErrStr string
	Calls  [][]string
}

var _ CommandRunner = &FakeCommandRunner{}

func (f *FakeCommandRunner) RunCommand(args ...string) (string, error) {
	f.Calls = append(f.Calls, args)
	if f.ErrStr != "" {
		return f.Output, errors.New(f.ErrStr)
	}
	return f.Output, nil
}
