package execute

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Confirmer asks the user to approve a dangerous step before it runs.
type Confirmer interface {
	Confirm(prompt string) bool
}

// StdinConfirmer prompts on the terminal. Anything but y/yes declines.
type StdinConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (c StdinConfirmer) Confirm(prompt string) bool {
	in := c.In
	if in == nil {
		in = os.Stdin
	}
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprint(out, prompt)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
