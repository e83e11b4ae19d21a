package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errNoInput = errors.New("no input")

// readPassword is replaced in tests to avoid touching the terminal.
var readPassword = term.ReadPassword //nolint:gochecknoglobals

// prompter reads answers from stdin and writes prompts to w.
type prompter struct {
	in     io.Reader
	reader *bufio.Reader
	w      io.Writer
}

func newPrompter(in io.Reader, w io.Writer) *prompter {
	return &prompter{in: in, reader: bufio.NewReader(in), w: w}
}

// Text prompts for a single line. A non-empty fallback is returned unchanged without prompting.
func (p *prompter) Text(prompt, fallback string) (string, error) {
	if fallback != "" {
		return fallback, nil
	}

	if _, err := fmt.Fprint(p.w, prompt+": "); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}

	return p.line()
}

// Password prompts for a password. Input is not echoed when stdin is a terminal.
func (p *prompter) Password(prompt string) (string, error) {
	if _, err := fmt.Fprint(p.w, prompt+": "); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}

	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(p.w)

		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}

		return string(pw), nil
	}

	return p.line()
}

func (p *prompter) line() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errNoInput
		}

		return "", fmt.Errorf("read input: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}
