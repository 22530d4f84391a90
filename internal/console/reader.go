package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// ErrInterrupted is returned by an interactive reader on Ctrl-C.
var ErrInterrupted = errors.New("interrupted")

// Reader produces the raw command lines typed or scripted while paused.
// ReadLine returns io.EOF when the source is exhausted.
type Reader interface {
	ReadLine() (string, error)
	Close() error
}

// Parser turns a raw line into a Request.
type Parser func(line string) (Request, error)

// IsTerminal reports whether f is connected to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// scanReader reads lines from any io.Reader, skipping blank lines and
// lines starting with '#'.
type scanReader struct {
	sc     *bufio.Scanner
	closer io.Closer
}

// NewScanReader reads commands line by line from r.
func NewScanReader(r io.Reader) Reader {
	sr := &scanReader{sc: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		sr.closer = c
	}
	return sr
}

func (r *scanReader) ReadLine() (string, error) {
	for r.sc.Scan() {
		line := strings.TrimSpace(r.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// OpenScript opens a command file for scripted runs.
func OpenScript(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open command script: %w", err)
	}
	return NewScanReader(f), nil
}

// lineEditor reads commands interactively with history and line editing.
type lineEditor struct {
	rl *readline.Instance
}

// NewLineEditor creates an interactive reader. An empty historyFile keeps
// history in memory only.
func NewLineEditor(prompt, historyFile string) (Reader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "detach",
	})
	if err != nil {
		return nil, fmt.Errorf("create line editor: %w", err)
	}
	return &lineEditor{rl: rl}, nil
}

func (e *lineEditor) ReadLine() (string, error) {
	line, err := e.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", ErrInterrupted
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (e *lineEditor) Close() error {
	return e.rl.Close()
}

// Stdin returns the interactive line editor when stdin is a terminal and
// a plain line reader otherwise.
func Stdin(prompt, historyFile string) (Reader, error) {
	if IsTerminal(os.Stdin) {
		return NewLineEditor(prompt, historyFile)
	}
	return NewScanReader(io.NopCloser(os.Stdin)), nil
}
