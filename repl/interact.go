package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
)

const (
	historyFile = ".lstore_history"
)

type consoleReader struct {
	line *liner.State
}

func (cr consoleReader) ReadLine() (string, error) {
	s, err := cr.line.Prompt("lstore> ")
	if err == liner.ErrPromptAborted {
		return "", io.EOF
	} else if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) != "" {
		cr.line.AppendHistory(s)
	}
	return s, nil
}

// Interact runs an interactive console session with line editing and history.
func (r *Repl) Interact() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	err := r.Run(consoleReader{line: line})

	if f, err := os.Create(historyFile); err != nil {
		fmt.Fprintf(os.Stderr, "lstore: error writing history file, %s: %s\n", historyFile, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
	return err
}

type scanReader struct {
	s *bufio.Scanner
}

func (sr scanReader) ReadLine() (string, error) {
	if !sr.s.Scan() {
		if err := sr.s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return sr.s.Text(), nil
}

// NewReader reads commands from rd, one per line.
func NewReader(rd io.Reader) LineReader {
	return scanReader{s: bufio.NewScanner(rd)}
}
