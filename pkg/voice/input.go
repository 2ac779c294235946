package voice

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// ReadlineReader reads lines from the terminal with history.
type ReadlineReader struct {
	rl *readline.Instance
}

func NewReadlineReader(historyFile string) (*ReadlineReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     historyFile,
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &ReadlineReader{rl: rl}, nil
}

func (r *ReadlineReader) ReadLine(prompt string) (string, error) {
	r.rl.SetPrompt(prompt)
	line, err := r.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt {
			return "", io.EOF
		}
		return "", err
	}
	if isExit(line) {
		return "", io.EOF
	}
	return line, nil
}

// Writer returns a writer that redraws the prompt after output, for
// messages printed while a read is pending.
func (r *ReadlineReader) Writer() io.Writer {
	return r.rl.Stdout()
}

func (r *ReadlineReader) Close() error {
	return r.rl.Close()
}

// BufferedReader is the fallback when no terminal is attached.
type BufferedReader struct {
	r *bufio.Reader
	w io.Writer
}

func NewBufferedReader(r io.Reader, w io.Writer) *BufferedReader {
	return &BufferedReader{r: bufio.NewReader(r), w: w}
}

func (b *BufferedReader) ReadLine(prompt string) (string, error) {
	if b.w != nil {
		fmt.Fprint(b.w, prompt)
	}
	line, err := b.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	if isExit(line) {
		return "", io.EOF
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func isExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit", "bye":
		return true
	}
	return false
}
