package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/brettbedarf/simos/shell"
	"github.com/charmbracelet/lipgloss"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// Executor runs one shell line
type Executor interface {
	Execute(line string) string
	Exited() bool
	Cwd() string
}

var _ Executor = (*shell.Shell)(nil)

type repl struct {
	sh          Executor
	in          io.Reader
	out         io.Writer
	interactive bool
}

func newREPL(sh Executor, in io.Reader, out io.Writer, interactive bool) *repl {
	return &repl{sh: sh, in: in, out: out, interactive: interactive}
}

// maxLineBytes bounds one input line; longer lines are rejected and skipped
const maxLineBytes = 1 << 20

type inputLine struct {
	text    string
	tooLong bool
}

// Run feeds input lines to the shell until exit, end of input or ctx is done
func (r *repl) Run(ctx context.Context) error {
	lines := make(chan inputLine)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(r.in)
		for {
			line, err := readLine(reader)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r.prompt()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if r.interactive {
					fmt.Fprintln(r.out)
				}
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if line.tooLong {
				r.print(fmt.Sprintf("%sinput line longer than %d bytes", shell.ErrorPrefix, maxLineBytes))
				continue
			}
			r.print(r.sh.Execute(line.text))
			if r.sh.Exited() {
				return nil
			}
		}
	}
}

// readLine reads one line without its terminator. Bytes past maxLineBytes
// are discarded up to the end of the line. A final line without a newline is
// returned before io.EOF.
func readLine(reader *bufio.Reader) (inputLine, error) {
	var (
		buf     []byte
		tooLong bool
		read    bool
	)
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && read {
				break
			}
			return inputLine{}, err
		}
		read = true
		if !tooLong {
			if len(buf)+len(chunk) > maxLineBytes {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			break
		}
	}
	return inputLine{text: string(buf), tooLong: tooLong}, nil
}

func (r *repl) prompt() {
	if !r.interactive {
		return
	}
	fmt.Fprint(r.out, promptStyle.Render("simos:"+r.sh.Cwd()+"$")+" ")
}

func (r *repl) print(out string) {
	if out == "" {
		return
	}
	for line := range strings.SplitSeq(out, "\n") {
		if strings.HasPrefix(line, shell.ErrorPrefix) && r.interactive {
			line = errorStyle.Render(line)
		}
		fmt.Fprintln(r.out, line)
	}
}
