// Package shell turns typed command lines into kernel calls and renders their
// results as text. It owns the current directory; the kernel never does.
package shell

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/brettbedarf/simos"
	"github.com/brettbedarf/simos/kernel"
	"github.com/brettbedarf/simos/internal/util"
)

// ErrorPrefix starts every line Execute returns for a failed command
const ErrorPrefix = "error: "

type Shell struct {
	k       *kernel.Kernel
	cwd     string
	history []string
	exited  bool
}

const filesystemRoot = "/"

// maxSchedTicks bounds the ticks one sched command may advance
const maxSchedTicks = 1000

// New creates a shell positioned at the root directory
func New(k *kernel.Kernel) *Shell {
	return &Shell{k: k, cwd: filesystemRoot}
}

// Cwd returns the current directory
func (s *Shell) Cwd() string {
	return s.cwd
}

// Exited reports whether exit was executed
func (s *Shell) Exited() bool {
	return s.exited
}

// Execute runs one input line and returns its output. Failures are rendered
// as a line starting with ErrorPrefix; Execute never panics.
func (s *Shell) Execute(line string) (out string) {
	logger := util.GetLogger("Shell.Execute")

	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	s.history = append(s.history, line)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("line", line).Msg("Recovered from panic")
			out = fmt.Sprintf("%sinternal failure: %v", ErrorPrefix, r)
		}
	}()

	cmd, err := Parse(line)
	if err != nil {
		return ErrorPrefix + err.Error()
	}
	out, err = s.dispatch(cmd)
	if err != nil {
		logger.Debug().Err(err).Str("op", cmd.Op.String()).Msg("Command failed")
		if out != "" {
			// keep the output of the arguments that succeeded
			return out + "\n" + ErrorPrefix + err.Error()
		}
		return ErrorPrefix + err.Error()
	}
	return out
}

func (s *Shell) dispatch(cmd Command) (string, error) {
	args := cmd.Args
	switch cmd.Op {
	case OpHelp:
		return s.help(), nil
	case OpPwd:
		return s.cwd, nil
	case OpCd:
		return s.cd(args)
	case OpLs:
		return s.ls(args)
	case OpMkdir:
		return s.mkdir(args)
	case OpTouch:
		return s.touch(args)
	case OpCat:
		return s.k.ReadFile(s.cwd, args[0])
	case OpEcho:
		return s.echo(args)
	case OpRm:
		return s.rm(args)
	case OpStat:
		return s.stat(args[0])
	case OpSave:
		if err := s.k.Save(); err != nil {
			return "", err
		}
		return "saved file system to " + s.k.Config().StorePath, nil
	case OpLoad:
		return s.load()
	case OpPs:
		return s.ps(args)
	case OpRun:
		return s.run(args)
	case OpKill:
		return s.kill(args[0])
	case OpSched:
		return s.sched(args)
	case OpWait:
		return s.withPID(args[0], s.k.Processes().Wait, "pid %d will wait at the next tick")
	case OpWake:
		return s.withPID(args[0], s.k.Processes().Wake, "pid %d is ready")
	case OpMalloc:
		return s.malloc(args)
	case OpFree:
		return s.withHandle(args[0], s.k.FreeMemory, "freed handle %d")
	case OpPin:
		return s.withHandle(args[0], s.k.Memory().Pin, "pinned handle %d")
	case OpUnpin:
		return s.withHandle(args[0], s.k.Memory().Unpin, "unpinned handle %d")
	case OpMem:
		return s.mem(), nil
	case OpFrames:
		return s.frames(), nil
	case OpHistory:
		return s.historyText(), nil
	case OpExit:
		s.exited = true
		return "", nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Op)
}

func (s *Shell) help() string {
	var sb strings.Builder
	sb.WriteString("Available commands:")
	for _, c := range commands {
		fmt.Fprintf(&sb, "\n  %-30s %s", c.usage, c.summary)
	}
	return sb.String()
}

func (s *Shell) cd(args []string) (string, error) {
	target := filesystemRoot
	if len(args) == 1 {
		target = args[0]
	}
	resolved, err := s.k.ChangeDirectory(s.cwd, target)
	if err != nil {
		return "", err
	}
	s.cwd = resolved
	return "", nil
}

// splitTarget turns a typed path into the directory to create in and the new
// node's name
func (s *Shell) splitTarget(p string) (base, name string) {
	dir, name := path.Split(strings.TrimRight(p, "/"))
	switch {
	case dir == "":
		return s.cwd, name
	case path.IsAbs(dir):
		return path.Clean(dir), name
	default:
		return path.Join(s.cwd, dir), name
	}
}

func (s *Shell) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

func (s *Shell) mkdir(args []string) (string, error) {
	parents := args[0] == "-p"
	if parents {
		args = args[1:]
		if len(args) == 0 {
			return "", fmt.Errorf("%w: usage: %s", simos.ErrInvalidArgument, commands[OpMkdir].usage)
		}
	}

	var lines []string
	for _, p := range args {
		var (
			info simos.NodeInfo
			err  error
		)
		if parents {
			info, err = s.k.MkdirAll(s.abs(p))
		} else {
			base, name := s.splitTarget(p)
			info, err = s.k.CreateDirectory(base, name)
		}
		if err != nil {
			return strings.Join(lines, "\n"), err
		}
		lines = append(lines, "created directory "+info.Path)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Shell) touch(args []string) (string, error) {
	var lines []string
	for _, p := range args {
		base, name := s.splitTarget(p)
		info, err := s.k.CreateFile(base, name)
		if err != nil {
			return strings.Join(lines, "\n"), err
		}
		lines = append(lines, "created file "+info.Path)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Shell) echo(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	file, text := args[0], args[1]
	if err := s.k.WriteFile(s.cwd, file, text); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(text), file), nil
}

func (s *Shell) rm(args []string) (string, error) {
	var lines []string
	for _, p := range args {
		if err := s.k.Delete(s.cwd, p); err != nil {
			return strings.Join(lines, "\n"), err
		}
		lines = append(lines, "removed "+p)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Shell) load() (string, error) {
	if err := s.k.Load(); err != nil {
		return "", err
	}
	out := "loaded file system from " + s.k.Config().StorePath
	// the loaded tree may not contain the old current directory
	if _, err := s.k.ChangeDirectory(filesystemRoot, s.cwd); err != nil {
		s.cwd = filesystemRoot
		out += "\ncurrent directory reset to /"
	}
	return out, nil
}

func (s *Shell) run(args []string) (string, error) {
	priority := s.k.Config().DefaultPriority
	pages := 0
	var err error
	if len(args) > 1 {
		if priority, err = parseInt("priority", args[1]); err != nil {
			return "", err
		}
	}
	if len(args) > 2 {
		if pages, err = parseInt("pages", args[2]); err != nil {
			return "", err
		}
	}
	pid, err := s.k.Spawn(args[0], priority, pages)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("started %s as pid %d", args[0], pid), nil
}

func (s *Shell) kill(arg string) (string, error) {
	pid, err := parsePID(arg)
	if err != nil {
		return "", err
	}
	before := s.k.Memory().Usage().FreeFrames
	if err := s.k.Terminate(pid); err != nil {
		return "", err
	}
	freed := s.k.Memory().Usage().FreeFrames - before
	return fmt.Sprintf("terminated pid %d (%d frames freed)", pid, freed), nil
}

func (s *Shell) sched(args []string) (string, error) {
	ticks := 1
	if len(args) == 1 {
		var err error
		if ticks, err = parseInt("ticks", args[0]); err != nil {
			return "", err
		}
		if ticks < 1 || ticks > maxSchedTicks {
			return "", fmt.Errorf("%w: ticks must be between 1 and %d", simos.ErrInvalidArgument, maxSchedTicks)
		}
	}

	var lines []string
	for range ticks {
		info, ok := s.k.Processes().Schedule()
		if !ok {
			lines = append(lines, "idle: no process is ready")
			break
		}
		lines = append(lines, fmt.Sprintf("running pid %d (%s)", info.PID, info.Name))
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Shell) malloc(args []string) (string, error) {
	pid, err := parsePID(args[0])
	if err != nil {
		return "", err
	}
	pages, err := parseInt("pages", args[1])
	if err != nil {
		return "", err
	}
	evictionsBefore := s.k.Memory().Usage().Evictions
	h, err := s.k.AllocateMemory(pid, pages)
	if err != nil {
		return "", err
	}
	out := fmt.Sprintf("allocated handle %d (%d pages) to pid %d", h, pages, pid)
	if s.k.Memory().Usage().Evictions > evictionsBefore {
		out += "\nevicted the oldest unpinned allocation"
	}
	return out, nil
}

func (s *Shell) withPID(arg string, fn func(simos.PID) error, format string) (string, error) {
	pid, err := parsePID(arg)
	if err != nil {
		return "", err
	}
	if err := fn(pid); err != nil {
		return "", err
	}
	return fmt.Sprintf(format, pid), nil
}

func (s *Shell) withHandle(arg string, fn func(simos.Handle) error, format string) (string, error) {
	v, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || v == 0 {
		return "", fmt.Errorf("%w: bad handle %q", simos.ErrInvalidArgument, arg)
	}
	if err := fn(simos.Handle(v)); err != nil {
		return "", err
	}
	return fmt.Sprintf(format, v), nil
}

func (s *Shell) historyText() string {
	lines := make([]string, len(s.history))
	for i, l := range s.history {
		lines[i] = fmt.Sprintf("%4d  %s", i+1, l)
	}
	return strings.Join(lines, "\n")
}

func parseInt(what, arg string) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s %q", simos.ErrInvalidArgument, what, arg)
	}
	return v, nil
}

func parsePID(arg string) (simos.PID, error) {
	v, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: bad pid %q", simos.ErrInvalidArgument, arg)
	}
	return simos.PID(v), nil
}
