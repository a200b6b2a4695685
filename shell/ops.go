package shell

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/brettbedarf/simos"
)

// Op is a shell operation. The set is closed: every Op is handled by
// Shell.dispatch.
type Op int

const (
	OpHelp Op = iota
	OpPwd
	OpCd
	OpLs
	OpMkdir
	OpTouch
	OpCat
	OpEcho // echo <text> [> <file>]
	OpRm
	OpStat
	OpSave
	OpLoad
	OpPs
	OpRun
	OpKill
	OpSched
	OpWait
	OpWake
	OpMalloc
	OpFree
	OpPin
	OpUnpin
	OpMem
	OpFrames
	OpHistory
	OpExit

	opCount // number of ops; keep last
)

// command describes how an Op is typed and what it does
type command struct {
	name    string
	usage   string
	summary string
	minArgs int
	maxArgs int // -1 for unbounded
}

var commands = [opCount]command{
	OpHelp:    {"help", "help", "list commands", 0, 0},
	OpPwd:     {"pwd", "pwd", "print the current directory", 0, 0},
	OpCd:      {"cd", "cd [path]", "change directory (default /)", 0, 1},
	OpLs:      {"ls", "ls [path]", "list a directory", 0, 1},
	OpMkdir:   {"mkdir", "mkdir [-p] <path>...", "create directories", 1, -1},
	OpTouch:   {"touch", "touch <path>...", "create empty files", 1, -1},
	OpCat:     {"cat", "cat <path>", "print a file", 1, 1},
	OpEcho:    {"echo", "echo <text> [> <file>]", "print text or overwrite an existing file", 0, -1},
	OpRm:      {"rm", "rm <path>...", "remove files or empty directories", 1, -1},
	OpStat:    {"stat", "stat <path>", "show node details", 1, 1},
	OpSave:    {"save", "save", "save the file system", 0, 0},
	OpLoad:    {"load", "load", "reload the saved file system", 0, 0},
	OpPs:      {"ps", "ps [-a]", "list processes (-a adds terminated)", 0, 1},
	OpRun:     {"run", "run <name> [priority] [pages]", "create a process", 1, 3},
	OpKill:    {"kill", "kill <pid>", "terminate a process", 1, 1},
	OpSched:   {"sched", "sched [ticks]", "advance the scheduler", 0, 1},
	OpWait:    {"wait", "wait <pid>", "block the running process at the next tick", 1, 1},
	OpWake:    {"wake", "wake <pid>", "make a waiting process ready", 1, 1},
	OpMalloc:  {"malloc", "malloc <pid> <pages>", "allocate frames to a process", 2, 2},
	OpFree:    {"free", "free <handle>", "release an allocation", 1, 1},
	OpPin:     {"pin", "pin <handle>", "exclude an allocation from eviction", 1, 1},
	OpUnpin:   {"unpin", "unpin <handle>", "allow an allocation to be evicted", 1, 1},
	OpMem:     {"mem", "mem", "show memory usage", 0, 0},
	OpFrames:  {"frames", "frames", "show the frame table", 0, 0},
	OpHistory: {"history", "history", "show command history", 0, 0},
	OpExit:    {"exit", "exit", "leave the shell", 0, 0},
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, opCount)
	for op, c := range commands {
		m[c.name] = Op(op)
	}
	return m
}()

func (o Op) String() string {
	if o < 0 || o >= opCount {
		return fmt.Sprintf("Op(%d)", int(o))
	}
	return commands[o].name
}

// ErrUnknownCommand is returned by Parse for a name that is not an Op
var ErrUnknownCommand = errors.New("unknown command")

// Command is a parsed input line
type Command struct {
	Op   Op
	Args []string
}

// Parse splits line into an Op and its arguments. Arguments are separated by
// whitespace; echo keeps its text and extracts a trailing "> file" redirect
// into Args[0] with the text in Args[1].
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", simos.ErrInvalidArgument)
	}
	name := strings.ToLower(fields[0])
	op, ok := opsByName[name]
	if !ok {
		return Command{}, fmt.Errorf("%w %q; type 'help' to list commands", ErrUnknownCommand, name)
	}
	args := fields[1:]

	if op == OpEcho {
		return parseEcho(args)
	}

	c := commands[op]
	if len(args) < c.minArgs || (c.maxArgs >= 0 && len(args) > c.maxArgs) {
		return Command{}, fmt.Errorf("%w: usage: %s", simos.ErrInvalidArgument, c.usage)
	}
	return Command{Op: op, Args: args}, nil
}

// parseEcho yields Args [file, text] for a redirect and [text] otherwise
func parseEcho(args []string) (Command, error) {
	i := slices.Index(args, ">")
	if i < 0 {
		return Command{Op: OpEcho, Args: []string{strings.Join(args, " ")}}, nil
	}
	if i != len(args)-2 {
		return Command{}, fmt.Errorf("%w: usage: %s", simos.ErrInvalidArgument, commands[OpEcho].usage)
	}
	return Command{Op: OpEcho, Args: []string{args[i+1], strings.Join(args[:i], " ")}}, nil
}
