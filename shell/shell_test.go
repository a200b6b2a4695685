package shell

import (
	"errors"
	"strings"
	"testing"

	"github.com/brettbedarf/simos"
	"github.com/brettbedarf/simos/config"
	"github.com/brettbedarf/simos/kernel"
	"github.com/brettbedarf/simos/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T) *Shell {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.StorePath = "/state/fs.yaml"
	cfg.FrameCount = 8
	k, err := kernel.NewWithStore(cfg, storage.NewMemFileStore(cfg.StorePath))
	require.NoError(t, err)
	return New(k)
}

// run executes lines in order and returns the output of the last one
func run(t *testing.T, s *Shell, lines ...string) string {
	t.Helper()
	var out string
	for _, l := range lines {
		out = s.Execute(l)
	}
	return out
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		want    Command
		wantErr error
	}{
		{"ls", Command{Op: OpLs, Args: []string{}}, nil},
		{"  LS   /tmp ", Command{Op: OpLs, Args: []string{"/tmp"}}, nil},
		{"mkdir -p a/b", Command{Op: OpMkdir, Args: []string{"-p", "a/b"}}, nil},
		{"echo hello world > notes.txt", Command{Op: OpEcho, Args: []string{"notes.txt", "hello world"}}, nil},
		{"echo > empty.txt", Command{Op: OpEcho, Args: []string{"empty.txt", ""}}, nil},
		{"echo just text", Command{Op: OpEcho, Args: []string{"just text"}}, nil},
		{"malloc 1 4", Command{Op: OpMalloc, Args: []string{"1", "4"}}, nil},
		{"echo a > b c", Command{}, simos.ErrInvalidArgument},
		{"echo a >", Command{}, simos.ErrInvalidArgument},
		{"cat", Command{}, simos.ErrInvalidArgument},
		{"pwd extra", Command{}, simos.ErrInvalidArgument},
		{"malloc 1", Command{}, simos.ErrInvalidArgument},
		{"frobnicate", Command{}, ErrUnknownCommand},
		{"   ", Command{}, simos.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOp_EveryOpHasACommand(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for op := range opCount {
		c := commands[op]
		require.NotEmpty(t, c.name, "op %d has no command", op)
		assert.False(t, seen[c.name], "duplicate command %q", c.name)
		seen[c.name] = true
		assert.Equal(t, c.name, op.String())
		assert.True(t, strings.HasPrefix(c.usage, c.name), "usage of %q", c.name)
	}
	assert.Equal(t, "Op(99)", Op(99).String())
}

func TestShell_Dispatches(t *testing.T) {
	t.Parallel()
	s := newTestShell(t)

	// Every op must be handled; none may fall through to the unknown branch
	for op := range opCount {
		_, err := s.dispatch(Command{Op: op, Args: sampleArgs(op)})
		if err != nil {
			assert.False(t, errors.Is(err, ErrUnknownCommand), "%s not dispatched", op)
		}
	}
}

func sampleArgs(op Op) []string {
	switch op {
	case OpCat, OpStat, OpKill, OpWait, OpWake, OpFree, OpPin, OpUnpin:
		return []string{"1"}
	case OpMkdir, OpTouch, OpRm, OpRun:
		return []string{"x"}
	case OpEcho:
		return []string{"text"}
	case OpMalloc:
		return []string{"1", "1"}
	}
	return nil
}

func TestShell_FileCommands(t *testing.T) {
	t.Parallel()
	s := newTestShell(t)

	assert.Equal(t, "/", s.Execute("pwd"))
	assert.Equal(t, "created directory /home/ana", s.Execute("mkdir /home/ana"))
	assert.Equal(t, "", s.Execute("cd home/ana"))
	assert.Equal(t, "/home/ana", s.Execute("pwd"))
	assert.Equal(t, "/home/ana", s.Cwd())

	assert.Equal(t, "created file /home/ana/notes.txt", s.Execute("touch notes.txt"))
	assert.Equal(t, "wrote 11 bytes to notes.txt", s.Execute("echo hello world > notes.txt"))
	assert.Equal(t, "hello world", s.Execute("cat notes.txt"))
	assert.Equal(t, "hello world", s.Execute("cat /home/ana/notes.txt"))

	ls := s.Execute("ls")
	assert.Contains(t, ls, "notes.txt")
	assert.Contains(t, ls, "11 B")

	root := s.Execute("ls /")
	for _, dir := range []string{"bin/", "etc/", "home/", "tmp/", "var/"} {
		assert.Contains(t, root, dir)
	}

	stat := s.Execute("stat notes.txt")
	assert.Contains(t, stat, "/home/ana/notes.txt")
	assert.Contains(t, stat, "0644")

	assert.Equal(t, "", s.Execute("cd .."))
	assert.Equal(t, "/home", s.Execute("pwd"))
	assert.Equal(t, "", s.Execute("cd ../../.."))
	assert.Equal(t, "/", s.Execute("pwd"))
	assert.Equal(t, "", s.Execute("cd /tmp"))
	assert.Equal(t, "", s.Execute("cd"))
	assert.Equal(t, "/", s.Execute("pwd"))

	assert.Equal(t, "(empty)", s.Execute("ls tmp"))
	assert.Equal(t, "created directory /a/b/c", s.Execute("mkdir -p a/b/c"))
	assert.Equal(t, "removed a/b/c", s.Execute("rm a/b/c"))
}

func TestShell_FileErrors(t *testing.T) {
	t.Parallel()
	s := newTestShell(t)

	tests := []struct {
		line string
		want string
	}{
		{"mkdir tmp", "already exists"},
		{"cd nowhere", "not found"},
		{"cat missing.txt", "not found"},
		{"cat tmp", "is a directory"},
		{"echo hi > missing.txt", "not found"},
		{"ls missing", "not found"},
		{"rm /", "invalid name"},
		{"rm .", "invalid name"},
		{"frobnicate", "unknown command"},
		{"cat", "usage: cat <path>"},
	}
	for _, tt := range tests {
		out := s.Execute(tt.line)
		assert.True(t, strings.HasPrefix(out, ErrorPrefix), "%q: %q", tt.line, out)
		assert.Contains(t, out, tt.want, tt.line)
	}

	require.Equal(t, "created directory /tmp/x", s.Execute("mkdir /tmp/x"))
	s.Execute("touch /tmp/x/f")
	out := s.Execute("rm /tmp/x")
	assert.Equal(t, ErrorPrefix+"rm /tmp/x: directory not empty", out)

	out = s.Execute("touch /tmp/ok /tmp/ok")
	assert.Equal(t, "created file /tmp/ok\n"+ErrorPrefix+"touch /tmp/ok: already exists", out,
		"output of earlier arguments is kept")

	run(t, s, "rm /tmp/x/f", "cd /tmp/x")
	assert.Equal(t, ErrorPrefix+"rm /tmp/x: invalid name", s.Execute("rm ."))
	assert.Equal(t, ErrorPrefix+"rm /tmp: invalid name", s.Execute("rm .."))
	assert.Equal(t, "/tmp/x", s.Execute("pwd"))
	assert.Equal(t, "(empty)", s.Execute("ls"))
}

func TestShell_ProcessCommands(t *testing.T) {
	t.Parallel()
	s := newTestShell(t)

	assert.Equal(t, "no processes", s.Execute("ps"))
	assert.Equal(t, "idle: no process is ready", s.Execute("sched"))
	assert.Equal(t, "started init as pid 1", s.Execute("run init"))
	assert.Equal(t, "started db as pid 2", s.Execute("run db 5 2"))

	assert.Equal(t, "running pid 2 (db)", s.Execute("sched"))
	assert.Equal(t, "pid 2 will wait at the next tick", s.Execute("wait 2"))
	assert.Equal(t, "running pid 1 (init)\nrunning pid 1 (init)", s.Execute("sched 2"))

	ps := s.Execute("ps")
	assert.Contains(t, ps, "PID")
	assert.Contains(t, ps, "WAITING")
	assert.Contains(t, ps, "RUNNING")
	assert.Contains(t, ps, "#1")

	assert.Equal(t, "pid 2 is ready", s.Execute("wake 2"))
	assert.Equal(t, "terminated pid 2 (2 frames freed)", s.Execute("kill 2"))
	assert.Contains(t, s.Execute("kill 2"), "not found")
	assert.Contains(t, s.Execute("ps -a"), "TERMINATED")

	assert.Contains(t, s.Execute("run x notanumber"), "bad priority")
	assert.Contains(t, s.Execute("kill 0"), "bad pid")
	assert.Contains(t, s.Execute("sched 0"), "ticks must be between 1 and 1000")
	assert.Contains(t, s.Execute("sched 1001"), "ticks must be between 1 and 1000")
	assert.Contains(t, s.Execute("sched 100000000"), "ticks must be between 1 and 1000")
	assert.Len(t, strings.Split(s.Execute("sched 1000"), "\n"), 1000)
	assert.Contains(t, s.Execute("wake 1"), "invalid state transition")
}

func TestShell_MemoryCommands(t *testing.T) {
	t.Parallel()
	s := newTestShell(t)

	s.Execute("run a")
	s.Execute("run b")
	assert.Equal(t, "allocated handle 1 (6 pages) to pid 1", s.Execute("malloc 1 6"))
	assert.Equal(t, "pinned handle 1", s.Execute("pin 1"))
	assert.Contains(t, s.Execute("malloc 2 4"), "out of memory")
	assert.Equal(t, "unpinned handle 1", s.Execute("unpin 1"))
	assert.Equal(t, "allocated handle 2 (4 pages) to pid 2\nevicted the oldest unpinned allocation", s.Execute("malloc 2 4"))

	mem := s.Execute("mem")
	assert.Contains(t, mem, "4 used / 8 total (50%)")
	assert.Contains(t, mem, "evictions:")

	frames := s.Execute("frames")
	assert.Contains(t, frames, "####....")
	assert.Contains(t, frames, "0-3")

	assert.Equal(t, "freed handle 2", s.Execute("free 2"))
	assert.Contains(t, s.Execute("free 2"), "invalid memory handle")
	assert.Contains(t, s.Execute("free abc"), "bad handle")
	assert.Contains(t, s.Execute("malloc 9 1"), "not found")
}

func TestShell_SaveLoad(t *testing.T) {
	t.Parallel()
	s := newTestShell(t)

	run(t, s, "mkdir /work", "touch /work/a.txt", "echo keep > /work/a.txt")
	assert.Equal(t, "saved file system to /state/fs.yaml", s.Execute("save"))

	run(t, s, "echo changed > /work/a.txt", "mkdir /work/sub", "cd /work/sub")
	out := s.Execute("load")
	assert.Equal(t, "loaded file system from /state/fs.yaml\ncurrent directory reset to /", out)
	assert.Equal(t, "/", s.Cwd())
	assert.Equal(t, "keep", s.Execute("cat /work/a.txt"))
}

func TestShell_HistoryHelpExit(t *testing.T) {
	t.Parallel()
	s := newTestShell(t)

	assert.Equal(t, "", s.Execute("   "), "blank lines are ignored")
	run(t, s, "pwd", "ls")
	assert.Equal(t, "   1  pwd\n   2  ls\n   3  history", s.Execute("history"))

	help := s.Execute("help")
	for _, c := range commands {
		assert.Contains(t, help, c.usage)
	}

	assert.False(t, s.Exited())
	assert.Equal(t, "", s.Execute("exit"))
	assert.True(t, s.Exited())
}

func TestFrameRanges(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", frameRanges(nil))
	assert.Equal(t, "4", frameRanges([]int{4}))
	assert.Equal(t, "0-2,5,7-8", frameRanges([]int{0, 1, 2, 5, 7, 8}))
}
