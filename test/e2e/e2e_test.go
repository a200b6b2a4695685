package e2e

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

var (
	simosBin string
	projRoot string
	testEnv  *E2ETestEnvironment
)

func TestMain(m *testing.M) {
	var err error

	// Build simos binary once for all tests
	tmpBinDir, err := os.MkdirTemp("", "simos-bin")
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := os.RemoveAll(tmpBinDir); err != nil {
			panic(err)
		}
	}()

	simosBin = filepath.Join(tmpBinDir, "simos")

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot determine current file path")
	}
	projRoot = filepath.Join(filepath.Dir(thisFile), "..", "..")
	src := filepath.Join(projRoot, "cmd", "simos")

	cmd := exec.Command("go", "build", "-o", simosBin, src)
	cmd.Dir = projRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		panic(string(out))
	}

	testEnv, err = NewE2ETestEnvironment(simosBin)
	if err != nil {
		panic(err)
	}
	defer testEnv.Close()

	code := m.Run()
	os.Exit(code)
}

func TestE2EFileCommands(t *testing.T) {
	run := testEnv.Run(t, testEnv.StorePath(t, "fs.yaml"),
		"mkdir /home/ana",
		"cd /home/ana",
		"touch notes.txt",
		"echo hello simos > notes.txt",
		"cat notes.txt",
		"pwd",
		"exit",
	)

	if run.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d, stderr:\n%s", run.ExitCode, run.Stderr)
	}
	for _, want := range []string{"created directory /home/ana", "hello simos", "/home/ana"} {
		if !strings.Contains(run.Stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, run.Stdout)
		}
	}
}

func TestE2EPersistsAcrossRuns(t *testing.T) {
	for _, ext := range []string{"fs.yaml", "fs.json"} {
		t.Run(ext, func(t *testing.T) {
			store := testEnv.StorePath(t, ext)

			first := testEnv.Run(t, store, "mkdir /work", "touch /work/a.txt", "echo kept > /work/a.txt")
			if first.ExitCode != 0 {
				t.Fatalf("first run failed with %d:\n%s", first.ExitCode, first.Stderr)
			}
			if _, err := os.Stat(store); err != nil {
				t.Fatalf("store not written at shutdown: %v", err)
			}

			second := testEnv.Run(t, store, "cat /work/a.txt", "ls /")
			if second.ExitCode != 0 {
				t.Fatalf("second run failed with %d:\n%s", second.ExitCode, second.Stderr)
			}
			if !strings.Contains(second.Stdout, "kept") {
				t.Fatalf("file content not restored:\n%s", second.Stdout)
			}
			if !strings.Contains(second.Stdout, "work/") {
				t.Fatalf("directory not restored:\n%s", second.Stdout)
			}
		})
	}
}

func TestE2ECorruptStore(t *testing.T) {
	store := testEnv.StorePath(t, "fs.yaml")

	first := testEnv.Run(t, store, "touch /home/thesis.txt", "echo chapter one > /home/thesis.txt")
	if first.ExitCode != 0 {
		t.Fatalf("first run failed with %d:\n%s", first.ExitCode, first.Stderr)
	}
	saved, err := os.ReadFile(store)
	if err != nil {
		t.Fatalf("Failed to read store: %v", err)
	}
	corrupt := bytes.Replace(saved, []byte("chapter one"), []byte("chapter 0ne"), 1)
	if err := os.WriteFile(store, corrupt, 0o644); err != nil {
		t.Fatalf("Failed to write store: %v", err)
	}

	run := testEnv.Run(t, store, "ls /", "exit")
	if run.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d:\n%s", run.ExitCode, run.Stderr)
	}
	if !strings.Contains(run.Stderr, "warning:") || !strings.Contains(run.Stderr, "kept as") {
		t.Fatalf("expected a boot warning naming the kept store, stderr:\n%s", run.Stderr)
	}
	if !strings.Contains(run.Stdout, "tmp/") {
		t.Fatalf("expected a seeded tree:\n%s", run.Stdout)
	}

	kept, err := filepath.Glob(store + ".corrupt-*")
	if err != nil || len(kept) != 1 {
		t.Fatalf("expected one kept store, got %v (%v)", kept, err)
	}
	data, err := os.ReadFile(kept[0])
	if err != nil {
		t.Fatalf("Failed to read kept store: %v", err)
	}
	if !bytes.Equal(data, corrupt) {
		t.Fatalf("kept store was modified")
	}
}

func TestE2EProcessesAndMemory(t *testing.T) {
	run := testEnv.Run(t, testEnv.StorePath(t, "fs.yaml"),
		"run init",
		"run db 5 2",
		"sched",
		"malloc 1 3",
		"kill 2",
		"frames",
		"kill 2",
	)

	if run.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d:\n%s", run.ExitCode, run.Stderr)
	}
	for _, want := range []string{
		"started init as pid 1",
		"started db as pid 2",
		"running pid 2 (db)",
		"allocated handle 2 (3 pages) to pid 1",
		"terminated pid 2 (2 frames freed)",
		"error: kill pid 2: not found",
	} {
		if !strings.Contains(run.Stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, run.Stdout)
		}
	}
}

func TestE2EInvalidConfig(t *testing.T) {
	run := testEnv.Run(t, testEnv.StorePath(t, "fs.yaml"), "ls", "--frames", "0")
	if run.ExitCode != 2 {
		t.Fatalf("expected config exit code 2, got %d:\n%s", run.ExitCode, run.Stderr)
	}
}

func TestE2EEnvironmentSettings(t *testing.T) {
	store := testEnv.StorePath(t, "env-fs.yaml")
	envFile := filepath.Join(filepath.Dir(store), "simos.env")
	content := fmt.Sprintf("SIMOS_STORE=%s\nSIMOS_FRAMES=4\n", store)
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	run := testEnv.RunArgs(t, []string{"--env-file", envFile, "-v", "4"}, "mem")
	if run.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d:\n%s", run.ExitCode, run.Stderr)
	}
	if !strings.Contains(run.Stdout, "0 used / 4 total") {
		t.Fatalf("frame count from env file not applied:\n%s", run.Stdout)
	}
	if _, err := os.Stat(store); err != nil {
		t.Fatalf("store path from env file not used: %v", err)
	}
}

// E2ETestEnvironment manages shared resources for all e2e tests
type E2ETestEnvironment struct {
	SimOSBin string
	BaseDir  string
}

// RunResult is the outcome of one simos invocation
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// NewE2ETestEnvironment creates a shared working directory for test stores
func NewE2ETestEnvironment(simosBinary string) (*E2ETestEnvironment, error) {
	baseDir, err := os.MkdirTemp("", "simos-e2e-tests")
	if err != nil {
		return nil, err
	}
	return &E2ETestEnvironment{SimOSBin: simosBinary, BaseDir: baseDir}, nil
}

// Close cleans up the test environment
func (env *E2ETestEnvironment) Close() {
	if env.BaseDir != "" {
		_ = os.RemoveAll(env.BaseDir) // Best effort cleanup
	}
}

// StorePath returns a store file path unique to the test
func (env *E2ETestEnvironment) StorePath(t *testing.T, name string) string {
	testID := strings.ReplaceAll(t.Name(), "/", "_")
	dir := filepath.Join(env.BaseDir, "store-"+testID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create store dir: %v", err)
	}
	return filepath.Join(dir, name)
}

// Run starts simos against store and feeds it lines on stdin. Lines starting
// with "--" are passed as command line arguments instead.
func (env *E2ETestEnvironment) Run(t *testing.T, store string, lines ...string) RunResult {
	args := []string{"--store", store}
	var input []string
	for i := 0; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "--") && i+1 < len(lines) {
			args = append(args, lines[i], lines[i+1])
			i++
			continue
		}
		input = append(input, lines[i])
	}
	return env.RunArgs(t, args, input...)
}

// RunArgs starts simos with args and feeds it lines on stdin
func (env *E2ETestEnvironment) RunArgs(t *testing.T, args []string, lines ...string) RunResult {
	t.Helper()

	// Keep a stray .env in the working directory out of the run
	args = append([]string{"--env-file", filepath.Join(env.BaseDir, "missing.env")}, args...)

	cmd := exec.Command(env.SimOSBin, args...)
	cmd.Dir = env.BaseDir
	cmd.Env = cleanEnv()
	cmd.Stdin = strings.NewReader(strings.Join(lines, "\n") + "\n")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start simos: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		_ = cmd.Process.Kill() // Process may have already exited
		<-done
		t.Fatalf("simos did not exit, stdout:\n%s\nstderr:\n%s", stdout.String(), stderr.String())
	}

	return RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}
}

// cleanEnv drops SIMOS_* variables inherited from the test runner
func cleanEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "SIMOS_") {
			env = append(env, kv)
		}
	}
	return env
}
