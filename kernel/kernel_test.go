package kernel

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brettbedarf/simos"
	"github.com/brettbedarf/simos/config"
	"github.com/brettbedarf/simos/internal/mocks"
	"github.com/brettbedarf/simos/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func createTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.StorePath = "/state/fs.yaml"
	cfg.FrameCount = 8
	return cfg
}

func rootNames(t *testing.T, k *Kernel) []string {
	t.Helper()
	entries, err := k.ListDirectory("/")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func TestNewWithStore_SeedsEmptyStore(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()

	k, err := NewWithStore(cfg, storage.NewMemFileStore(cfg.StorePath))
	require.NoError(t, err)

	assert.NoError(t, k.BootError())
	assert.Equal(t, []string{"bin", "etc", "home", "tmp", "var"}, rootNames(t, k))
	assert.Same(t, cfg, k.Config())
}

func TestNewWithStore_RestoresSavedTree(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()
	store := storage.NewMemFileStore(cfg.StorePath)

	k, err := NewWithStore(cfg, store)
	require.NoError(t, err)
	require.NoError(t, k.Delete("/", "var"))
	_, err = k.CreateFile("/home", "todo.txt")
	require.NoError(t, err)
	require.NoError(t, k.WriteFile("/home", "todo.txt", "ship it"))
	require.NoError(t, k.Shutdown())

	rebooted, err := NewWithStore(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"bin", "etc", "home", "tmp"}, rootNames(t, rebooted), "restored tree is not reseeded")
	content, err := rebooted.ReadFile("/home", "todo.txt")
	require.NoError(t, err)
	assert.Equal(t, "ship it", content)
}

func TestNewWithStore_UnreadableStore(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()
	readErr := errors.New("disk on fire")

	store := &mocks.MockStore{}
	store.On("Path").Return(cfg.StorePath)
	store.On("Read").Return(nil, readErr)
	store.On("Quarantine").Return("", readErr)

	k, err := NewWithStore(cfg, store)
	require.NoError(t, err, "kernel still boots")
	require.ErrorIs(t, k.BootError(), simos.ErrStorageIO)
	assert.ErrorIs(t, k.BootError(), readErr)
	assert.Empty(t, k.QuarantinedStore())
	assert.Len(t, rootNames(t, k), len(cfg.SeedDirs))

	// the store that could not be read is never overwritten implicitly
	for range 2 {
		assert.ErrorIs(t, k.Shutdown(), simos.ErrStorageIO)
	}
	store.AssertNotCalled(t, "Write", mock.Anything)
	assert.Len(t, rootNames(t, k), len(cfg.SeedDirs))

	// an explicit save is attempted and reports the store failure
	store.On("Write", mock.Anything).Return(readErr)
	assert.ErrorIs(t, k.Save(), readErr)
	store.AssertExpectations(t)
}

func TestNewWithStore_CorruptStoreIsKept(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()
	store := storage.NewMemFileStore(cfg.StorePath)

	k, err := NewWithStore(cfg, store)
	require.NoError(t, err)
	_, err = k.CreateFile("/home", "thesis.txt")
	require.NoError(t, err)
	require.NoError(t, k.WriteFile("/home", "thesis.txt", "chapter one"))
	require.NoError(t, k.Shutdown())

	saved, err := store.Read()
	require.NoError(t, err)
	corrupt := strings.Replace(string(saved), "chapter one", "chapter 0ne", 1)
	require.NotEqual(t, string(saved), corrupt)
	require.NoError(t, store.Write([]byte(corrupt)))

	rebooted, err := NewWithStore(cfg, store)
	require.NoError(t, err)
	require.ErrorIs(t, rebooted.BootError(), simos.ErrStorageIO)
	moved := rebooted.QuarantinedStore()
	require.NotEmpty(t, moved)
	assert.True(t, strings.HasPrefix(moved, cfg.StorePath+".corrupt-"))

	require.NoError(t, rebooted.Shutdown(), "the fresh tree is saved once the bad store is moved aside")
	kept, err := afero.ReadFile(store.Fs(), moved)
	require.NoError(t, err)
	assert.Equal(t, corrupt, string(kept), "the unreadable store is preserved byte for byte")

	third, err := NewWithStore(cfg, store)
	require.NoError(t, err)
	assert.NoError(t, third.BootError())
	_, err = third.Stat("/", "/home/thesis.txt")
	assert.ErrorIs(t, err, simos.ErrNotFound)
}

func TestNewWithStore_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()
	cfg.FrameCount = 0

	_, err := NewWithStore(cfg, storage.NewMemFileStore(cfg.StorePath))
	assert.Error(t, err)
}

func TestNew_OsStore(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()
	cfg.StorePath = filepath.Join(t.TempDir(), "fs.json")

	k, err := New(cfg)
	require.NoError(t, err)
	_, err = k.CreateDirectory("/", "projects")
	require.NoError(t, err)
	require.NoError(t, k.Shutdown())

	rebooted, err := New(cfg)
	require.NoError(t, err)
	assert.Contains(t, rootNames(t, rebooted), "projects")
}

func TestKernel_MemoryLifecycle(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()
	k, err := NewWithStore(cfg, storage.NewMemFileStore(cfg.StorePath))
	require.NoError(t, err)

	pid, err := k.Spawn("editor", 1, 0)
	require.NoError(t, err)

	h1, err := k.AllocateMemory(pid, 2)
	require.NoError(t, err)
	h2, err := k.AllocateMemory(pid, 3)
	require.NoError(t, err)

	info, err := k.Processes().Get(pid)
	require.NoError(t, err)
	assert.Equal(t, h1, info.MemoryHandle, "first allocation is the PCB handle")

	require.NoError(t, k.FreeMemory(h1))
	info, _ = k.Processes().Get(pid)
	assert.Equal(t, simos.Handle(0), info.MemoryHandle)
	assert.ErrorIs(t, k.FreeMemory(h1), simos.ErrInvalidHandle)

	require.NoError(t, k.Terminate(pid))
	_, err = k.Memory().Lookup(h2)
	assert.ErrorIs(t, err, simos.ErrInvalidHandle, "terminate frees every allocation")
	assert.Equal(t, cfg.FrameCount, k.Memory().Usage().FreeFrames)

	_, err = k.AllocateMemory(pid, 1)
	assert.ErrorIs(t, err, simos.ErrNotFound, "terminated process cannot allocate")
	assert.Equal(t, cfg.FrameCount, k.Memory().Usage().FreeFrames)
}

func TestKernel_EvictionDetachesVictim(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()
	k, err := NewWithStore(cfg, storage.NewMemFileStore(cfg.StorePath))
	require.NoError(t, err)

	old, err := k.Spawn("old", 1, 6)
	require.NoError(t, err)
	young, err := k.Spawn("young", 1, 0)
	require.NoError(t, err)

	h, err := k.AllocateMemory(young, 4)
	require.NoError(t, err)

	oldInfo, _ := k.Processes().Get(old)
	assert.Equal(t, simos.Handle(0), oldInfo.MemoryHandle, "victim is detached from its PCB")
	youngInfo, _ := k.Processes().Get(young)
	assert.Equal(t, h, youngInfo.MemoryHandle)
	assert.Equal(t, uint64(1), k.Memory().Usage().Evictions)
}
