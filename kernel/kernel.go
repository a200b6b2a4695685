// Package kernel assembles the simulated kernel from its file system, memory
// and process components and implements the operations that span them.
package kernel

import (
	"errors"
	"fmt"

	"github.com/brettbedarf/simos"
	"github.com/brettbedarf/simos/config"
	"github.com/brettbedarf/simos/filesystem"
	"github.com/brettbedarf/simos/internal/util"
	"github.com/brettbedarf/simos/memory"
	"github.com/brettbedarf/simos/process"
	"github.com/brettbedarf/simos/storage"
)

// Kernel holds the three kernel components. File system operations are
// promoted from the embedded FileSystem.
type Kernel struct {
	*filesystem.FileSystem
	cfg         *config.Config
	store       storage.Store
	mem         *memory.Manager
	proc        *process.Manager
	bootErr     error
	quarantined string // where an unreadable store was moved at boot
	// holdSave blocks Shutdown from overwriting a store that could not be
	// read or moved aside, until an explicit Save or Load succeeds
	holdSave bool
}

// New creates and boots a Kernel whose file system persists to cfg.StorePath
// on the host.
func New(cfg *config.Config) (*Kernel, error) {
	return NewWithStore(cfg, storage.NewOsFileStore(cfg.StorePath))
}

// NewWithStore creates and boots a Kernel persisting to store.
func NewWithStore(cfg *config.Config, store storage.Store) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mem := memory.NewManager(cfg)
	k := &Kernel{
		FileSystem: filesystem.NewFS(cfg, store),
		cfg:        cfg,
		store:      store,
		mem:        mem,
		proc:       process.NewManager(cfg, mem),
	}
	if err := k.boot(); err != nil {
		return nil, err
	}
	return k, nil
}

// boot restores the saved tree. A store that was never written yields a fresh
// tree holding the seed directories. An unreadable one is reported through
// BootError and moved aside so the fresh tree never overwrites it.
func (k *Kernel) boot() error {
	logger := util.GetLogger("Kernel.Boot")
	storePath := k.store.Path()

	err := k.FileSystem.Load()
	switch {
	case err == nil:
		logger.Info().Str("store", storePath).Msg("Restored file system")
		return nil
	case errors.Is(err, storage.ErrEmpty):
		logger.Info().Str("store", storePath).Msg("No saved file system, starting fresh")
	default:
		logger.Warn().Err(err).Str("store", storePath).Msg("Could not restore file system, starting fresh")
		k.bootErr = err
		moved, qerr := k.store.Quarantine()
		if qerr != nil {
			logger.Warn().Err(qerr).Str("store", storePath).Msg("Could not move unreadable store aside, holding saves")
			k.holdSave = true
		} else {
			k.quarantined = moved
		}
	}

	if err := k.Seed(k.cfg.SeedDirs...); err != nil {
		return fmt.Errorf("seed file system: %w", err)
	}
	return nil
}

// BootError returns the load failure the kernel recovered from at boot, if any
func (k *Kernel) BootError() error {
	return k.bootErr
}

// QuarantinedStore returns where the unreadable store was moved at boot, or
// "" when nothing was moved
func (k *Kernel) QuarantinedStore() string {
	return k.quarantined
}

// Save writes the file system to the store. An explicit save is allowed to
// replace a store that could not be read at boot.
func (k *Kernel) Save() error {
	if err := k.FileSystem.Save(); err != nil {
		return err
	}
	k.holdSave = false
	return nil
}

// Load replaces the file system with the stored one
func (k *Kernel) Load() error {
	if err := k.FileSystem.Load(); err != nil {
		return err
	}
	k.holdSave = false
	return nil
}

func (k *Kernel) Config() *config.Config {
	return k.cfg
}

func (k *Kernel) Memory() *memory.Manager {
	return k.mem
}

func (k *Kernel) Processes() *process.Manager {
	return k.proc
}

// Spawn creates a process, holding pages frames when pages is positive
func (k *Kernel) Spawn(name string, priority, pages int) (simos.PID, error) {
	switch {
	case pages < 0:
		return 0, simos.NewOpError("run", name, simos.ErrInvalidArgument)
	case pages > 0:
		return k.proc.CreateWithMemory(name, priority, pages)
	}
	return k.proc.Create(name, priority)
}

// AllocateMemory reserves pages frames for the live process pid. The first
// allocation a process holds is recorded as its PCB memory handle.
func (k *Kernel) AllocateMemory(pid simos.PID, pages int) (simos.Handle, error) {
	if _, err := k.proc.Get(pid); err != nil {
		return 0, simos.NewOpError("malloc", fmt.Sprintf("pid %d", pid), simos.ErrNotFound)
	}
	h, evicted, err := k.mem.AllocateEvicting(pid, pages)
	if err != nil {
		return 0, err
	}
	k.proc.Detach(evicted...)
	if err := k.proc.Attach(pid, h); err != nil {
		return 0, err
	}
	return h, nil
}

// FreeMemory releases an allocation and detaches it from its owner's PCB
func (k *Kernel) FreeMemory(h simos.Handle) error {
	info, err := k.mem.Lookup(h)
	if err != nil {
		return simos.NewOpError("free", fmt.Sprintf("handle %d", h), simos.ErrInvalidHandle)
	}
	if err := k.mem.Free(h); err != nil {
		return err
	}
	k.proc.Detach(info)
	return nil
}

// Terminate kills pid and frees all of its memory
func (k *Kernel) Terminate(pid simos.PID) error {
	return k.proc.Terminate(pid)
}

// Shutdown saves the file system. It refuses while the store that failed to
// load at boot is still in place.
func (k *Kernel) Shutdown() error {
	logger := util.GetLogger("Kernel.Shutdown")
	if k.holdSave {
		err := simos.NewOpError("shutdown", k.store.Path(), fmt.Errorf(
			"%w: store could not be read at boot and is kept as is; save explicitly to replace it", simos.ErrStorageIO))
		logger.Error().Err(err).Msg("Refusing to overwrite store")
		return err
	}
	if err := k.Save(); err != nil {
		logger.Error().Err(err).Msg("Failed to save file system")
		return err
	}
	logger.Info().Msg("Kernel shut down")
	return nil
}
