// Package memory simulates a bounded pool of fixed-size physical frames.
package memory

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/brettbedarf/simos"
	"github.com/brettbedarf/simos/config"
	"github.com/brettbedarf/simos/internal/util"
)

type frame struct {
	state simos.FrameState
	owner simos.PID
}

// allocation is a live set of frames reserved for one process
type allocation struct {
	handle      simos.Handle
	owner       simos.PID
	frames      []int // ascending frame indices
	allocatedAt time.Time
	seq         uint64 // breaks allocatedAt ties
	pinned      bool
}

func (a *allocation) info() simos.AllocationInfo {
	return simos.AllocationInfo{
		Handle:      a.handle,
		Owner:       a.owner,
		Frames:      slices.Clone(a.frames),
		Pinned:      a.pinned,
		AllocatedAt: a.allocatedAt,
	}
}

// Manager owns the frame table and every allocation record. The set of frames
// referenced by live allocations is always exactly the set of occupied frames.
type Manager struct {
	frameSize       int
	evictionEnabled bool

	mu         sync.Mutex
	frames     []frame
	allocs     map[simos.Handle]*allocation
	lastHandle simos.Handle
	seq        uint64
	evictions  uint64
	now        func() time.Time
}

var _ simos.MemoryOperator = (*Manager)(nil)

// NewManager creates a pool of cfg.FrameCount free frames
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		frameSize:       cfg.FrameSize,
		evictionEnabled: cfg.EvictionEnabled,
		frames:          make([]frame, cfg.FrameCount),
		allocs:          make(map[simos.Handle]*allocation),
		now:             time.Now,
	}
}

// Allocate reserves pages frames for pid and returns the allocation handle
func (m *Manager) Allocate(pid simos.PID, pages int) (simos.Handle, error) {
	h, _, err := m.AllocateEvicting(pid, pages)
	return h, err
}

// AllocateEvicting is Allocate that also reports the allocation evicted to
// make room, if any. Lowest-index free frames are used first.
//
// When the pool is short, the oldest unpinned allocation is evicted, at most
// one. The victim is chosen before anything changes: if evicting it would
// still not free enough frames, the call fails with ErrOutOfMemory and the
// pool is untouched.
func (m *Manager) AllocateEvicting(pid simos.PID, pages int) (simos.Handle, []simos.AllocationInfo, error) {
	logger := util.GetLogger("Memory.Allocate")
	subject := fmt.Sprintf("pid %d", pid)

	if pid == 0 || pages <= 0 {
		return 0, nil, simos.NewOpError("malloc", subject, simos.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pages > len(m.frames) {
		return 0, nil, simos.NewOpError("malloc", subject,
			fmt.Errorf("%w: %d pages exceed pool of %d frames", simos.ErrOutOfMemory, pages, len(m.frames)))
	}

	var evicted []simos.AllocationInfo
	if free := m.freeCount(); free < pages {
		victim := m.victim()
		if !m.evictionEnabled || victim == nil || free+len(victim.frames) < pages {
			logger.Debug().Uint32("pid", uint32(pid)).Int("pages", pages).Int("free", free).Msg("Out of memory")
			return 0, nil, simos.NewOpError("malloc", subject,
				fmt.Errorf("%w: need %d frames, %d free", simos.ErrOutOfMemory, pages, free))
		}
		evicted = append(evicted, victim.info())
		m.release(victim)
		m.evictions++
		logger.Info().
			Uint64("handle", uint64(victim.handle)).
			Uint32("owner", uint32(victim.owner)).
			Int("frames", len(victim.frames)).
			Msg("Evicted allocation")
	}

	m.lastHandle++
	m.seq++
	a := &allocation{
		handle:      m.lastHandle,
		owner:       pid,
		frames:      make([]int, 0, pages),
		allocatedAt: m.now(),
		seq:         m.seq,
	}
	for i := range m.frames {
		if len(a.frames) == pages {
			break
		}
		if m.frames[i].state == simos.FrameFree {
			m.frames[i] = frame{state: simos.FrameOccupied, owner: pid}
			a.frames = append(a.frames, i)
		}
	}
	m.allocs[a.handle] = a

	logger.Debug().Uint64("handle", uint64(a.handle)).Uint32("pid", uint32(pid)).Ints("frames", a.frames).Msg("Allocated")
	return a.handle, evicted, nil
}

// Free releases every frame of the allocation. Freeing twice fails with
// ErrInvalidHandle.
func (m *Manager) Free(h simos.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.allocs[h]
	if !ok {
		return simos.NewOpError("free", fmt.Sprintf("handle %d", h), simos.ErrInvalidHandle)
	}
	m.release(a)
	logger := util.GetLogger("Memory.Free")
	logger.Debug().Uint64("handle", uint64(h)).Int("frames", len(a.frames)).Msg("Freed")
	return nil
}

// FreeAll frees every allocation owned by pid and returns the number of frames
// released. It is a no-op when pid owns nothing.
func (m *Manager) FreeAll(pid simos.PID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for _, a := range m.allocs {
		if a.owner == pid {
			released += len(a.frames)
			m.release(a)
		}
	}
	if released > 0 {
		logger := util.GetLogger("Memory.FreeAll")
		logger.Debug().Uint32("pid", uint32(pid)).Int("frames", released).Msg("Freed process memory")
	}
	return released
}

// Pin excludes the allocation from eviction
func (m *Manager) Pin(h simos.Handle) error {
	return m.setPinned("pin", h, true)
}

// Unpin makes the allocation evictable again
func (m *Manager) Unpin(h simos.Handle) error {
	return m.setPinned("unpin", h, false)
}

func (m *Manager) setPinned(op string, h simos.Handle, pinned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.allocs[h]
	if !ok {
		return simos.NewOpError(op, fmt.Sprintf("handle %d", h), simos.ErrInvalidHandle)
	}
	a.pinned = pinned
	return nil
}

// Lookup returns the live allocation behind h
func (m *Manager) Lookup(h simos.Handle) (simos.AllocationInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.allocs[h]
	if !ok {
		return simos.AllocationInfo{}, simos.NewOpError("lookup", fmt.Sprintf("handle %d", h), simos.ErrInvalidHandle)
	}
	return a.info(), nil
}

// Allocations returns the live allocations of pid ordered by handle; pid 0
// returns every allocation
func (m *Manager) Allocations(pid simos.PID) []simos.AllocationInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]simos.AllocationInfo, 0, len(m.allocs))
	for _, a := range m.allocs {
		if pid == 0 || a.owner == pid {
			infos = append(infos, a.info())
		}
	}
	slices.SortFunc(infos, func(a, b simos.AllocationInfo) int {
		return cmp.Compare(a.Handle, b.Handle)
	})
	return infos
}

func (m *Manager) Usage() simos.MemoryUsage {
	m.mu.Lock()
	defer m.mu.Unlock()

	free := m.freeCount()
	return simos.MemoryUsage{
		TotalFrames: len(m.frames),
		UsedFrames:  len(m.frames) - free,
		FreeFrames:  free,
		FrameSize:   m.frameSize,
		Allocations: len(m.allocs),
		Evictions:   m.evictions,
	}
}

// Frames returns a snapshot of the frame table
func (m *Manager) Frames() []simos.FrameInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]simos.FrameInfo, len(m.frames))
	for i, f := range m.frames {
		out[i] = simos.FrameInfo{Index: i, State: f.state, Owner: f.owner}
	}
	return out
}

func (m *Manager) freeCount() int {
	n := 0
	for _, f := range m.frames {
		if f.state == simos.FrameFree {
			n++
		}
	}
	return n
}

// victim returns the oldest unpinned allocation, or nil
func (m *Manager) victim() *allocation {
	var oldest *allocation
	for _, a := range m.allocs {
		if a.pinned {
			continue
		}
		if oldest == nil || a.allocatedAt.Before(oldest.allocatedAt) ||
			(a.allocatedAt.Equal(oldest.allocatedAt) && a.seq < oldest.seq) {
			oldest = a
		}
	}
	return oldest
}

func (m *Manager) release(a *allocation) {
	for _, i := range a.frames {
		m.frames[i] = frame{}
	}
	delete(m.allocs, a.handle)
}
