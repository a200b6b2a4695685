// Package process owns the process control blocks and drives their state
// machine. Scheduling is a deterministic step invoked by the caller; nothing
// runs in the background.
package process

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/brettbedarf/simos"
	"github.com/brettbedarf/simos/config"
	"github.com/brettbedarf/simos/internal/util"
)

// MemoryReclaimer releases the memory of a terminated process
type MemoryReclaimer interface {
	// FreeAll frees every allocation owned by pid and returns the frames
	// released
	FreeAll(pid simos.PID) int
}

// MemoryAllocator is the memory a process manager can allocate from
type MemoryAllocator interface {
	MemoryReclaimer
	// AllocateEvicting reserves pages for pid, reporting any allocation
	// evicted to make room
	AllocateEvicting(pid simos.PID, pages int) (simos.Handle, []simos.AllocationInfo, error)
}

type Manager struct {
	mem           MemoryAllocator
	terminatedCap int

	mu         sync.Mutex
	pcbs       map[simos.PID]*pcb
	order      []simos.PID // creation order of live PCBs
	lastPID    simos.PID
	running    simos.PID // 0 when idle
	terminated []simos.ProcessInfo
	now        func() time.Time
}

var _ simos.ProcessOperator = (*Manager)(nil)

// NewManager creates an empty process table reclaiming memory from mem
func NewManager(cfg *config.Config, mem MemoryAllocator) *Manager {
	return &Manager{
		mem:           mem,
		terminatedCap: cfg.TerminatedLogSize,
		pcbs:          make(map[simos.PID]*pcb),
		now:           time.Now,
	}
}

// Create admits a new process. It enters NEW and is immediately READY.
func (m *Manager) Create(name string, priority int) (simos.PID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.admit(name, priority, 0)
}

// CreateWithMemory admits a new process holding pages frames. The pid is only
// consumed once the allocation succeeds.
func (m *Manager) CreateWithMemory(name string, priority, pages int) (simos.PID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateName(name); err != nil {
		return 0, err
	}
	pid := m.lastPID + 1
	h, evicted, err := m.mem.AllocateEvicting(pid, pages)
	if err != nil {
		return 0, err
	}
	m.detachLocked(evicted)
	return m.admit(name, priority, h)
}

func (m *Manager) admit(name string, priority int, h simos.Handle) (simos.PID, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}

	m.lastPID++
	p := &pcb{
		pid:       m.lastPID,
		name:      name,
		state:     simos.StateNew,
		priority:  priority,
		memory:    h,
		createdAt: m.now(),
	}
	if err := p.transition(simos.StateReady); err != nil {
		return 0, simos.NewOpError("run", name, err)
	}
	m.pcbs[p.pid] = p
	m.order = append(m.order, p.pid)

	logger := util.GetLogger("Process.Create")
	logger.Debug().
		Uint32("pid", uint32(p.pid)).
		Str("name", name).
		Int("priority", priority).
		Uint64("handle", uint64(h)).
		Msg("Created process")
	return p.pid, nil
}

// Schedule advances one tick. The RUNNING process, if any, returns to READY
// (or WAITING when it signalled Wait), then the READY process with the
// highest priority runs, ties going to the lowest pid. Returns false when
// nothing is READY.
func (m *Manager) Schedule() (simos.ProcessInfo, bool) {
	logger := util.GetLogger("Process.Schedule")

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.pcbs[m.running]; ok {
		to := simos.StateReady
		if prev.waitPending {
			to = simos.StateWaiting
			prev.waitPending = false
		}
		if err := prev.transition(to); err != nil {
			logger.Error().Err(err).Uint32("pid", uint32(prev.pid)).Msg("Failed to deschedule")
		}
	}
	m.running = 0

	var next *pcb
	for _, pid := range m.order {
		p := m.pcbs[pid]
		if p.state != simos.StateReady {
			continue
		}
		// order is ascending by pid so strict > keeps the lowest pid on ties
		if next == nil || p.priority > next.priority {
			next = p
		}
	}
	if next == nil {
		logger.Trace().Msg("Nothing ready")
		return simos.ProcessInfo{}, false
	}

	if err := next.transition(simos.StateRunning); err != nil {
		logger.Error().Err(err).Uint32("pid", uint32(next.pid)).Msg("Failed to dispatch")
		return simos.ProcessInfo{}, false
	}
	next.cpuTicks++
	if next.startedAt.IsZero() {
		next.startedAt = m.now()
	}
	m.running = next.pid

	logger.Debug().Uint32("pid", uint32(next.pid)).Uint64("ticks", next.cpuTicks).Msg("Dispatched")
	return next.info(), true
}

// Terminate kills a live process, frees its memory and removes its PCB after
// recording it in the terminated log. Unknown or already terminated pids fail
// with ErrNotFound.
func (m *Manager) Terminate(pid simos.PID) error {
	logger := util.GetLogger("Process.Terminate")

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pcbs[pid]
	if !ok {
		return simos.NewOpError("kill", pidSubject(pid), simos.ErrNotFound)
	}
	if err := p.transition(simos.StateTerminated); err != nil {
		return simos.NewOpError("kill", pidSubject(pid), err)
	}
	p.endedAt = m.now()
	p.memory = 0
	p.waitPending = false
	if m.running == pid {
		m.running = 0
	}

	freed := m.mem.FreeAll(pid)

	m.logTerminated(p.info())
	delete(m.pcbs, pid)
	if i := slices.Index(m.order, pid); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}

	logger.Debug().Uint32("pid", uint32(pid)).Int("framesFreed", freed).Msg("Terminated process")
	return nil
}

// Wait signals that the RUNNING process pid blocks; it moves to WAITING at the
// next Schedule
func (m *Manager) Wait(pid simos.PID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pcbs[pid]
	if !ok {
		return simos.NewOpError("wait", pidSubject(pid), simos.ErrNotFound)
	}
	if p.state != simos.StateRunning {
		return simos.NewOpError("wait", pidSubject(pid),
			fmt.Errorf("%w: %s is not RUNNING", simos.ErrInvalidStateTransition, p.state))
	}
	p.waitPending = true
	return nil
}

// Wake moves a WAITING process back to READY
func (m *Manager) Wake(pid simos.PID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pcbs[pid]
	if !ok {
		return simos.NewOpError("wake", pidSubject(pid), simos.ErrNotFound)
	}
	if p.state != simos.StateWaiting {
		return simos.NewOpError("wake", pidSubject(pid),
			fmt.Errorf("%w: %s is not WAITING", simos.ErrInvalidStateTransition, p.state))
	}
	return p.transition(simos.StateReady)
}

// Attach records h as the process memory handle when it has none yet
func (m *Manager) Attach(pid simos.PID, h simos.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pcbs[pid]
	if !ok {
		return simos.NewOpError("attach", pidSubject(pid), simos.ErrNotFound)
	}
	if p.memory == 0 {
		p.memory = h
	}
	return nil
}

// Detach clears PCB memory handles that refer to the given allocations, which
// were freed or evicted behind the process's back
func (m *Manager) Detach(allocs ...simos.AllocationInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.detachLocked(allocs)
}

func (m *Manager) detachLocked(allocs []simos.AllocationInfo) {
	for _, a := range allocs {
		if p, ok := m.pcbs[a.Owner]; ok && p.memory == a.Handle {
			p.memory = 0
		}
	}
}

func (m *Manager) Get(pid simos.PID) (simos.ProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pcbs[pid]
	if !ok {
		return simos.ProcessInfo{}, simos.NewOpError("get", pidSubject(pid), simos.ErrNotFound)
	}
	return p.info(), nil
}

// Running returns the RUNNING process, if any
func (m *Manager) Running() (simos.ProcessInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pcbs[m.running]
	if !ok {
		return simos.ProcessInfo{}, false
	}
	return p.info(), true
}

// List returns a snapshot of every live PCB in creation order
func (m *Manager) List() []simos.ProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]simos.ProcessInfo, 0, len(m.order))
	for _, pid := range m.order {
		infos = append(infos, m.pcbs[pid].info())
	}
	return infos
}

// Terminated returns the most recent terminated processes, oldest first
func (m *Manager) Terminated() []simos.ProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.terminated)
}

func (m *Manager) logTerminated(info simos.ProcessInfo) {
	if m.terminatedCap <= 0 {
		return
	}
	if len(m.terminated) == m.terminatedCap {
		m.terminated = slices.Delete(m.terminated, 0, 1)
	}
	m.terminated = append(m.terminated, info)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return simos.NewOpError("run", name, simos.ErrInvalidName)
	}
	return nil
}

func pidSubject(pid simos.PID) string {
	return fmt.Sprintf("pid %d", pid)
}
