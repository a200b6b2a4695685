package process

import (
	"fmt"
	"slices"
	"time"

	"github.com/brettbedarf/simos"
)

// transitions lists the legal target states per state. Terminate may kill a
// process from any live state; TERMINATED is absorbing.
var transitions = map[simos.ProcessState][]simos.ProcessState{
	simos.StateNew:        {simos.StateReady, simos.StateTerminated},
	simos.StateReady:      {simos.StateRunning, simos.StateTerminated},
	simos.StateRunning:    {simos.StateReady, simos.StateWaiting, simos.StateTerminated},
	simos.StateWaiting:    {simos.StateReady, simos.StateTerminated},
	simos.StateTerminated: nil,
}

// pcb is a process control block
type pcb struct {
	pid      simos.PID
	name     string
	state    simos.ProcessState
	priority int
	memory   simos.Handle // first allocation; 0 when none. Not owned

	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
	cpuTicks  uint64

	waitPending bool // move to WAITING instead of READY when descheduled
}

func (p *pcb) transition(to simos.ProcessState) error {
	if !slices.Contains(transitions[p.state], to) {
		return fmt.Errorf("%w: %s -> %s", simos.ErrInvalidStateTransition, p.state, to)
	}
	p.state = to
	return nil
}

func (p *pcb) info() simos.ProcessInfo {
	info := simos.ProcessInfo{
		PID:          p.pid,
		Name:         p.name,
		State:        p.state,
		Priority:     p.priority,
		MemoryHandle: p.memory,
		CPUTicks:     p.cpuTicks,
		CreatedAt:    p.createdAt,
	}
	if !p.startedAt.IsZero() {
		started := p.startedAt
		info.StartedAt = &started
	}
	if !p.endedAt.IsZero() {
		ended := p.endedAt
		info.EndedAt = &ended
	}
	return info
}
