package simos

import "time"

// ProcessState is the scheduling state of a PCB.
type ProcessState int

const (
	StateNew ProcessState = iota
	StateReady
	StateRunning
	StateWaiting
	StateTerminated
)

var processStateNames = [...]string{
	StateNew:        "NEW",
	StateReady:      "READY",
	StateRunning:    "RUNNING",
	StateWaiting:    "WAITING",
	StateTerminated: "TERMINATED",
}

func (s ProcessState) String() string {
	if s < 0 || int(s) >= len(processStateNames) {
		return "UNKNOWN"
	}
	return processStateNames[s]
}

// ProcessInfo is a snapshot of a process control block
type ProcessInfo struct {
	PID          PID
	Name         string
	State        ProcessState
	Priority     int // Higher number = scheduled first
	MemoryHandle Handle
	CPUTicks     uint64 // Number of schedule ticks spent RUNNING
	CreatedAt    time.Time
	StartedAt    *time.Time // nil until first RUNNING
	EndedAt      *time.Time // nil until TERMINATED
}
