package simos

import "time"

// FrameState of a physical frame in the simulated pool
type FrameState uint8

const (
	FrameFree FrameState = iota
	FrameOccupied
)

func (s FrameState) String() string {
	if s == FrameOccupied {
		return "OCCUPIED"
	}
	return "FREE"
}

// FrameInfo is a snapshot of one frame table slot
type FrameInfo struct {
	Index int
	State FrameState
	Owner PID // 0 when free
}

// AllocationInfo is a snapshot of a live allocation record
type AllocationInfo struct {
	Handle      Handle
	Owner       PID
	Frames      []int
	Pinned      bool
	AllocatedAt time.Time
}

// MemoryUsage summarizes the frame pool
type MemoryUsage struct {
	TotalFrames int
	UsedFrames  int
	FreeFrames  int
	FrameSize   int // Bytes per frame
	Allocations int
	Evictions   uint64
}

// UsedBytes returns the occupied memory in bytes
func (u MemoryUsage) UsedBytes() uint64 {
	return uint64(u.UsedFrames) * uint64(u.FrameSize)
}

// TotalBytes returns the pool capacity in bytes
func (u MemoryUsage) TotalBytes() uint64 {
	return uint64(u.TotalFrames) * uint64(u.FrameSize)
}
