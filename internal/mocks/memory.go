package mocks

import (
	"github.com/brettbedarf/simos"
	"github.com/stretchr/testify/mock"
)

// MockMemory implements process.MemoryAllocator for testing across packages
type MockMemory struct {
	mock.Mock
}

func (m *MockMemory) FreeAll(pid simos.PID) int {
	args := m.Called(pid)
	return args.Int(0)
}

func (m *MockMemory) AllocateEvicting(pid simos.PID, pages int) (simos.Handle, []simos.AllocationInfo, error) {
	args := m.Called(pid, pages)

	// Handle function return types (for tests that compute the handle)
	if fn, ok := args.Get(0).(func(simos.PID, int) simos.Handle); ok {
		return fn(pid, pages), nil, args.Error(2)
	}

	var evicted []simos.AllocationInfo
	if args.Get(1) != nil {
		evicted = args.Get(1).([]simos.AllocationInfo)
	}
	return args.Get(0).(simos.Handle), evicted, args.Error(2)
}
