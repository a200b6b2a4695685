package mocks

import (
	"github.com/brettbedarf/simos/storage"
	"github.com/stretchr/testify/mock"
)

// MockStore implements storage.Store for testing across packages
type MockStore struct {
	mock.Mock
}

var _ storage.Store = (*MockStore)(nil)

func (m *MockStore) Read() ([]byte, error) {
	args := m.Called()

	// Handle nil returns
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStore) Write(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockStore) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockStore) Quarantine() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}
