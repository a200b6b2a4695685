package simos

// FileSystemOperator defines the file system operations that external consumers need.
// Every path-taking call resolves relative paths against base, an absolute path
// owned by the caller (its current directory).
type FileSystemOperator interface {
	CreateDirectory(base, name string) (NodeInfo, error)
	CreateFile(base, name string) (NodeInfo, error)

	// ChangeDirectory returns the absolute path that path resolves to from base
	ChangeDirectory(base, path string) (string, error)
	ListDirectoryAt(base, path string) ([]DirEntry, error)
	Stat(base, name string) (NodeInfo, error)

	ReadFile(base, name string) (string, error)
	// WriteFile overwrites the content of an existing file
	WriteFile(base, name, content string) error
	Delete(base, name string) error

	Save() error
	Load() error
}

// MemoryOperator defines the frame pool operations exposed to consumers
type MemoryOperator interface {
	Free(h Handle) error
	Pin(h Handle) error
	Unpin(h Handle) error
	Usage() MemoryUsage
	Frames() []FrameInfo
	Allocations(pid PID) []AllocationInfo
}

// ProcessOperator defines the process table operations exposed to consumers
type ProcessOperator interface {
	Create(name string, priority int) (PID, error)
	CreateWithMemory(name string, priority, pages int) (PID, error)
	Terminate(pid PID) error
	Schedule() (ProcessInfo, bool)
	Wait(pid PID) error
	Wake(pid PID) error
	Get(pid PID) (ProcessInfo, error)
	List() []ProcessInfo
	Terminated() []ProcessInfo
}
