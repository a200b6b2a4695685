package simos

import "time"

// NodeType valid types are FileNodeType "file", DirNodeType "dir"
type NodeType string

const (
	FileNodeType NodeType = "file"
	DirNodeType  NodeType = "dir"
)

// NodeInfo is a read-only snapshot of a file system node
type NodeInfo struct {
	ID         string // Stable node identity; survives save/load
	Ino        uint64
	Name       string
	Path       string // Absolute path from root
	Type       NodeType
	Size       uint64 // Content length for files, 0 for directories
	Perms      uint32 // i.e. 0755
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// IsDir reports whether the node is a directory
func (n NodeInfo) IsDir() bool {
	return n.Type == DirNodeType
}

// DirEntry is one child returned by a directory listing
type DirEntry struct {
	Name        string
	IsDirectory bool
	// Size is the file length, or the total content size of the subtree
	// for directories
	Size       uint64
	ModifiedAt time.Time
}
