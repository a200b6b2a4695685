package filesystem

import (
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
)

// Node is a named entry in the tree. Directories own their children
// exclusively; there are no parent back-references, ancestors are tracked by
// the resolver instead.
type Node struct {
	id       uuid.UUID
	name     string                    // Name of the node (last part of the path); "" for root
	children *xsync.Map[string, *Node] // nil for files
	*Inode
}

// NewDirNode creates a directory node with a fresh identity
func NewDirNode(name string, inode *Inode) *Node {
	return &Node{
		id:       uuid.New(),
		name:     name,
		children: xsync.NewMap[string, *Node](),
		Inode:    inode,
	}
}

// NewFileNode creates a file node with a fresh identity
func NewFileNode(name string, inode *Inode) *Node {
	return &Node{
		id:    uuid.New(),
		name:  name,
		Inode: inode,
	}
}

// ID returns the node's stable identity
func (n *Node) ID() uuid.UUID {
	return n.id
}

// Name returns the node's immutable Name.
func (n *Node) Name() string {
	return n.name
}

func (n *Node) IsRoot() bool {
	return n.attr.Ino == fuse.FUSE_ROOT_ID
}

// AddChild adds a child node to the directory's children map
func (n *Node) AddChild(child *Node) {
	n.children.Store(child.name, child)
}

// GetChild returns a child node. Files never have children
func (n *Node) GetChild(name string) (child *Node, ok bool) {
	if n.children == nil {
		return nil, false
	}
	return n.children.Load(name)
}

// RemoveChild detaches and returns the named child
func (n *Node) RemoveChild(name string) (*Node, bool) {
	if n.children == nil {
		return nil, false
	}
	return n.children.LoadAndDelete(name)
}

// ChildCount returns the number of direct children
func (n *Node) ChildCount() int {
	if n.children == nil {
		return 0
	}
	return n.children.Size()
}

// Children returns the direct children sorted by name
func (n *Node) Children() []*Node {
	if n.children == nil {
		return nil
	}
	children := make([]*Node, 0, n.children.Size())
	n.children.Range(func(_ string, ch *Node) bool {
		children = append(children, ch)
		return true
	})
	slices.SortFunc(children, func(a, b *Node) int {
		return strings.Compare(a.name, b.name)
	})
	return children
}

// TreeSize returns the content size of a file or the total content size of
// every file below a directory
func (n *Node) TreeSize() uint64 {
	if !n.IsDir() {
		return n.Size()
	}
	var total uint64
	n.children.Range(func(_ string, ch *Node) bool {
		total += ch.TreeSize()
		return true
	})
	return total
}
