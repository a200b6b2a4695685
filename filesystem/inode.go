package filesystem

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

const (
	DirPerms  uint32 = 0o755
	FilePerms uint32 = 0o644

	defaultBlksize = 4096 // preferred size for fs ops
)

// Inode holds the attributes and data of a node. Attributes are kept in the
// fuse wire format; Ctime is the creation time and Mtime the last modification.
//
// Inodes are only accessed under the owning FileSystem's lock.
type Inode struct {
	attr    fuse.Attr
	content []byte // nil for directories
}

// NewInode creates an inode with the given type bits (fuse.S_IFDIR or
// fuse.S_IFREG) and permissions, stamped with now
func NewInode(ino uint64, typeBits, perms uint32, now time.Time) *Inode {
	attr := fuse.Attr{
		Ino:     ino,
		Mode:    typeBits | perms,
		Nlink:   1,
		Blksize: defaultBlksize,
	}
	attr.SetTimes(&now, &now, &now)
	return &Inode{attr: attr}
}

// Ino returns the inode number
func (n *Inode) Ino() uint64 {
	return n.attr.Ino
}

func (n *Inode) IsDir() bool {
	return n.attr.IsDir()
}

// Perms returns the permission bits without the type bits
func (n *Inode) Perms() uint32 {
	return n.attr.Mode & 0o7777
}

func (n *Inode) Size() uint64 {
	return n.attr.Size
}

func (n *Inode) CreatedAt() time.Time {
	return n.attr.ChangeTime()
}

func (n *Inode) ModifiedAt() time.Time {
	return n.attr.ModTime()
}

// Content returns a copy of the file data
func (n *Inode) Content() []byte {
	return append([]byte(nil), n.content...)
}

// SetContent replaces the file data, keeping size in sync, and bumps mtime
func (n *Inode) SetContent(data []byte, now time.Time) {
	n.content = append([]byte(nil), data...)
	n.attr.Size = uint64(len(n.content))
	n.attr.Blocks = (n.attr.Size + 511) / 512
	n.Touch(now)
}

// Touch updates the modification time
func (n *Inode) Touch(now time.Time) {
	n.attr.SetTimes(nil, &now, nil)
}

// CopyAttr returns a copy of the inode's attributes
func (n *Inode) CopyAttr() fuse.Attr {
	return n.attr
}
