package filesystem

import (
	"path"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/brettbedarf/simos"
	"github.com/brettbedarf/simos/config"
	"github.com/brettbedarf/simos/internal/util"
	"github.com/brettbedarf/simos/storage"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FileSystem is the virtual file system: a rooted tree of directories and
// files addressed by path. The caller's current directory is never stored
// here; every operation takes it as base.
type FileSystem struct {
	cfg     *config.Config
	store   storage.Store
	root    *Node         // Root of node tree; replaced wholesale by Load
	lastIno atomic.Uint64 // Last Attr.Ino assigned; incremented when new nodes are created
	mu      sync.RWMutex  // Guards the tree
	now     func() time.Time
}

var _ simos.FileSystemOperator = (*FileSystem)(nil)

// NewFS creates a file system holding only the root directory
func NewFS(cfg *config.Config, store storage.Store) *FileSystem {
	fs := &FileSystem{cfg: cfg, store: store, now: time.Now}
	fs.root = NewDirNode("", NewInode(fuse.FUSE_ROOT_ID, fuse.S_IFDIR, DirPerms, fs.now()))
	fs.lastIno.Store(fuse.FUSE_ROOT_ID)
	return fs
}

// CreateDirectory creates an empty directory name inside the directory base
func (fs *FileSystem) CreateDirectory(base, name string) (simos.NodeInfo, error) {
	return fs.create("mkdir", base, name, true)
}

// CreateFile creates an empty file name inside the directory base
func (fs *FileSystem) CreateFile(base, name string) (simos.NodeInfo, error) {
	return fs.create("touch", base, name, false)
}

func (fs *FileSystem) create(op, base, name string, isDir bool) (simos.NodeInfo, error) {
	logger := util.GetLogger("FS.Create")
	subject := path.Join(base, name)

	if err := validateName(name); err != nil {
		return simos.NodeInfo{}, simos.NewOpError(op, name, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, err := resolveDir(fs.root, base)
	if err != nil {
		logger.Debug().Str("base", base).Msg("Base directory not found")
		return simos.NodeInfo{}, simos.NewOpError(op, base, err)
	}
	parent := dir.node()
	if _, ok := parent.GetChild(name); ok {
		return simos.NodeInfo{}, simos.NewOpError(op, subject, simos.ErrAlreadyExists)
	}

	now := fs.now()
	var node *Node
	if isDir {
		node = NewDirNode(name, NewInode(fs.lastIno.Add(1), fuse.S_IFDIR, DirPerms, now))
	} else {
		node = NewFileNode(name, NewInode(fs.lastIno.Add(1), fuse.S_IFREG, FilePerms, now))
	}
	parent.AddChild(node)
	parent.Touch(now)

	loc := dir.push(node)
	logger.Debug().Str("path", loc.path()).Bool("dir", isDir).Msg("Created node")
	return nodeInfo(loc), nil
}

// MkdirAll creates every missing directory along the absolute path p and
// returns the leaf. It is equivalent to `mkdir -p` and does not fail when the
// leaf already exists. Fails with ErrNotADirectory when a segment is a file.
func (fs *FileSystem) MkdirAll(p string) (simos.NodeInfo, error) {
	logger := util.GetLogger("FS.MkdirAll")

	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Validate the whole path up front so a failure creates nothing
	cur := rootLocation(fs.root)
	var missing []string
	for seg := range splitPath(p) {
		if len(missing) > 0 {
			if err := validateName(seg); err != nil {
				return simos.NodeInfo{}, simos.NewOpError("mkdir", p, err)
			}
			missing = append(missing, seg)
			continue
		}
		if seg == ".." {
			cur = cur.pop()
			continue
		}
		child, ok := cur.node().GetChild(seg)
		switch {
		case !ok:
			if err := validateName(seg); err != nil {
				return simos.NodeInfo{}, simos.NewOpError("mkdir", p, err)
			}
			missing = append(missing, seg)
		case !child.IsDir():
			return simos.NodeInfo{}, simos.NewOpError("mkdir", p, simos.ErrNotADirectory)
		default:
			cur = cur.push(child)
		}
	}

	now := fs.now()
	for _, name := range missing {
		node := NewDirNode(name, NewInode(fs.lastIno.Add(1), fuse.S_IFDIR, DirPerms, now))
		cur.node().AddChild(node)
		cur.node().Touch(now)
		cur = cur.push(node)
	}
	if len(missing) > 0 {
		logger.Debug().Str("path", cur.path()).Int("created", len(missing)).Msg("Created directories")
	}
	return nodeInfo(cur), nil
}

// Seed creates the given absolute directories, skipping those that exist
func (fs *FileSystem) Seed(dirs ...string) error {
	logger := util.GetLogger("FS.Seed")
	for _, d := range dirs {
		if _, err := fs.MkdirAll(d); err != nil {
			return err
		}
	}
	logger.Info().Strs("dirs", dirs).Msg("Seeded file system")
	return nil
}

// ChangeDirectory resolves p against base and returns the resulting absolute
// path. Fails with ErrNotFound when any segment is missing or is a file.
func (fs *FileSystem) ChangeDirectory(base, p string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	loc, err := resolve(fs.root, base, p)
	if err != nil {
		return "", simos.NewOpError("cd", p, asNotFound(err))
	}
	if !loc.node().IsDir() {
		return "", simos.NewOpError("cd", p, simos.ErrNotFound)
	}
	return loc.path(), nil
}

// ListDirectory lists the directory at p; relative paths resolve from root
func (fs *FileSystem) ListDirectory(p string) ([]simos.DirEntry, error) {
	return fs.ListDirectoryAt(Separator, p)
}

// ListDirectoryAt lists the directory p resolved against base, sorted by name.
// An empty directory yields an empty, non-nil slice.
func (fs *FileSystem) ListDirectoryAt(base, p string) ([]simos.DirEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	loc, err := resolve(fs.root, base, p)
	if err != nil {
		return nil, simos.NewOpError("ls", p, err)
	}
	dir := loc.node()
	if !dir.IsDir() {
		return nil, simos.NewOpError("ls", p, simos.ErrNotADirectory)
	}

	children := dir.Children()
	entries := make([]simos.DirEntry, 0, len(children))
	for _, ch := range children {
		entries = append(entries, simos.DirEntry{
			Name:        ch.name,
			IsDirectory: ch.IsDir(),
			Size:        ch.TreeSize(),
			ModifiedAt:  ch.ModifiedAt(),
		})
	}
	return entries, nil
}

// Stat returns information about the node name resolves to from base
func (fs *FileSystem) Stat(base, name string) (simos.NodeInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	loc, err := resolve(fs.root, base, name)
	if err != nil {
		return simos.NodeInfo{}, simos.NewOpError("stat", name, err)
	}
	return nodeInfo(loc), nil
}

// ReadFile returns the content of the file name resolves to from base
func (fs *FileSystem) ReadFile(base, name string) (string, error) {
	if name == "" {
		return "", simos.NewOpError("cat", name, simos.ErrInvalidName)
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	loc, err := resolve(fs.root, base, name)
	if err != nil {
		return "", simos.NewOpError("cat", name, err)
	}
	node := loc.node()
	if node.IsDir() {
		return "", simos.NewOpError("cat", name, simos.ErrIsADirectory)
	}
	return string(node.content), nil
}

// WriteFile overwrites the content of an existing file. It never creates the
// file. Content must be valid UTF-8 text.
func (fs *FileSystem) WriteFile(base, name, content string) error {
	logger := util.GetLogger("FS.WriteFile")

	if name == "" {
		return simos.NewOpError("write", name, simos.ErrInvalidName)
	}
	if !utf8.ValidString(content) {
		return simos.NewOpError("write", name, simos.ErrInvalidArgument)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	loc, err := resolve(fs.root, base, name)
	if err != nil {
		return simos.NewOpError("write", name, err)
	}
	node := loc.node()
	if node.IsDir() {
		return simos.NewOpError("write", name, simos.ErrIsADirectory)
	}
	node.SetContent([]byte(content), fs.now())
	logger.Debug().Str("path", loc.path()).Int("bytes", len(content)).Msg("Wrote file")
	return nil
}

// Delete removes a file or an empty directory. With RecursiveDelete
// configured, non-empty directories are removed with their subtree.
// The root, base itself and base's ancestors can never be deleted.
func (fs *FileSystem) Delete(base, name string) error {
	logger := util.GetLogger("FS.Delete")

	if name == "" {
		return simos.NewOpError("rm", name, simos.ErrInvalidName)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	loc, err := resolve(fs.root, base, name)
	if err != nil {
		return simos.NewOpError("rm", name, err)
	}
	if loc.isRoot() {
		return simos.NewOpError("rm", Separator, simos.ErrInvalidName)
	}
	// the caller's directory and its ancestors stay put
	if baseLoc, err := resolveDir(fs.root, base); err == nil && loc.encloses(baseLoc) {
		return simos.NewOpError("rm", loc.path(), simos.ErrInvalidName)
	}
	node := loc.node()
	if node.IsDir() && node.ChildCount() > 0 && !fs.cfg.RecursiveDelete {
		return simos.NewOpError("rm", loc.path(), simos.ErrDirectoryNotEmpty)
	}

	parent := loc.parent()
	parent.RemoveChild(node.name)
	parent.Touch(fs.now())
	logger.Debug().Str("path", loc.path()).Bool("dir", node.IsDir()).Msg("Deleted node")
	return nil
}

// Walk visits every node depth first in name order, root included
func (fs *FileSystem) Walk(fn func(info simos.NodeInfo)) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var visit func(loc location)
	visit = func(loc location) {
		fn(nodeInfo(loc))
		for _, ch := range loc.node().Children() {
			visit(loc.push(ch))
		}
	}
	visit(rootLocation(fs.root))
}

func nodeInfo(loc location) simos.NodeInfo {
	n := loc.node()
	typ := simos.FileNodeType
	if n.IsDir() {
		typ = simos.DirNodeType
	}
	return simos.NodeInfo{
		ID:         n.id.String(),
		Ino:        n.Ino(),
		Name:       n.name,
		Path:       loc.path(),
		Type:       typ,
		Size:       n.Size(),
		Perms:      n.Perms(),
		CreatedAt:  n.CreatedAt(),
		ModifiedAt: n.ModifiedAt(),
	}
}
