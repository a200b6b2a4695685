package filesystem

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/brettbedarf/simos"
	"github.com/brettbedarf/simos/internal/util"
	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const snapshotVersion = 1

// snapshot is the persisted form of the whole tree
type snapshot struct {
	Version int `yaml:"version" json:"version"`
	// Checksum is the hex BLAKE3 digest of the canonical JSON encoding of Root
	Checksum string     `yaml:"checksum" json:"checksum"`
	Root     nodeRecord `yaml:"root" json:"root"`
}

// nodeRecord is the persisted form of one node. Children are sorted by name
// and times are UTC so identical trees encode to identical bytes.
type nodeRecord struct {
	ID         string         `yaml:"id" json:"id"`
	Name       string         `yaml:"name" json:"name"`
	Type       simos.NodeType `yaml:"type" json:"type"`
	Ino        uint64         `yaml:"ino" json:"ino"`
	Perms      uint32         `yaml:"perms" json:"perms"`
	CreatedAt  time.Time      `yaml:"created_at" json:"created_at"`
	ModifiedAt time.Time      `yaml:"modified_at" json:"modified_at"`
	Content    fileContent    `yaml:"content,omitempty" json:"content,omitempty"`
	Children   []nodeRecord   `yaml:"children,omitempty" json:"children,omitempty"`
}

// fileContent is file text that always encodes as a double-quoted YAML
// scalar, so runs of newlines and edge whitespace survive a round trip
type fileContent string

func (c fileContent) MarshalYAML() (any, error) {
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Style: yaml.DoubleQuotedStyle,
		Value: string(c),
	}, nil
}

// codec selects the snapshot encoding from the store path extension:
// .json is JSON, anything else YAML
type codec struct {
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

func codecFor(storePath string) codec {
	if strings.EqualFold(filepath.Ext(storePath), ".json") {
		return codec{
			marshal: func(v any) ([]byte, error) {
				return json.MarshalIndent(v, "", "  ")
			},
			unmarshal: json.Unmarshal,
		}
	}
	return codec{marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}
}

// Save serializes the whole tree to the backing store. Saving an unchanged
// tree produces byte-identical output.
func (fs *FileSystem) Save() error {
	logger := util.GetLogger("FS.Save")

	fs.mu.RLock()
	snap, err := newSnapshot(fs.root)
	fs.mu.RUnlock()
	if err != nil {
		return storageErr("save", fs.store.Path(), err)
	}

	data, err := codecFor(fs.store.Path()).marshal(snap)
	if err != nil {
		return storageErr("save", fs.store.Path(), fmt.Errorf("encode snapshot: %w", err))
	}
	if err := fs.store.Write(data); err != nil {
		logger.Warn().Err(err).Str("store", fs.store.Path()).Msg("Failed to save file system")
		return storageErr("save", fs.store.Path(), err)
	}
	logger.Info().Str("store", fs.store.Path()).Int("bytes", len(data)).Msg("Saved file system")
	return nil
}

// Load replaces the in-memory tree with the one in the backing store. The
// snapshot is fully decoded and verified before the swap, so a failed load
// leaves the current tree untouched. An empty store fails with an error
// matching both ErrStorageIO and storage.ErrEmpty.
func (fs *FileSystem) Load() error {
	logger := util.GetLogger("FS.Load")

	data, err := fs.store.Read()
	if err != nil {
		return storageErr("load", fs.store.Path(), err)
	}

	var snap snapshot
	if err := codecFor(fs.store.Path()).unmarshal(data, &snap); err != nil {
		return storageErr("load", fs.store.Path(), fmt.Errorf("decode snapshot: %w", err))
	}
	root, maxIno, err := snap.restore()
	if err != nil {
		logger.Warn().Err(err).Str("store", fs.store.Path()).Msg("Rejected snapshot")
		return storageErr("load", fs.store.Path(), err)
	}

	fs.mu.Lock()
	fs.root = root
	fs.lastIno.Store(maxIno)
	fs.mu.Unlock()

	logger.Info().Str("store", fs.store.Path()).Uint64("lastIno", maxIno).Msg("Loaded file system")
	return nil
}

func storageErr(op, subject string, err error) error {
	return simos.NewOpError(op, subject, fmt.Errorf("%w: %w", simos.ErrStorageIO, err))
}

func newSnapshot(root *Node) (*snapshot, error) {
	rec := recordOf(root)
	sum, err := checksum(rec)
	if err != nil {
		return nil, err
	}
	return &snapshot{Version: snapshotVersion, Checksum: sum, Root: rec}, nil
}

func recordOf(n *Node) nodeRecord {
	rec := nodeRecord{
		ID:         n.id.String(),
		Name:       n.name,
		Type:       simos.FileNodeType,
		Ino:        n.Ino(),
		Perms:      n.Perms(),
		CreatedAt:  n.CreatedAt().UTC(),
		ModifiedAt: n.ModifiedAt().UTC(),
	}
	if !n.IsDir() {
		rec.Content = fileContent(n.content)
		return rec
	}
	rec.Type = simos.DirNodeType
	for _, ch := range n.Children() {
		rec.Children = append(rec.Children, recordOf(ch))
	}
	return rec
}

func checksum(rec nodeRecord) (string, error) {
	canonical, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode checksum input: %w", err)
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

var errCorruptSnapshot = errors.New("corrupt snapshot")

// restore verifies the snapshot and rebuilds the tree it describes, returning
// the root and the highest inode number in use
func (s *snapshot) restore() (*Node, uint64, error) {
	if s.Version != snapshotVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", errCorruptSnapshot, s.Version)
	}
	sum, err := checksum(s.Root)
	if err != nil {
		return nil, 0, err
	}
	if sum != s.Checksum {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", errCorruptSnapshot)
	}
	if s.Root.Type != simos.DirNodeType || s.Root.Ino != fuse.FUSE_ROOT_ID {
		return nil, 0, fmt.Errorf("%w: root must be a directory with ino %d", errCorruptSnapshot, fuse.FUSE_ROOT_ID)
	}

	seenIno := map[uint64]bool{}
	root, err := restoreNode(s.Root, seenIno, true)
	if err != nil {
		return nil, 0, err
	}
	var maxIno uint64
	for ino := range seenIno {
		maxIno = max(maxIno, ino)
	}
	return root, maxIno, nil
}

func restoreNode(rec nodeRecord, seenIno map[uint64]bool, isRoot bool) (*Node, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: node %q: bad id: %w", errCorruptSnapshot, rec.Name, err)
	}
	if !isRoot {
		if err := validateName(rec.Name); err != nil {
			return nil, fmt.Errorf("%w: bad name %q", errCorruptSnapshot, rec.Name)
		}
	}
	if rec.Ino == 0 || seenIno[rec.Ino] {
		return nil, fmt.Errorf("%w: node %q: duplicate or zero ino %d", errCorruptSnapshot, rec.Name, rec.Ino)
	}
	seenIno[rec.Ino] = true

	var node *Node
	switch rec.Type {
	case simos.DirNodeType:
		node = NewDirNode(rec.Name, NewInode(rec.Ino, fuse.S_IFDIR, rec.Perms, rec.CreatedAt))
		for _, chRec := range rec.Children {
			if _, dup := node.GetChild(chRec.Name); dup {
				return nil, fmt.Errorf("%w: duplicate name %q", errCorruptSnapshot, chRec.Name)
			}
			child, err := restoreNode(chRec, seenIno, false)
			if err != nil {
				return nil, err
			}
			node.AddChild(child)
		}
	case simos.FileNodeType:
		if len(rec.Children) > 0 {
			return nil, fmt.Errorf("%w: file %q has children", errCorruptSnapshot, rec.Name)
		}
		node = NewFileNode(rec.Name, NewInode(rec.Ino, fuse.S_IFREG, rec.Perms, rec.CreatedAt))
		node.SetContent([]byte(rec.Content), rec.ModifiedAt)
	default:
		return nil, fmt.Errorf("%w: node %q: unknown type %q", errCorruptSnapshot, rec.Name, rec.Type)
	}
	node.id = id
	node.Touch(rec.ModifiedAt)
	return node, nil
}
