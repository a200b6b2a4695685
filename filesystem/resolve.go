package filesystem

import (
	"errors"
	"iter"
	"strings"

	"github.com/brettbedarf/simos"
)

const Separator = "/"

// location is a resolved position in the tree: the chain of nodes from root
// (index 0) down to the target. Keeping the whole chain makes ".." a pop
// instead of a stored parent reference.
type location struct {
	stack []*Node
}

func rootLocation(root *Node) location {
	return location{stack: []*Node{root}}
}

// node returns the resolved target
func (l location) node() *Node {
	return l.stack[len(l.stack)-1]
}

// parent returns the directory holding the target; nil for root
func (l location) parent() *Node {
	if len(l.stack) < 2 {
		return nil
	}
	return l.stack[len(l.stack)-2]
}

func (l location) isRoot() bool {
	return len(l.stack) == 1
}

// path returns the absolute path of the target
func (l location) path() string {
	if l.isRoot() {
		return Separator
	}
	var sb strings.Builder
	for _, n := range l.stack[1:] {
		sb.WriteString(Separator)
		sb.WriteString(n.name)
	}
	return sb.String()
}

// encloses reports whether the target of l is other's target or one of its
// ancestors
func (l location) encloses(other location) bool {
	depth := len(l.stack)
	return depth <= len(other.stack) && other.stack[depth-1] == l.node()
}

func (l location) push(n *Node) location {
	stack := make([]*Node, len(l.stack), len(l.stack)+1)
	copy(stack, l.stack)
	return location{stack: append(stack, n)}
}

func (l location) pop() location {
	if l.isRoot() {
		// moving above root is a no-op
		return l
	}
	return location{stack: l.stack[:len(l.stack)-1]}
}

// walk descends from start following p. "." is a no-op and ".." moves to the
// parent, clamped at root. Empty segments (repeated or trailing separators)
// are ignored.
//
// Returns ErrNotFound for a missing segment and ErrNotADirectory when a
// segment other than the last names a file.
func walk(start location, p string) (location, error) {
	cur := start
	for seg := range splitPath(p) {
		if seg == ".." {
			cur = cur.pop()
			continue
		}
		dir := cur.node()
		if !dir.IsDir() {
			return location{}, simos.ErrNotADirectory
		}
		child, ok := dir.GetChild(seg)
		if !ok {
			return location{}, simos.ErrNotFound
		}
		cur = cur.push(child)
	}
	return cur, nil
}

// resolveDir resolves an absolute base path which must name an existing
// directory. Any failure, including base naming a file, is ErrNotFound.
func resolveDir(root *Node, base string) (location, error) {
	loc, err := walk(rootLocation(root), base)
	if err != nil {
		return location{}, simos.ErrNotFound
	}
	if !loc.node().IsDir() {
		return location{}, simos.ErrNotFound
	}
	return loc, nil
}

// resolve resolves p relative to the directory named by base, or from root
// when p is absolute
func resolve(root *Node, base, p string) (location, error) {
	start := rootLocation(root)
	if !isAbs(p) {
		var err error
		if start, err = resolveDir(root, base); err != nil {
			return location{}, err
		}
	}
	return walk(start, p)
}

// splitPath yields the segments of p, dropping empty and "." segments
func splitPath(p string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for seg := range strings.SplitSeq(p, Separator) {
			if seg == "" || seg == "." {
				continue
			}
			if !yield(seg) {
				return
			}
		}
	}
}

func isAbs(p string) bool {
	return strings.HasPrefix(p, Separator)
}

// validateName checks a single path component used to create a node
func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return simos.ErrInvalidName
	case strings.Contains(name, Separator):
		return simos.ErrInvalidName
	case strings.ContainsRune(name, 0):
		return simos.ErrInvalidName
	}
	return nil
}

// asNotFound folds "a file where a directory is expected" into ErrNotFound
func asNotFound(err error) error {
	if errors.Is(err, simos.ErrNotADirectory) {
		return simos.ErrNotFound
	}
	return err
}
