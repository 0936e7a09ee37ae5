// Package explorer derives the change explorer tree of a case: a collapsed,
// searchable hierarchy of the files its jobs touch, together with the
// per-case view state (selection, collapse, review, focus).
//
// Trees are always rebuilt from jobs; nothing patches a tree in place
// except Collapse, which Build already applies.
package explorer

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"codemodctl/internal/change"
	"codemodctl/internal/util"
)

// NodeKind is the kind of an explorer node.
type NodeKind string

const (
	KindRoot      NodeKind = "ROOT"
	KindDirectory NodeKind = "DIRECTORY"
	KindFile      NodeKind = "FILE"
)

// NodeHash identifies an explorer node.
type NodeHash string

// Node is one element of the tree.
type Node struct {
	Hash  NodeHash
	Kind  NodeKind
	Label string
	// Path is relative to the tree root.
	Path string

	JobHash   change.JobHash
	FileAdded bool

	Children []*Node
}

// Tree is a derived explorer tree.
type Tree struct {
	Root *Node

	byHash map[NodeHash]*Node
	parent map[NodeHash]*Node
	order  []*Node
}

// Input is what a tree is derived from.
type Input struct {
	RootPath     string
	Jobs         []change.Job
	SearchPhrase string
}

// RootHash is the hash of every tree's root node.
func RootHash() NodeHash {
	return NodeHash(util.HashHex(string(KindRoot)))
}

// DirectoryHash is the hash of a directory node.
func DirectoryHash(dirPath, name string) NodeHash {
	return NodeHash(util.HashHex(string(KindDirectory), dirPath, name))
}

// FileHash is the hash of the file node of a job.
func FileHash(jobHash change.JobHash, name string) NodeHash {
	return NodeHash(util.HashHex(string(KindFile), string(jobHash), name))
}

// NormalizeSearchPhrase trims and lowercases a search phrase.
func NormalizeSearchPhrase(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Build derives the tree for in.
func Build(in Input) *Tree {
	root := &Node{
		Hash:  RootHash(),
		Kind:  KindRoot,
		Label: filepath.Base(in.RootPath),
	}
	nodes := map[NodeHash]*Node{root.Hash: root}
	member := map[NodeHash]map[NodeHash]bool{root.Hash: {}}

	jobs := append([]change.Job(nil), in.Jobs...)
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].AffectedPath() < jobs[j].AffectedPath()
	})

	matched := searchMatches(jobs, NormalizeSearchPhrase(in.SearchPhrase))

	sep := string(filepath.Separator)
	for i, job := range jobs {
		if matched != nil && !matched[i] {
			continue
		}
		fsPath := job.AffectedPath()
		if fsPath == "" {
			continue
		}
		rel := relativePath(in.RootPath, fsPath)

		var names []string
		for _, name := range strings.Split(rel, sep) {
			if name != "" {
				names = append(names, name)
			}
		}

		parent := root
		for j, name := range names {
			var node *Node
			if j == len(names)-1 {
				node = &Node{
					Hash:      FileHash(job.Hash, name),
					Kind:      KindFile,
					Label:     name,
					Path:      strings.Join(names, sep),
					JobHash:   job.Hash,
					FileAdded: job.AddsNewFile(),
				}
			} else {
				dirPath := strings.Join(names[:j+1], sep)
				node = &Node{
					Hash:  DirectoryHash(dirPath, name),
					Kind:  KindDirectory,
					Label: name,
					Path:  dirPath,
				}
			}
			if existing, ok := nodes[node.Hash]; ok {
				node = existing
			} else {
				nodes[node.Hash] = node
				member[node.Hash] = map[NodeHash]bool{}
			}
			if !member[parent.Hash][node.Hash] {
				member[parent.Hash][node.Hash] = true
				parent.Children = append(parent.Children, node)
			}
			parent = node
		}
	}

	t := &Tree{Root: root}
	t.Collapse()
	return t
}

// relativePath returns path relative to root. Paths outside root keep their
// ".." segments so they stay visible under the root.
func relativePath(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// searchMatches returns which jobs survive the phrase, or nil when every job does.
func searchMatches(jobs []change.Job, phrase string) map[int]bool {
	if phrase == "" {
		return nil
	}
	paths := make([]string, len(jobs))
	for i, job := range jobs {
		paths[i] = strings.ToLower(job.AffectedPath())
	}
	matched := make(map[int]bool)
	for _, m := range fuzzy.Find(phrase, paths) {
		matched[m.Index] = true
	}
	return matched
}

// Collapse merges every directory chain where a node has exactly one child
// and that child is a directory, then orders directories before files. It is
// idempotent.
func (t *Tree) Collapse() {
	var walk func(n *Node)
	walk = func(n *Node) {
		for len(n.Children) == 1 && n.Children[0].Kind == KindDirectory {
			child := n.Children[0]
			n.Label = n.Label + "/" + child.Label
			if n.Kind == KindDirectory {
				n.Path = child.Path
			}
			n.Children = child.Children
		}
		sort.SliceStable(n.Children, func(i, j int) bool {
			return n.Children[i].Kind != KindFile && n.Children[j].Kind == KindFile
		})
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	t.reindex()
}

func (t *Tree) reindex() {
	t.byHash = make(map[NodeHash]*Node)
	t.parent = make(map[NodeHash]*Node)
	t.order = t.order[:0]

	var walk func(n, parent *Node)
	walk = func(n, parent *Node) {
		t.byHash[n.Hash] = n
		if parent != nil {
			t.parent[n.Hash] = parent
		}
		t.order = append(t.order, n)
		for _, c := range n.Children {
			walk(c, n)
		}
	}
	walk(t.Root, nil)
}

// Node returns the node with the given hash.
func (t *Tree) Node(hash NodeHash) (*Node, bool) {
	n, ok := t.byHash[hash]
	return n, ok
}

// Parent returns the parent of the node with the given hash.
func (t *Tree) Parent(hash NodeHash) (*Node, bool) {
	p, ok := t.parent[hash]
	return p, ok
}

// Nodes returns every node in pre-order.
func (t *Tree) Nodes() []*Node {
	return append([]*Node(nil), t.order...)
}

// Files returns the file nodes in pre-order.
func (t *Tree) Files() []*Node {
	var out []*Node
	for _, n := range t.order {
		if n.Kind == KindFile {
			out = append(out, n)
		}
	}
	return out
}

// Subtree returns n and all of its descendants in pre-order.
func Subtree(n *Node) []*Node {
	out := []*Node{n}
	for _, c := range n.Children {
		out = append(out, Subtree(c)...)
	}
	return out
}
