package explorer

import (
	"errors"
	"fmt"

	"codemodctl/internal/change"
)

// ErrNodeNotFound is returned when a view operation names a node the tree
// does not contain.
var ErrNodeNotFound = errors.New("explorer node not found")

// CheckState is the tri-state selection of a node.
type CheckState int

const (
	Blank CheckState = iota
	Checked
	Indeterminate
)

func (s CheckState) String() string {
	switch s {
	case Checked:
		return "checked"
	case Indeterminate:
		return "indeterminate"
	}
	return "blank"
}

// Direction selects the sibling FocusSibling moves to.
type Direction int

const (
	Next Direction = iota
	Prev
)

// View is the user-controlled state of one case's tree. Only file nodes are
// ever recorded in Selected; the state of directories and the root is derived
// from the tree it is applied to.
type View struct {
	Selected     map[NodeHash]bool `json:"selected"`
	Collapsed    map[NodeHash]bool `json:"collapsed"`
	Reviewed     map[NodeHash]bool `json:"reviewed"`
	Focused      NodeHash          `json:"focused,omitempty"`
	SearchPhrase string            `json:"searchPhrase,omitempty"`
}

func emptyView() *View {
	return &View{
		Selected:  map[NodeHash]bool{},
		Collapsed: map[NodeHash]bool{},
		Reviewed:  map[NodeHash]bool{},
	}
}

// NewView selects every file of t and focuses the first one.
func NewView(t *Tree) *View {
	v := emptyView()
	files := t.Files()
	for _, n := range files {
		v.Selected[n.Hash] = true
	}
	if len(files) > 0 {
		v.Focused = files[0].Hash
	}
	return v
}

// Clone returns a deep copy of v.
func (v *View) Clone() *View {
	c := emptyView()
	for k, on := range v.Selected {
		if on {
			c.Selected[k] = true
		}
	}
	for k, on := range v.Collapsed {
		if on {
			c.Collapsed[k] = true
		}
	}
	for k, on := range v.Reviewed {
		if on {
			c.Reviewed[k] = true
		}
	}
	c.Focused = v.Focused
	c.SearchPhrase = v.SearchPhrase
	return c
}

// State returns the tri-state of a node of t.
func (v *View) State(t *Tree, hash NodeHash) CheckState {
	return v.states(t)[hash]
}

// ToggleSelected flips the selection of a node. Toggling a directory selects
// every file beneath it when none is selected and clears them otherwise.
func (v *View) ToggleSelected(t *Tree, hash NodeHash) error {
	node, ok := t.Node(hash)
	if !ok {
		return fmt.Errorf("selecting %s: %w", hash, ErrNodeNotFound)
	}

	if node.Kind == KindFile {
		v.set(v.Selected, hash, !v.Selected[hash])
		return nil
	}
	on := v.State(t, hash) == Blank
	for _, n := range Subtree(node) {
		if n.Kind == KindFile {
			v.set(v.Selected, n.Hash, on)
		}
	}
	return nil
}

// states derives every node's state bottom-up: a directory is checked when
// all children are checked, blank when all are blank (or it has none), and
// indeterminate otherwise.
func (v *View) states(t *Tree) map[NodeHash]CheckState {
	out := make(map[NodeHash]CheckState, len(t.order))
	var walk func(n *Node) CheckState
	walk = func(n *Node) CheckState {
		var s CheckState
		if n.Kind == KindFile {
			if v.Selected[n.Hash] {
				s = Checked
			}
		} else {
			all, none := len(n.Children) > 0, true
			for _, c := range n.Children {
				cs := walk(c)
				if cs != Checked {
					all = false
				}
				if cs != Blank {
					none = false
				}
			}
			switch {
			case all:
				s = Checked
			case none:
				s = Blank
			default:
				s = Indeterminate
			}
		}
		out[n.Hash] = s
		return s
	}
	walk(t.Root)
	return out
}

// ToggleCollapsed flips whether a directory's children are shown.
func (v *View) ToggleCollapsed(t *Tree, hash NodeHash) error {
	node, ok := t.Node(hash)
	if !ok {
		return fmt.Errorf("collapsing %s: %w", hash, ErrNodeNotFound)
	}
	if node.Kind == KindFile {
		return nil
	}
	v.set(v.Collapsed, hash, !v.Collapsed[hash])
	return nil
}

// ToggleReviewed flips the reviewed flag of a file node.
func (v *View) ToggleReviewed(hash NodeHash) {
	v.set(v.Reviewed, hash, !v.Reviewed[hash])
}

// Focus focuses a node.
func (v *View) Focus(t *Tree, hash NodeHash) error {
	if _, ok := t.Node(hash); !ok {
		return fmt.Errorf("focusing %s: %w", hash, ErrNodeNotFound)
	}
	v.Focused = hash
	return nil
}

// FocusSibling moves focus to the next or previous visible file, wrapping
// around. Nothing happens if the focused node is not visible.
func (v *View) FocusSibling(t *Tree, dir Direction) {
	rows := Flatten(t, v)
	index := -1
	for i, r := range rows {
		if r.Node.Hash == v.Focused {
			index = i
			break
		}
	}
	if index == -1 {
		return
	}

	candidates := append(append([]Row(nil), rows[index+1:]...), rows[:index]...)
	if dir == Prev {
		for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		}
	}
	for _, r := range candidates {
		if r.Node.Kind == KindFile {
			v.Focused = r.Node.Hash
			return
		}
	}
}

// SelectedJobHashes returns the jobs of the selected file nodes in tree order.
func (v *View) SelectedJobHashes(t *Tree) []change.JobHash {
	var out []change.JobHash
	for _, n := range t.Files() {
		if v.Selected[n.Hash] {
			out = append(out, n.JobHash)
		}
	}
	return out
}

func (v *View) set(m map[NodeHash]bool, hash NodeHash, on bool) {
	if on {
		m[hash] = true
		return
	}
	delete(m, hash)
}

// Row is one line of the flattened tree.
type Row struct {
	Node          *Node
	Depth         int
	Expanded      bool
	Reviewed      bool
	Focused       bool
	Collapsible   bool
	SelectedCount int
	State         CheckState
}

// Flatten lists the visible nodes of t in display order. Children of
// collapsed nodes are left out.
func Flatten(t *Tree, v *View) []Row {
	states := v.states(t)
	var rows []Row
	var walk func(n *Node, depth int) int
	walk = func(n *Node, depth int) int {
		collapsed := n.Kind != KindFile && v.Collapsed[n.Hash]
		rows = append(rows, Row{
			Node:        n,
			Depth:       depth,
			Expanded:    !collapsed,
			Reviewed:    n.Kind == KindFile && v.Reviewed[n.Hash],
			Focused:     v.Focused == n.Hash,
			Collapsible: n.Kind != KindFile,
			State:       states[n.Hash],
		})
		at := len(rows) - 1

		if n.Kind == KindFile {
			if v.Selected[n.Hash] {
				return 1
			}
			return 0
		}
		count := 0
		if collapsed {
			count = countSelected(n, v)
		} else {
			for _, c := range n.Children {
				count += walk(c, depth+1)
			}
		}
		rows[at].SelectedCount = count
		return count
	}
	walk(t.Root, 0)
	return rows
}

func countSelected(n *Node, v *View) int {
	count := 0
	for _, d := range Subtree(n) {
		if d.Kind == KindFile && v.Selected[d.Hash] {
			count++
		}
	}
	return count
}
