package explorer

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemodctl/internal/bus"
	"codemodctl/internal/change"
)

const caseHash = change.CaseHash("c1")

func makeJob(kind change.JobKind, path string) change.Job {
	j := change.Job{Kind: kind, CodemodName: "mod", CaseHash: caseHash}
	switch kind {
	case change.CreateFile:
		j.NewPath, j.NewContentPath = path, "/tmp"+path
	case change.DeleteFile:
		j.OldPath = path
	default:
		j.OldPath, j.NewPath, j.NewContentPath = path, path, "/tmp"+path
	}
	j.Hash = change.BuildJobHash(j, caseHash)
	return j
}

func labels(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Node.Label
	}
	return out
}

func depths(rows []Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Depth
	}
	return out
}

func mixedTree() *Tree {
	return Build(Input{
		RootPath: "/w",
		Jobs: []change.Job{
			makeJob(change.RewriteFile, "/w/z.ts"),
			makeJob(change.RewriteFile, "/w/src/lib/x/b.ts"),
			makeJob(change.CreateFile, "/w/src/a.ts"),
		},
	})
}

func hashOf(t *testing.T, tree *Tree, label string) NodeHash {
	t.Helper()
	for _, n := range tree.Nodes() {
		if n.Label == label {
			return n.Hash
		}
	}
	t.Fatalf("no node labelled %q", label)
	return ""
}

func TestTwoFileTree(t *testing.T) {
	a := makeJob(change.RewriteFile, "/w/a.ts")
	b := makeJob(change.CreateFile, "/w/b.ts")
	tree := Build(Input{RootPath: "/w", Jobs: []change.Job{a, b}})

	require.Len(t, tree.Root.Children, 2)
	assert.Equal(t, "w", tree.Root.Label)
	assert.Equal(t, RootHash(), tree.Root.Hash)
	assert.Equal(t, FileHash(a.Hash, "a.ts"), tree.Root.Children[0].Hash)
	assert.False(t, tree.Root.Children[0].FileAdded)
	assert.True(t, tree.Root.Children[1].FileAdded)

	view := NewView(tree)
	rows := Flatten(tree, view)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, Checked, r.State)
	}
	assert.Equal(t, 2, rows[0].SelectedCount)
	assert.True(t, rows[1].Focused)
	assert.Equal(t, []change.JobHash{a.Hash, b.Hash}, view.SelectedJobHashes(tree))
}

func TestBuildOrdersDirectoriesFirst(t *testing.T) {
	tree := mixedTree()
	rows := Flatten(tree, NewView(tree))
	assert.Equal(t, []string{"w", "src", "lib/x", "b.ts", "a.ts", "z.ts"}, labels(rows))
	assert.Equal(t, []int{0, 1, 2, 3, 2, 1}, depths(rows))
}

func TestChainCollapseIncludesRoot(t *testing.T) {
	tree := Build(Input{
		RootPath: "/w",
		Jobs: []change.Job{
			makeJob(change.RewriteFile, "/w/src/lib/util/a.ts"),
			makeJob(change.RewriteFile, "/w/src/lib/util/b.ts"),
		},
	})
	assert.Equal(t, "w/src/lib/util", tree.Root.Label)
	assert.Len(t, tree.Root.Children, 2)
}

func TestCollapseIdempotent(t *testing.T) {
	tree := mixedTree()
	before := Flatten(tree, NewView(tree))

	tree.Collapse()
	after := Flatten(tree, NewView(tree))

	assert.Equal(t, labels(before), labels(after))
	assert.Equal(t, depths(before), depths(after))
	for i := range before {
		assert.Equal(t, before[i].Node.Hash, after[i].Node.Hash)
	}
}

func TestSelectionPropagation(t *testing.T) {
	tree := mixedTree()
	view := NewView(tree)
	root, src, lib := RootHash(), hashOf(t, tree, "src"), hashOf(t, tree, "lib/x")
	a, b, z := hashOf(t, tree, "a.ts"), hashOf(t, tree, "b.ts"), hashOf(t, tree, "z.ts")

	require.NoError(t, view.ToggleSelected(tree, b))
	assert.Equal(t, Blank, view.State(tree, lib))
	assert.Equal(t, Indeterminate, view.State(tree, src))
	assert.Equal(t, Indeterminate, view.State(tree, root))

	require.NoError(t, view.ToggleSelected(tree, a))
	assert.Equal(t, Blank, view.State(tree, src))
	assert.Equal(t, Indeterminate, view.State(tree, root))

	require.NoError(t, view.ToggleSelected(tree, z))
	assert.Equal(t, Blank, view.State(tree, root))

	require.NoError(t, view.ToggleSelected(tree, root))
	for _, n := range tree.Nodes() {
		assert.Equal(t, Checked, view.State(tree, n.Hash), n.Label)
	}

	require.NoError(t, view.ToggleSelected(tree, src))
	assert.Equal(t, Blank, view.State(tree, a))
	assert.Equal(t, Blank, view.State(tree, b))
	assert.Equal(t, Indeterminate, view.State(tree, root))
	assert.Equal(t, 1, Flatten(tree, view)[0].SelectedCount)
}

func TestIndeterminateChildKeepsParentIndeterminate(t *testing.T) {
	tree := mixedTree()
	view := NewView(tree)
	root, src := RootHash(), hashOf(t, tree, "src")

	require.NoError(t, view.ToggleSelected(tree, hashOf(t, tree, "z.ts")))
	require.NoError(t, view.ToggleSelected(tree, hashOf(t, tree, "b.ts")))

	assert.Equal(t, Indeterminate, view.State(tree, src))
	assert.Equal(t, Indeterminate, view.State(tree, root))

	// Toggling an indeterminate directory clears its subtree.
	require.NoError(t, view.ToggleSelected(tree, src))
	assert.Equal(t, Blank, view.State(tree, src))
	assert.Equal(t, Blank, view.State(tree, root))
	assert.Empty(t, view.SelectedJobHashes(tree))
}

func TestToggleUnknownNode(t *testing.T) {
	tree := mixedTree()
	view := NewView(tree)
	err := view.ToggleSelected(tree, "nope")
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}

func TestSearchFilter(t *testing.T) {
	tree := Build(Input{
		RootPath:     "/w",
		SearchPhrase: "  Z.TS ",
		Jobs: []change.Job{
			makeJob(change.RewriteFile, "/w/z.ts"),
			makeJob(change.RewriteFile, "/w/src/lib/x/b.ts"),
			makeJob(change.CreateFile, "/w/src/a.ts"),
		},
	})
	rows := Flatten(tree, NewView(tree))
	assert.Equal(t, []string{"w", "z.ts"}, labels(rows))
}

func TestCollapsedRowsOmitted(t *testing.T) {
	tree := mixedTree()
	view := NewView(tree)
	src := hashOf(t, tree, "src")

	require.NoError(t, view.ToggleCollapsed(tree, src))
	rows := Flatten(tree, view)
	assert.Equal(t, []string{"w", "src", "z.ts"}, labels(rows))
	assert.False(t, rows[1].Expanded)
	assert.Equal(t, 2, rows[1].SelectedCount)
	assert.Equal(t, 3, rows[0].SelectedCount)

	require.NoError(t, view.ToggleCollapsed(tree, src))
	assert.Len(t, Flatten(tree, view), 6)
}

func TestFocusSibling(t *testing.T) {
	tree := mixedTree()
	view := NewView(tree)
	a, b, z := hashOf(t, tree, "a.ts"), hashOf(t, tree, "b.ts"), hashOf(t, tree, "z.ts")

	assert.Equal(t, b, view.Focused)
	view.FocusSibling(tree, Next)
	assert.Equal(t, a, view.Focused)
	view.FocusSibling(tree, Next)
	assert.Equal(t, z, view.Focused)
	view.FocusSibling(tree, Next)
	assert.Equal(t, b, view.Focused)
	view.FocusSibling(tree, Prev)
	assert.Equal(t, z, view.Focused)
}

func TestToggleReviewed(t *testing.T) {
	tree := mixedTree()
	view := NewView(tree)
	a := hashOf(t, tree, "a.ts")

	view.ToggleReviewed(a)
	rows := Flatten(tree, view)
	assert.True(t, rows[4].Reviewed)
	view.ToggleReviewed(a)
	assert.False(t, Flatten(tree, view)[4].Reviewed)
}

func TestViewsDropRemovedCases(t *testing.T) {
	b := bus.New()
	views := NewViews(b)
	in := Input{RootPath: "/w", Jobs: []change.Job{makeJob(change.RewriteFile, "/w/a.ts")}}

	view, tree := views.Ensure(caseHash, in)
	require.NoError(t, view.ToggleSelected(tree, tree.Files()[0].Hash))
	views.Set(caseHash, view)

	again, _ := views.Ensure(caseHash, in)
	assert.Equal(t, Blank, again.State(tree, RootHash()))

	require.NoError(t, b.Publish(bus.CasesRemoved{CaseHashes: []change.CaseHash{caseHash}}))
	_, ok := views.Get(caseHash)
	assert.False(t, ok)

	views.Ensure(caseHash, in)
	require.NoError(t, b.Publish(bus.ClearState{}))
	assert.Empty(t, views.All())
}

func TestNodePathsAreRelative(t *testing.T) {
	tree := mixedTree()
	paths := map[string]string{}
	for _, n := range tree.Nodes() {
		paths[n.Label] = n.Path
	}
	assert.Equal(t, "z.ts", paths["z.ts"])
	assert.Equal(t, filepath.Join("src", "lib", "x", "b.ts"), paths["b.ts"])
	assert.Equal(t, filepath.Join("src", "lib", "x"), paths["lib/x"])
}

func TestStateIsDerivedAfterRebuild(t *testing.T) {
	a := makeJob(change.RewriteFile, "/w/d/a.ts")
	b := makeJob(change.RewriteFile, "/w/d/b.ts")
	o := makeJob(change.RewriteFile, "/w/o.ts")

	tree := Build(Input{RootPath: "/w", Jobs: []change.Job{a, b, o}})
	view := NewView(tree)
	require.NoError(t, view.ToggleSelected(tree, FileHash(b.Hash, "b.ts")))
	assert.Equal(t, Indeterminate, view.State(tree, hashOf(t, tree, "d")))

	// a was accepted and is gone; d only holds the unselected b.
	rebuilt := Build(Input{RootPath: "/w", Jobs: []change.Job{b, o}})
	rows := Flatten(rebuilt, view)
	require.Equal(t, []string{"w", "d", "b.ts", "o.ts"}, labels(rows))
	assert.Equal(t, Indeterminate, rows[0].State)
	assert.Equal(t, Blank, rows[1].State)
	assert.Equal(t, 0, rows[1].SelectedCount)
	assert.Equal(t, Blank, rows[2].State)
	assert.Equal(t, Checked, rows[3].State)

	// Toggling the blank directory selects its remaining file.
	require.NoError(t, view.ToggleSelected(rebuilt, hashOf(t, rebuilt, "d")))
	assert.Equal(t, Checked, view.State(rebuilt, RootHash()))
	assert.Equal(t, []change.JobHash{b.Hash, o.Hash}, view.SelectedJobHashes(rebuilt))
}

func TestEnsureRederivesStoredView(t *testing.T) {
	views := NewViews(bus.New())
	a := makeJob(change.RewriteFile, "/w/d/a.ts")
	b := makeJob(change.RewriteFile, "/w/d/b.ts")

	view, tree := views.Ensure(caseHash, Input{RootPath: "/w", Jobs: []change.Job{a, b}})
	require.NoError(t, view.ToggleSelected(tree, FileHash(b.Hash, "b.ts")))
	views.Set(caseHash, view)

	again, rebuilt := views.Ensure(caseHash, Input{RootPath: "/w", Jobs: []change.Job{b}})
	for _, r := range Flatten(rebuilt, again) {
		assert.Equal(t, Blank, r.State, r.Node.Label)
	}
}

func TestPathsOutsideRootKeepTheirParent(t *testing.T) {
	tree := Build(Input{
		RootPath: "/w",
		Jobs: []change.Job{
			makeJob(change.RewriteFile, "/w/a.ts"),
			makeJob(change.RewriteFile, "/w2/x.ts"),
		},
	})

	paths := map[string]string{}
	for _, n := range tree.Files() {
		paths[n.Label] = n.Path
	}
	assert.Equal(t, "a.ts", paths["a.ts"])
	assert.Equal(t, filepath.Join("..", "w2", "x.ts"), paths["x.ts"])
	assert.Equal(t, "w", tree.Root.Label)
	assert.Equal(t, []string{"w", "../w2", "x.ts", "a.ts"}, labels(Flatten(tree, NewView(tree))))
}
