package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemodctl/internal/bus"
	"codemodctl/internal/change"
	"codemodctl/internal/explorer"
	"codemodctl/internal/fsys"
	"codemodctl/internal/logger"
	"codemodctl/internal/repository"
)

type world struct {
	bus   *bus.Bus
	repo  *repository.Repository
	views *explorer.Views
	kase  change.Case
	jobs  []change.Job
}

func newWorld(t *testing.T) *world {
	t.Helper()
	b := bus.New()
	w := &world{
		bus:   b,
		repo:  repository.New(b, fsys.Memory(), logger.Nop()),
		views: explorer.NewViews(b),
		kase:  change.Case{Hash: change.NewCaseHash(), CodemodName: "mod", CreatedAt: 7, Path: "/w"},
	}
	for _, p := range []string{"/w/a.ts", "/w/src/b.ts"} {
		content := "new " + p
		j := change.Job{
			Kind:               change.RewriteFile,
			OldPath:            p,
			NewPath:            p,
			NewContentPath:     "/tmp" + p,
			OriginalNewContent: &content,
			CodemodName:        "mod",
			CaseHash:           w.kase.Hash,
		}
		j.Hash = change.BuildJobHash(j, w.kase.Hash)
		w.jobs = append(w.jobs, j)
	}
	return w
}

func (w *world) populate(t *testing.T) {
	t.Helper()
	require.NoError(t, w.bus.Publish(bus.UpsertCase{Case: w.kase, Jobs: w.jobs}))
	require.NoError(t, w.bus.Publish(bus.CodemodSetExecuted{
		Case:            w.kase,
		ExecutionErrors: []change.ExecutionError{{Message: "boom", Path: "/w/c.ts"}},
	}))
	v, tree := w.views.Ensure(w.kase.Hash, explorer.Input{RootPath: "/w", Jobs: w.repo.JobsByCase(w.kase.Hash)})
	v.ToggleReviewed(tree.Files()[0].Hash)
	w.views.Set(w.kase.Hash, v)
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := openStore(t)
	src := newWorld(t)
	src.populate(t)
	require.NoError(t, s.Save(Capture(src.repo, src.views)))

	snap, report, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, report.Fallbacks)
	assert.Zero(t, report.Skipped)

	dst := newWorld(t)
	assert.Zero(t, Apply(snap, dst.repo, dst.views))

	got, ok := dst.repo.Case(src.kase.Hash)
	require.True(t, ok)
	assert.Equal(t, src.kase, got)
	assert.Equal(t, src.repo.JobsByCase(src.kase.Hash), dst.repo.JobsByCase(src.kase.Hash))
	assert.Equal(t, src.repo.ExecutionErrors(src.kase.Hash), dst.repo.ExecutionErrors(src.kase.Hash))

	want, _ := src.views.Get(src.kase.Hash)
	view, ok := dst.views.Get(src.kase.Hash)
	require.True(t, ok)
	assert.Equal(t, want, view)
}

func TestLoadEmpty(t *testing.T) {
	snap, report, err := openStore(t).Load()
	require.NoError(t, err)
	assert.Empty(t, report.Fallbacks)
	assert.Empty(t, snap.Repository.Cases)
	assert.Empty(t, snap.Views)
}

func TestCorruptFieldFallsBack(t *testing.T) {
	s := openStore(t)
	w := newWorld(t)
	w.populate(t)
	require.NoError(t, s.Save(Capture(w.repo, w.views)))

	_, err := s.db.Exec(`UPDATE state SET data = ? WHERE field = ?`, []byte("garbage"), FieldViews)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE state SET data = ? WHERE field = ?`, s.enc.EncodeAll([]byte(`[1, 2]`), nil), FieldExecutionErrors)
	require.NoError(t, err)

	snap, report, err := s.Load()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{FieldViews, FieldExecutionErrors}, report.Fallbacks)
	assert.Len(t, snap.Repository.Cases, 1)
	assert.Len(t, snap.Repository.Jobs, 2)
	assert.Empty(t, snap.Views)
	assert.Empty(t, snap.Repository.ExecutionErrors)
}

func TestBadEntriesAreSkipped(t *testing.T) {
	s := openStore(t)
	w := newWorld(t)
	w.populate(t)
	require.NoError(t, s.Save(Capture(w.repo, w.views)))

	broken := `{"` + string(w.jobs[0].Hash) + `": {"hash": 12}}`
	_, err := s.db.Exec(`UPDATE state SET data = ? WHERE field = ?`, s.enc.EncodeAll([]byte(broken), nil), FieldJobs)
	require.NoError(t, err)

	snap, report, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, report.Fallbacks)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, snap.Repository.Jobs)

	dst := newWorld(t)
	skipped := Apply(snap, dst.repo, dst.views)
	assert.Equal(t, 2, skipped)
	_, ok := dst.repo.Case(w.kase.Hash)
	assert.True(t, ok)
	assert.Empty(t, dst.repo.JobsByCase(w.kase.Hash))
}

func TestApplyDropsOrphanViews(t *testing.T) {
	w := newWorld(t)
	snap := Snapshot{Views: map[change.CaseHash]*explorer.View{"orphan": {}}}
	assert.Equal(t, 1, Apply(snap, w.repo, w.views))
	assert.Empty(t, w.views.All())
}

func TestClear(t *testing.T) {
	s := openStore(t)
	w := newWorld(t)
	w.populate(t)
	require.NoError(t, s.Save(Capture(w.repo, w.views)))
	require.NoError(t, s.Clear())

	snap, _, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Repository.Cases)
}
