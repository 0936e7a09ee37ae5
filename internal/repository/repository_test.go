package repository

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemodctl/internal/bus"
	"codemodctl/internal/change"
	"codemodctl/internal/fsys"
	"codemodctl/internal/logger"
)

type fixture struct {
	bus     *bus.Bus
	fs      *fsys.Billy
	repo    *Repository
	kase    change.Case
	removed []change.CaseHash
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:  bus.New(),
		fs:   fsys.Memory(),
		kase: change.Case{Hash: change.NewCaseHash(), CodemodName: "mod", CreatedAt: 1, Path: "/w"},
	}
	f.repo = New(f.bus, f.fs, logger.Nop())
	bus.Subscribe(f.bus, func(m bus.CasesRemoved) error {
		f.removed = append(f.removed, m.CaseHashes...)
		return nil
	})
	return f
}

func (f *fixture) job(kind change.JobKind, oldPath, newPath, content string) change.Job {
	j := change.Job{
		Kind:        kind,
		OldPath:     oldPath,
		NewPath:     newPath,
		CodemodName: "mod",
		CaseHash:    f.kase.Hash,
	}
	if content != "" {
		j.NewContentPath = "/tmp/out/" + string(kind) + newPath + oldPath
		c := content
		j.OriginalNewContent = &c
	}
	j.Hash = change.BuildJobHash(j, f.kase.Hash)
	return j
}

func (f *fixture) upsert(t *testing.T, jobs ...change.Job) {
	t.Helper()
	require.NoError(t, f.bus.Publish(bus.UpsertCase{Case: f.kase, Jobs: jobs}))
}

func TestUpsertIgnoresEmptyAndInvalid(t *testing.T) {
	f := newFixture(t)
	f.upsert(t)
	assert.Empty(t, f.repo.Cases())

	bad := f.job(change.DeleteFile, "/w/a.ts", "", "")
	bad.NewContentPath = "/tmp/x"
	good := f.job(change.RewriteFile, "/w/b.ts", "/w/b.ts", "b2")
	f.upsert(t, bad, good)

	jobs := f.repo.JobsByCase(f.kase.Hash)
	require.Len(t, jobs, 1)
	assert.Equal(t, good.Hash, jobs[0].Hash)
}

func TestUpsertIsIdempotent(t *testing.T) {
	f := newFixture(t)
	j := f.job(change.RewriteFile, "/w/a.ts", "/w/a.ts", "a2")
	f.upsert(t, j)
	f.upsert(t, j)
	assert.Len(t, f.repo.JobsByCase(f.kase.Hash), 1)
}

func TestAcceptCaseMaterializesAndRemovesCase(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.fs.WriteFile("/w/a.ts", []byte("a1")))
	require.NoError(t, f.fs.WriteFile("/w/old.ts", []byte("moved")))
	require.NoError(t, f.fs.WriteFile("/w/gone.ts", []byte("x")))

	f.upsert(t,
		f.job(change.RewriteFile, "/w/a.ts", "/w/a.ts", "a2"),
		f.job(change.CreateFile, "", "/w/new/b.ts", "b"),
		f.job(change.DeleteFile, "/w/gone.ts", "", ""),
		f.job(change.MoveFile, "/w/old.ts", "/w/moved/old.ts", ""),
	)

	require.NoError(t, f.bus.Publish(bus.AcceptCase{CaseHash: f.kase.Hash}))

	read := func(p string) string {
		data, err := f.fs.ReadFile(p)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "a2", read("/w/a.ts"))
	assert.Equal(t, "b", read("/w/new/b.ts"))
	assert.Equal(t, "moved", read("/w/moved/old.ts"))
	_, err := f.fs.Stat("/w/gone.ts")
	assert.Error(t, err)
	_, err = f.fs.Stat("/w/old.ts")
	assert.Error(t, err)

	_, ok := f.repo.Case(f.kase.Hash)
	assert.False(t, ok)
	assert.Equal(t, []change.CaseHash{f.kase.Hash}, f.removed)
	assert.Empty(t, f.repo.Snapshot().CaseJobKeys)
}

func TestAcceptUnknownCase(t *testing.T) {
	f := newFixture(t)
	err := f.bus.Publish(bus.AcceptCase{CaseHash: change.NewCaseHash()})
	assert.True(t, errors.Is(err, ErrCaseNotFound))

	err = f.bus.Publish(bus.AcceptJobs{JobHashes: []change.JobHash{"nope"}})
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestAcceptSubsetKeepsCase(t *testing.T) {
	f := newFixture(t)
	a := f.job(change.RewriteFile, "/w/a.ts", "/w/a.ts", "a2")
	b := f.job(change.RewriteFile, "/w/b.ts", "/w/b.ts", "b2")
	f.upsert(t, a, b)

	require.NoError(t, f.bus.Publish(bus.AcceptJobs{JobHashes: []change.JobHash{a.Hash}}))

	_, ok := f.repo.Case(f.kase.Hash)
	assert.True(t, ok)
	jobs := f.repo.JobsByCase(f.kase.Hash)
	require.Len(t, jobs, 1)
	assert.Equal(t, b.Hash, jobs[0].Hash)
	assert.Empty(t, f.removed)

	require.NoError(t, f.bus.Publish(bus.RejectJobs{JobHashes: []change.JobHash{b.Hash}}))
	_, ok = f.repo.Case(f.kase.Hash)
	assert.False(t, ok)
}

func TestAcceptPartialFailure(t *testing.T) {
	f := newFixture(t)
	ok := f.job(change.RewriteFile, "/w/a.ts", "/w/a.ts", "a2")
	broken := f.job(change.CopyFile, "/w/missing.ts", "/w/copy.ts", "")
	f.upsert(t, ok, broken)

	var accepted []change.Job
	bus.Subscribe(f.bus, func(m bus.JobsAccepted) error {
		accepted = append(accepted, m.DeletedJobs...)
		return nil
	})

	err := f.bus.Publish(bus.AcceptCase{CaseHash: f.kase.Hash})
	require.Error(t, err)

	require.Len(t, accepted, 1)
	assert.Equal(t, ok.Hash, accepted[0].Hash)
	data, readErr := f.fs.ReadFile("/w/a.ts")
	require.NoError(t, readErr)
	assert.Equal(t, "a2", string(data))

	rest := f.repo.JobsByCase(f.kase.Hash)
	require.Len(t, rest, 1)
	assert.Equal(t, broken.Hash, rest[0].Hash)
}

func TestRejectCaseCleansContentFiles(t *testing.T) {
	f := newFixture(t)
	rewrite := f.job(change.RewriteFile, "/w/a.ts", "/w/a.ts", "a2")
	move := f.job(change.MoveFile, "/w/m.ts", "/w/n.ts", "")
	move.NewContentPath = "/w/m.ts"
	move.Hash = change.BuildJobHash(move, f.kase.Hash)
	require.NoError(t, f.fs.WriteFile(rewrite.NewContentPath, []byte("a2")))
	require.NoError(t, f.fs.WriteFile("/w/m.ts", []byte("m")))
	f.upsert(t, rewrite, move)

	var rejected []change.Job
	bus.Subscribe(f.bus, func(m bus.JobsRejected) error {
		rejected = m.DeletedJobs
		return nil
	})

	require.NoError(t, f.bus.Publish(bus.RejectCase{CaseHash: f.kase.Hash}))

	assert.Len(t, rejected, 2)
	_, err := f.fs.Stat(rewrite.NewContentPath)
	assert.Error(t, err)
	_, err = f.fs.Stat("/w/m.ts")
	assert.NoError(t, err)
	assert.Empty(t, f.repo.Cases())
	assert.Empty(t, f.repo.Snapshot().Jobs)
	assert.Empty(t, f.repo.Snapshot().CaseJobKeys)
}

func TestEditJobContent(t *testing.T) {
	f := newFixture(t)
	j := f.job(change.RewriteFile, "/w/a.ts", "/w/a.ts", "a2")
	f.upsert(t, j)

	require.NoError(t, f.bus.Publish(bus.EditJobContent{JobHash: j.Hash, Content: "edited"}))
	got, ok := f.repo.Job(j.Hash)
	require.True(t, ok)
	assert.Equal(t, "edited", *got.OriginalNewContent)
	assert.Equal(t, j.Hash, got.Hash)

	err := f.bus.Publish(bus.EditJobContent{JobHash: "missing", Content: "x"})
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestExecutionErrorsAndClear(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, f.job(change.RewriteFile, "/w/a.ts", "/w/a.ts", "a2"))
	require.NoError(t, f.bus.Publish(bus.CodemodSetExecuted{
		Case:            f.kase,
		ExecutionErrors: []change.ExecutionError{{Message: "parse failed", Path: "/w/c.ts"}},
	}))
	assert.Len(t, f.repo.ExecutionErrors(f.kase.Hash), 1)

	require.NoError(t, f.bus.Publish(bus.ClearState{}))
	assert.Empty(t, f.repo.Cases())
	assert.Empty(t, f.repo.ExecutionErrors(f.kase.Hash))
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	j := f.job(change.RewriteFile, "/w/a.ts", "/w/a.ts", "a2")
	f.upsert(t, j)
	snap := f.repo.Snapshot()

	snap.Jobs["broken"] = change.Job{Hash: "broken", Kind: change.DeleteFile}
	snap.CaseJobKeys = append(snap.CaseJobKeys, "short")

	other := New(bus.New(), fsys.Memory(), logger.Nop())
	skipped := other.Restore(snap)
	assert.Equal(t, 2, skipped)
	jobs := other.JobsByCase(f.kase.Hash)
	require.Len(t, jobs, 1)
	assert.Equal(t, j.Hash, jobs[0].Hash)
}
