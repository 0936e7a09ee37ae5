package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemodctl/internal/casefile"
	"codemodctl/internal/change"
	"codemodctl/internal/fsys"
	"codemodctl/internal/util"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := executeErr(t, args...)
	require.NoError(t, err, out)
	return out
}

func executeErr(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags clears flag variables left over from a previous invocation.
func resetFlags() {
	treeToggle, treeCollapse, treeReviewed, rejectJobs = nil, nil, nil, nil
	treeSearch, treeFocus = "", ""
	treeNext, treePrev, treeClearFind, jsonOut = false, false, false, false
	acceptAll, acceptForce = false, false
}

func TestRecordedCaseReviewFlow(t *testing.T) {
	ws := t.TempDir()
	caseDir := t.TempDir()
	t.Setenv("CODEMOD_CASE_DIR", caseDir)
	t.Setenv("CODEMOD_STATE_DIR", filepath.Join(t.TempDir(), "state"))
	t.Setenv("CODEMOD_LOG_MODE", "prod")

	a := filepath.Join(ws, "src", "a.ts")
	b := filepath.Join(ws, "src", "b.ts")
	require.NoError(t, os.MkdirAll(filepath.Dir(a), 0755))
	require.NoError(t, os.WriteFile(a, []byte("old a\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("old b\n"), 0644))
	newA := filepath.Join(caseDir, "new-a.ts")
	newB := filepath.Join(caseDir, "new-b.ts")
	require.NoError(t, os.WriteFile(newA, []byte("new a\n"), 0644))
	require.NoError(t, os.WriteFile(newB, []byte("new b\n"), 0644))

	rc := casefile.RecordedCase{
		Hash:        change.CaseHash(util.HashHex("flow")),
		CodemodHash: util.HashHex("codemod"),
		CreatedAt:   1700000000000,
		TargetPath:  ws,
	}
	jobs := []casefile.RecordedJob{
		{Hash: change.JobHash(util.HashHex("a")), Kind: change.RewriteFile, Paths: []string{a, newA}},
		{Hash: change.JobHash(util.HashHex("b")), Kind: change.RewriteFile, Paths: []string{b, newB}},
	}
	require.NoError(t, casefile.Save(fsys.OS(), caseDir, rc, jobs))

	out := execute(t, "load", "-C", ws)
	assert.Contains(t, out, "Loaded 1 recorded cases.")

	out = execute(t, "cases", "-C", ws)
	assert.Contains(t, out, shortHash(string(rc.Hash)))
	assert.Contains(t, out, "(CLI)")

	prefix := shortHash(string(rc.Hash))
	out = execute(t, "tree", "-C", ws, prefix, "--toggle", "src/b.ts")
	assert.Contains(t, out, "[-] ")
	assert.Contains(t, out, "[x] a.ts")
	assert.Contains(t, out, "[ ] b.ts")

	out = execute(t, "accept", "-C", ws, prefix)
	assert.Contains(t, out, "Applied 1 of 1 changes.")

	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "new a\n", string(data))
	data, err = os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "old b\n", string(data))

	// Only the unselected b.ts is left, so nothing above it is selected.
	out = execute(t, "tree", "-C", ws, prefix)
	assert.Contains(t, out, "[ ] b.ts")
	assert.NotContains(t, out, "[-]")
	assert.NotContains(t, out, "[x]")

	out = execute(t, "reject", "-C", ws, prefix)
	assert.Contains(t, out, "Rejected case")

	out = execute(t, "cases", "-C", ws)
	assert.Contains(t, out, "No cases.")
}

func TestTreeIsRootedAtTargetWorktree(t *testing.T) {
	ws := t.TempDir()
	caseDir := t.TempDir()
	t.Setenv("CODEMOD_CASE_DIR", caseDir)
	t.Setenv("CODEMOD_STATE_DIR", filepath.Join(t.TempDir(), "state"))
	t.Setenv("CODEMOD_LOG_MODE", "prod")

	repo := filepath.Join(ws, "repo")
	_, err := git.PlainInit(repo, false)
	require.NoError(t, err)
	target := filepath.Join(repo, "pkg")
	a := filepath.Join(target, "a.ts")
	require.NoError(t, os.MkdirAll(target, 0755))
	require.NoError(t, os.WriteFile(a, []byte("old a\n"), 0644))
	newA := filepath.Join(caseDir, "new-a.ts")
	require.NoError(t, os.WriteFile(newA, []byte("new a\n"), 0644))

	rc := casefile.RecordedCase{
		Hash:        change.CaseHash(util.HashHex("nested")),
		CodemodHash: util.HashHex("codemod"),
		CreatedAt:   1700000000000,
		TargetPath:  target,
	}
	jobs := []casefile.RecordedJob{
		{Hash: change.JobHash(util.HashHex("a")), Kind: change.RewriteFile, Paths: []string{a, newA}},
	}
	require.NoError(t, casefile.Save(fsys.OS(), caseDir, rc, jobs))
	execute(t, "load", "-C", ws)

	out := execute(t, "tree", "-C", ws, "--json", shortHash(string(rc.Hash)))
	var rows []rowJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "repo/pkg", rows[0].Label)
	assert.Equal(t, filepath.Join("pkg", "a.ts"), rows[1].Path)

	// The untracked file blocks accept unless forced.
	_, err = executeErr(t, "accept", "-C", ws, shortHash(string(rc.Hash)))
	assert.Error(t, err)
}

func TestBuildCommandRequiresOneSource(t *testing.T) {
	runCodemod, runSource, runPiranha = "", "", ""
	_, err := buildCommand()
	assert.Error(t, err)

	runCodemod = "next/13/app-router"
	runArgs = []string{"quote=single"}
	cmd, err := buildCommand()
	require.NoError(t, err)
	assert.Equal(t, change.ExecuteCodemod, cmd.Kind)
	assert.Equal(t, util.HashHex("next/13/app-router"), cmd.CodemodHash)
	assert.Equal(t, []change.Argument{{Name: "quote", Value: "single"}}, cmd.Arguments)

	runArgs = []string{"broken"}
	_, err = buildCommand()
	assert.Error(t, err)

	runCodemod, runArgs, runPiranha = "", nil, "/rules"
	runLanguage = ""
	_, err = buildCommand()
	assert.Error(t, err)
	runPiranha = ""
}
