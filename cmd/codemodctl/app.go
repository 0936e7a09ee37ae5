package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codemodctl/internal/bus"
	"codemodctl/internal/casefile"
	"codemodctl/internal/change"
	"codemodctl/internal/config"
	"codemodctl/internal/engine"
	"codemodctl/internal/explorer"
	"codemodctl/internal/fsys"
	"codemodctl/internal/logger"
	"codemodctl/internal/repository"
	"codemodctl/internal/state"
	"codemodctl/internal/workspace"
)

// app holds the components of one invocation. State is loaded on open and
// written back on close.
type app struct {
	cfg   config.Config
	ws    *workspace.Workspace
	log   *logger.Logger
	bus   *bus.Bus
	fs    fsys.FileSystem
	repo  *repository.Repository
	views *explorer.Views
	orch  *engine.Orchestrator
	cases *casefile.Loader
	store *state.Store

	roots map[string]*workspace.Workspace
}

func openApp(dir string) (*app, error) {
	ws, err := workspace.Detect(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ws.Root)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LogMode)

	store, err := state.Open(cfg.StateDir, log)
	if err != nil {
		return nil, err
	}

	b := bus.New()
	fs := fsys.OS()
	a := &app{
		cfg:   cfg,
		ws:    ws,
		log:   log,
		bus:   b,
		fs:    fs,
		repo:  repository.New(b, fs, log),
		views: explorer.NewViews(b),
		orch:  engine.New(b, fs, engine.ExecLauncher{Dir: ws.Root}, log, cfg.EngineOptions()),
		cases: casefile.NewLoader(b, fs, log, casefile.LoaderOptions{Dir: cfg.CaseDataDir, Root: ws.Root}),
		store: store,
		roots: make(map[string]*workspace.Workspace),
	}

	snap, report, err := store.Load()
	if err != nil {
		a.closeComponents()
		return nil, err
	}
	if len(report.Fallbacks) > 0 {
		log.Warn("some persisted state was unreadable and has been reset", "fields", strings.Join(report.Fallbacks, ","))
	}
	state.Apply(snap, a.repo, a.views)
	return a, nil
}

// close persists the state and releases everything.
func (a *app) close() error {
	err := a.store.Save(state.Capture(a.repo, a.views))
	a.closeComponents()
	a.log.Sync()
	return err
}

func (a *app) closeComponents() {
	a.orch.Close()
	a.cases.Close()
	a.views.Close()
	a.repo.Close()
	a.store.Close()
}

// findCase resolves a full case hash or a unique prefix of one.
func (a *app) findCase(ref string) (change.Case, error) {
	var found []change.Case
	for _, c := range a.repo.Cases() {
		if string(c.Hash) == ref {
			return c, nil
		}
		if strings.HasPrefix(string(c.Hash), ref) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return change.Case{}, fmt.Errorf("%w: %s", repository.ErrCaseNotFound, ref)
	case 1:
		return found[0], nil
	}
	return change.Case{}, fmt.Errorf("case prefix %q is ambiguous (%d matches)", ref, len(found))
}

// findJob resolves a full job hash or a unique prefix of one.
func (a *app) findJob(ref string) (change.Job, error) {
	var found []change.Job
	for _, c := range a.repo.Cases() {
		for _, j := range a.repo.JobsByCase(c.Hash) {
			if string(j.Hash) == ref {
				return j, nil
			}
			if strings.HasPrefix(string(j.Hash), ref) {
				found = append(found, j)
			}
		}
	}
	switch len(found) {
	case 0:
		return change.Job{}, fmt.Errorf("%w: %s", repository.ErrJobNotFound, ref)
	case 1:
		return found[0], nil
	}
	return change.Job{}, fmt.Errorf("job prefix %q is ambiguous (%d matches)", ref, len(found))
}

// explore returns the view and tree of a case, with search applied when
// phrase is non-nil.
func (a *app) explore(c change.Case, phrase *string) (*explorer.View, *explorer.Tree) {
	in := explorer.Input{RootPath: a.caseWorkspace(c).Root, Jobs: a.repo.JobsByCase(c.Hash)}
	v, t := a.views.Ensure(c.Hash, in)
	if phrase != nil && *phrase != v.SearchPhrase {
		v.SearchPhrase = *phrase
		in.SearchPhrase = *phrase
		t = explorer.Build(in)
		a.views.Set(c.Hash, v)
	}
	return v, t
}

// caseWorkspace returns the worktree containing the target of c, falling
// back to the invocation's workspace when it cannot be detected.
func (a *app) caseWorkspace(c change.Case) *workspace.Workspace {
	if w, ok := a.roots[c.Path]; ok {
		return w
	}
	w, err := workspace.Detect(c.Path)
	if err != nil {
		a.log.Warn("could not detect the workspace of a case", "case", c.Hash, "path", c.Path, "error", err)
		w = a.ws
	}
	a.roots[c.Path] = w
	return w
}

func (a *app) runDir(c change.CaseHash) string {
	return filepath.Join(a.cfg.StateDir, "runs", string(c))
}

// readOld returns the current content of a job's old path, or "" for jobs
// creating a file.
func (a *app) readOld(j change.Job) (string, error) {
	if j.OldPath == "" {
		return "", nil
	}
	data, err := a.fs.ReadFile(j.OldPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
