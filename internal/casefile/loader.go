package casefile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codemodctl/internal/bus"
	"codemodctl/internal/change"
	"codemodctl/internal/fsys"
	"codemodctl/internal/logger"
)

// FileName is the name of the case file inside its case directory.
const FileName = "case.data"

// Path returns where the file of caseHash lives under dir.
func Path(dir string, caseHash change.CaseHash) string {
	return filepath.Join(dir, "cases", string(caseHash), FileName)
}

// Save writes a case file for c and jobs under dir.
func Save(fs fsys.FileSystem, dir string, c RecordedCase, jobs []RecordedJob) error {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteCase(c); err != nil {
		return err
	}
	for _, j := range jobs {
		if err := w.WriteJob(j); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	path := Path(dir, c.Hash)
	if err := fs.CreateDirectory(filepath.Dir(path)); err != nil {
		return err
	}
	return fs.WriteFile(path, buf.Bytes())
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Dir holds the cases/ directory.
	Dir string
	// Root is the workspace root; recorded runs targeting other paths are skipped.
	Root string
	// Names maps codemod hashes to display names.
	Names map[string]string
}

// Loader turns recorded runs into cases on the bus.
type Loader struct {
	bus  *bus.Bus
	fs   fsys.FileSystem
	log  *logger.Logger
	opts LoaderOptions

	disposers []func()
}

// NewLoader creates a loader and subscribes it to b.
func NewLoader(b *bus.Bus, fs fsys.FileSystem, log *logger.Logger, opts LoaderOptions) *Loader {
	l := &Loader{bus: b, fs: fs, log: log.With("component", "casefile"), opts: opts}
	l.disposers = []func(){
		bus.Subscribe(b, func(bus.LoadRecordedCases) error {
			_, err := l.LoadAll()
			return err
		}),
		bus.Subscribe(b, func(m bus.LoadRecordedCase) error {
			_, err := l.Load(m.CaseHash)
			return err
		}),
	}
	return l
}

func (l *Loader) Close() {
	for _, d := range l.disposers {
		d()
	}
	l.disposers = nil
}

// LoadAll loads every recorded run. Unreadable files are logged and
// skipped. It returns the number of cases published.
func (l *Loader) LoadAll() (int, error) {
	dir := filepath.Join(l.opts.Dir, "cases")
	entries, err := l.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	loaded := 0
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		ok, err := l.Load(change.CaseHash(e.Name))
		if err != nil {
			l.log.Warn("skipping recorded case", "case", e.Name, "error", err)
			continue
		}
		if ok {
			loaded++
		}
	}
	return loaded, nil
}

// Load publishes the recorded run of caseHash. It reports false when the
// run targets a path outside the root.
func (l *Loader) Load(caseHash change.CaseHash) (bool, error) {
	data, err := l.fs.ReadFile(Path(l.opts.Dir, caseHash))
	if err != nil {
		return false, err
	}
	rc, rjobs, err := Read(bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("reading case %s: %w", caseHash, err)
	}

	if !l.underRoot(rc.TargetPath) {
		l.log.Info("recorded case does not belong to the workspace", "case", rc.Hash, "target", rc.TargetPath)
		return false, nil
	}

	name := rc.CodemodHash
	if n, ok := l.opts.Names[rc.CodemodHash]; ok {
		name = n
	}
	kase := change.Case{
		Hash:        rc.Hash,
		CodemodName: name + " (CLI)",
		CodemodHash: rc.CodemodHash,
		CreatedAt:   rc.CreatedAt,
		Path:        rc.TargetPath,
	}
	if err := kase.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	jobs := make([]change.Job, 0, len(rjobs))
	for _, rj := range rjobs {
		job, err := rj.Job(kase)
		if err != nil {
			return false, err
		}
		jobs = append(jobs, job)
	}

	if err := l.bus.Publish(bus.UpsertCase{Case: kase, Jobs: jobs}); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Loader) underRoot(path string) bool {
	root := filepath.Clean(l.opts.Root)
	if l.opts.Root == "" {
		return true
	}
	path = filepath.Clean(path)
	return path == root || strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}
