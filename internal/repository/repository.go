// Package repository owns the canonical cases, jobs and the relation between
// them. It reacts to bus messages and republishes follow-up messages; it is
// the only writer of entity state.
package repository

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"codemodctl/internal/bus"
	"codemodctl/internal/change"
	"codemodctl/internal/fsys"
	"codemodctl/internal/hashpair"
	"codemodctl/internal/logger"
)

var (
	// ErrCaseNotFound means a caller referenced a case the repository does not hold.
	ErrCaseNotFound = errors.New("case not found")
	// ErrJobNotFound means a caller referenced a job the repository does not hold.
	ErrJobNotFound = errors.New("job not found")
)

// Repository keeps cases and jobs in memory.
type Repository struct {
	bus *bus.Bus
	fs  fsys.FileSystem
	log *logger.Logger

	mu         sync.Mutex
	cases      map[change.CaseHash]change.Case
	jobs       map[change.JobHash]change.Job
	relation   *hashpair.Index[change.CaseHash, change.JobHash]
	execErrors map[change.CaseHash][]change.ExecutionError

	disposers []func()
}

// New creates a repository and subscribes it to b.
func New(b *bus.Bus, fs fsys.FileSystem, log *logger.Logger) *Repository {
	r := &Repository{
		bus:        b,
		fs:         fs,
		log:        log.With("component", "repository"),
		cases:      make(map[change.CaseHash]change.Case),
		jobs:       make(map[change.JobHash]change.Job),
		relation:   hashpair.New[change.CaseHash, change.JobHash](),
		execErrors: make(map[change.CaseHash][]change.ExecutionError),
	}

	r.disposers = []func(){
		bus.Subscribe(b, r.onUpsertCase),
		bus.Subscribe(b, r.onUpsertJobs),
		bus.Subscribe(b, r.onAcceptCase),
		bus.Subscribe(b, r.onAcceptJobs),
		bus.Subscribe(b, r.onRejectCase),
		bus.Subscribe(b, r.onRejectJobs),
		bus.Subscribe(b, func(m bus.JobsAccepted) error { return r.onJobsResolved(m.DeletedJobs) }),
		bus.Subscribe(b, func(m bus.JobsRejected) error { return r.onJobsResolved(m.DeletedJobs) }),
		bus.Subscribe(b, r.onEditJobContent),
		bus.Subscribe(b, r.onClearState),
		bus.Subscribe(b, r.onCodemodSetExecuted),
	}
	return r
}

// Close unsubscribes the repository from the bus.
func (r *Repository) Close() {
	for _, d := range r.disposers {
		d()
	}
	r.disposers = nil
}

func (r *Repository) onUpsertCase(m bus.UpsertCase) error {
	if len(m.Jobs) == 0 {
		return nil
	}
	if err := m.Case.Validate(); err != nil {
		r.log.Warn("ignoring invalid case", "error", err)
		return nil
	}

	valid := make([]change.Job, 0, len(m.Jobs))
	for _, job := range m.Jobs {
		if err := job.Validate(); err != nil {
			r.log.Warn("dropping invalid job", "case", m.Case.Hash, "error", err)
			continue
		}
		valid = append(valid, job)
	}
	if len(valid) == 0 {
		return nil
	}

	r.mu.Lock()
	r.cases[m.Case.Hash] = m.Case
	for _, job := range valid {
		r.relation.Upsert(m.Case.Hash, job.Hash)
	}
	r.mu.Unlock()

	return r.bus.Publish(bus.UpsertJobs{Jobs: valid})
}

func (r *Repository) onUpsertJobs(m bus.UpsertJobs) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range m.Jobs {
		if err := job.Validate(); err != nil {
			r.log.Warn("dropping invalid job", "error", err)
			continue
		}
		r.jobs[job.Hash] = job
	}
	return nil
}

func (r *Repository) onAcceptCase(m bus.AcceptCase) error {
	r.mu.Lock()
	if _, ok := r.cases[m.CaseHash]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("accepting %s: %w", m.CaseHash, ErrCaseNotFound)
	}
	// Data is removed once JobsAccepted comes back, not here.
	hashes := r.relation.RightsByLeft(m.CaseHash)
	r.mu.Unlock()

	return r.bus.Publish(bus.AcceptJobs{JobHashes: hashes})
}

func (r *Repository) onAcceptJobs(m bus.AcceptJobs) error {
	jobs, err := r.lookupJobs(m.JobHashes)
	if err != nil {
		return fmt.Errorf("accepting jobs: %w", err)
	}

	applied := make([]change.Job, 0, len(jobs))
	var applyErr error
	for _, job := range jobs {
		if err := r.apply(job); err != nil {
			applyErr = fmt.Errorf("applying %s job for %s: %w", job.Kind, job.AffectedPath(), err)
			break
		}
		applied = append(applied, job)
	}

	// Jobs written before a failure stay applied and are retired.
	r.removeJobs(applied)
	if len(applied) > 0 {
		if err := r.bus.Publish(bus.JobsAccepted{DeletedJobs: applied}); err != nil {
			return errors.Join(applyErr, err)
		}
	}
	return applyErr
}

func (r *Repository) onRejectCase(m bus.RejectCase) error {
	r.mu.Lock()
	if _, ok := r.cases[m.CaseHash]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("rejecting %s: %w", m.CaseHash, ErrCaseNotFound)
	}
	hashes := r.relation.RightsByLeft(m.CaseHash)
	delete(r.cases, m.CaseHash)
	delete(r.execErrors, m.CaseHash)
	r.mu.Unlock()

	if err := r.bus.Publish(bus.CasesRemoved{CaseHashes: []change.CaseHash{m.CaseHash}}); err != nil {
		return err
	}
	return r.bus.Publish(bus.RejectJobs{JobHashes: hashes})
}

func (r *Repository) onRejectJobs(m bus.RejectJobs) error {
	jobs, err := r.lookupJobs(m.JobHashes)
	if err != nil {
		return fmt.Errorf("rejecting jobs: %w", err)
	}
	r.removeJobs(jobs)

	for _, job := range jobs {
		if !ownsContentFile(job.Kind) {
			continue
		}
		if err := r.fs.Delete(job.NewContentPath, fsys.DeleteOptions{}); err != nil {
			r.log.Warn("could not remove rejected content", "job", job.Hash, "path", job.NewContentPath, "error", err)
		}
	}

	if len(jobs) == 0 {
		return nil
	}
	return r.bus.Publish(bus.JobsRejected{DeletedJobs: jobs})
}

// onJobsResolved retires the relation entries of deleted jobs and removes
// every case whose remaining relation they exhaust.
func (r *Repository) onJobsResolved(deleted []change.Job) error {
	r.mu.Lock()
	sizes := make(map[change.CaseHash]int)
	counts := make(map[change.CaseHash]int)
	var order []change.CaseHash
	for _, job := range deleted {
		for _, c := range r.relation.LeftsByRight(job.Hash) {
			if _, seen := sizes[c]; !seen {
				sizes[c] = r.relation.CountByLeft(c)
				order = append(order, c)
			}
		}
	}
	for _, job := range deleted {
		for _, c := range order {
			if r.relation.Delete(c, job.Hash) {
				counts[c]++
			}
		}
	}

	var removed []change.CaseHash
	for _, c := range order {
		if sizes[c] > counts[c] {
			continue
		}
		if _, ok := r.cases[c]; ok {
			delete(r.cases, c)
			delete(r.execErrors, c)
			removed = append(removed, c)
		}
	}
	r.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	return r.bus.Publish(bus.CasesRemoved{CaseHashes: removed})
}

func (r *Repository) onEditJobContent(m bus.EditJobContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[m.JobHash]
	if !ok {
		return fmt.Errorf("editing %s: %w", m.JobHash, ErrJobNotFound)
	}
	if job.Kind == change.DeleteFile {
		return fmt.Errorf("editing %s: delete jobs carry no content", m.JobHash)
	}
	content := m.Content
	job.OriginalNewContent = &content
	r.jobs[m.JobHash] = job
	return nil
}

func (r *Repository) onClearState(bus.ClearState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cases = make(map[change.CaseHash]change.Case)
	r.jobs = make(map[change.JobHash]change.Job)
	r.relation = hashpair.New[change.CaseHash, change.JobHash]()
	r.execErrors = make(map[change.CaseHash][]change.ExecutionError)
	return nil
}

func (r *Repository) onCodemodSetExecuted(m bus.CodemodSetExecuted) error {
	if len(m.ExecutionErrors) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execErrors[m.Case.Hash] = append([]change.ExecutionError(nil), m.ExecutionErrors...)
	return nil
}

func (r *Repository) lookupJobs(hashes []change.JobHash) ([]change.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]change.Job, 0, len(hashes))
	for _, h := range hashes {
		job, ok := r.jobs[h]
		if !ok {
			return nil, fmt.Errorf("%s: %w", h, ErrJobNotFound)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *Repository) removeJobs(jobs []change.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range jobs {
		delete(r.jobs, job.Hash)
	}
}

// Case returns the case with the given hash.
func (r *Repository) Case(hash change.CaseHash) (change.Case, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[hash]
	return c, ok
}

// Cases returns every case, newest first.
func (r *Repository) Cases() []change.Case {
	r.mu.Lock()
	out := make([]change.Case, 0, len(r.cases))
	for _, c := range r.cases {
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

// Job returns the job with the given hash.
func (r *Repository) Job(hash change.JobHash) (change.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[hash]
	return j, ok
}

// JobsByCase returns the known jobs of a case sorted by affected path.
func (r *Repository) JobsByCase(hash change.CaseHash) []change.Job {
	r.mu.Lock()
	var out []change.Job
	for _, h := range r.relation.RightsByLeft(hash) {
		if job, ok := r.jobs[h]; ok {
			out = append(out, job)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AffectedPath() < out[j].AffectedPath()
	})
	return out
}

// ExecutionErrors returns the structural errors recorded for a case.
func (r *Repository) ExecutionErrors(hash change.CaseHash) []change.ExecutionError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]change.ExecutionError(nil), r.execErrors[hash]...)
}
