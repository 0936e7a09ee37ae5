package repository

import (
	"codemodctl/internal/change"
	"codemodctl/internal/hashpair"
)

// Snapshot is the flat, identifier-keyed form of the repository contents.
type Snapshot struct {
	Cases           map[change.CaseHash]change.Case
	Jobs            map[change.JobHash]change.Job
	CaseJobKeys     []string
	ExecutionErrors map[change.CaseHash][]change.ExecutionError
}

// Snapshot copies the current contents.
func (r *Repository) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Cases:           make(map[change.CaseHash]change.Case, len(r.cases)),
		Jobs:            make(map[change.JobHash]change.Job, len(r.jobs)),
		CaseJobKeys:     r.relation.Keys(),
		ExecutionErrors: make(map[change.CaseHash][]change.ExecutionError, len(r.execErrors)),
	}
	for h, c := range r.cases {
		s.Cases[h] = c
	}
	for h, j := range r.jobs {
		s.Jobs[h] = j
	}
	for h, errs := range r.execErrors {
		s.ExecutionErrors[h] = append([]change.ExecutionError(nil), errs...)
	}
	return s
}

// Restore replaces the contents with s. Entities that fail validation and
// relation keys that reference unknown cases or jobs are skipped; the number
// of skipped entries is returned.
func (r *Repository) Restore(s Snapshot) int {
	skipped := 0
	cases := make(map[change.CaseHash]change.Case, len(s.Cases))
	for h, c := range s.Cases {
		if c.Hash != h || c.Validate() != nil {
			skipped++
			continue
		}
		cases[h] = c
	}
	jobs := make(map[change.JobHash]change.Job, len(s.Jobs))
	for h, j := range s.Jobs {
		if j.Hash != h || j.Validate() != nil {
			skipped++
			continue
		}
		jobs[h] = j
	}

	relation := hashpair.New[change.CaseHash, change.JobHash]()
	for _, key := range s.CaseJobKeys {
		if len(key) != 2*change.HashLen {
			skipped++
			continue
		}
		c, j := change.CaseHash(key[:change.HashLen]), change.JobHash(key[change.HashLen:])
		_, okCase := cases[c]
		_, okJob := jobs[j]
		if !okCase || !okJob {
			skipped++
			continue
		}
		relation.Upsert(c, j)
	}

	execErrors := make(map[change.CaseHash][]change.ExecutionError)
	for h, errs := range s.ExecutionErrors {
		if _, ok := cases[h]; ok {
			execErrors[h] = errs
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases = cases
	r.jobs = jobs
	r.relation = relation
	r.execErrors = execErrors
	if skipped > 0 {
		r.log.Warn("skipped invalid persisted entries", "count", skipped)
	}
	return skipped
}
