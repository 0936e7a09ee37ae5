package explorer

import (
	"sync"

	"codemodctl/internal/bus"
	"codemodctl/internal/change"
)

// Views keeps one View per case. State of removed cases is dropped.
type Views struct {
	mu        sync.Mutex
	views     map[change.CaseHash]*View
	disposers []func()
}

// NewViews creates a view store subscribed to b.
func NewViews(b *bus.Bus) *Views {
	vs := &Views{views: make(map[change.CaseHash]*View)}
	vs.disposers = []func(){
		bus.Subscribe(b, func(m bus.CasesRemoved) error {
			vs.mu.Lock()
			defer vs.mu.Unlock()
			for _, h := range m.CaseHashes {
				delete(vs.views, h)
			}
			return nil
		}),
		bus.Subscribe(b, func(bus.ClearState) error {
			vs.mu.Lock()
			defer vs.mu.Unlock()
			vs.views = make(map[change.CaseHash]*View)
			return nil
		}),
		// A finished run starts from everything selected.
		bus.Subscribe(b, func(m bus.CodemodSetExecuted) error {
			vs.mu.Lock()
			defer vs.mu.Unlock()
			delete(vs.views, m.Case.Hash)
			return nil
		}),
	}
	return vs
}

// Close unsubscribes the store.
func (vs *Views) Close() {
	for _, d := range vs.disposers {
		d()
	}
	vs.disposers = nil
}

// Get returns a copy of the view of a case.
func (vs *Views) Get(caseHash change.CaseHash) (*View, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.views[caseHash]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Set stores the view of a case.
func (vs *Views) Set(caseHash change.CaseHash, v *View) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.views[caseHash] = v.Clone()
}

// Ensure returns the view of a case, creating the initial view for in when
// none exists. The tree returned is built with the view's search phrase.
func (vs *Views) Ensure(caseHash change.CaseHash, in Input) (*View, *Tree) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if v, ok := vs.views[caseHash]; ok {
		in.SearchPhrase = v.SearchPhrase
		return v.Clone(), Build(in)
	}
	in.SearchPhrase = ""
	t := Build(in)
	v := NewView(t)
	vs.views[caseHash] = v
	return v.Clone(), t
}

// All returns a copy of every stored view.
func (vs *Views) All() map[change.CaseHash]*View {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make(map[change.CaseHash]*View, len(vs.views))
	for h, v := range vs.views {
		out[h] = v.Clone()
	}
	return out
}

// Restore replaces every stored view.
func (vs *Views) Restore(views map[change.CaseHash]*View) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.views = make(map[change.CaseHash]*View, len(views))
	for h, v := range views {
		if v == nil {
			continue
		}
		vs.views[h] = v.Clone()
	}
}
