// Package snippet extracts compact before/after code snippets from two
// versions of a file: only the top-level syntax units that contain a changed
// line region survive, and units identical on both sides are dropped.
package snippet

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"codemodctl/internal/util"
)

// DefaultCacheSize is the number of results kept by NewSynthesizer.
const DefaultCacheSize = 256

// Language is a grammar understood by the synthesizer.
type Language string

const (
	TypeScript Language = "typescript"
	TSX        Language = "tsx"
	JavaScript Language = "javascript"
	Python     Language = "python"
	Go         Language = "go"
)

// LanguageFor picks the grammar for a file by extension. Unknown
// extensions are parsed as TypeScript.
func LanguageFor(path string) Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx":
		return TSX
	case ".js", ".jsx", ".mjs", ".cjs":
		return JavaScript
	case ".py":
		return Python
	case ".go":
		return Go
	}
	return TypeScript
}

func (l Language) grammar() *sitter.Language {
	switch l {
	case TSX:
		return tsx.GetLanguage()
	case JavaScript:
		return javascript.GetLanguage()
	case Python:
		return python.GetLanguage()
	case Go:
		return golang.GetLanguage()
	}
	return typescript.GetLanguage()
}

// Snippets is a before/after pair.
type Snippets struct {
	Before string `json:"beforeSnippet"`
	After  string `json:"afterSnippet"`
}

// Synthesizer builds snippets and caches the results by content.
type Synthesizer struct {
	cache *lru.Cache[string, Snippets]
}

// NewSynthesizer creates a synthesizer keeping up to size results.
func NewSynthesizer(size int) (*Synthesizer, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Snippets](size)
	if err != nil {
		return nil, fmt.Errorf("creating snippet cache: %w", err)
	}
	return &Synthesizer{cache: cache}, nil
}

// Build returns the snippets for a change of the file at path.
func (s *Synthesizer) Build(path, before, after string) (Snippets, error) {
	lang := LanguageFor(path)
	key := util.HashHex(string(lang), before, after)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	oldUnits, err := topLevelUnits(lang, before)
	if err != nil {
		return Snippets{}, err
	}
	newUnits, err := topLevelUnits(lang, after)
	if err != nil {
		return Snippets{}, err
	}

	beforeSet := newOrderedStrings()
	afterSet := newOrderedStrings()
	for _, r := range changedRegions(before, after) {
		code := util.TrimLineBreaks(strings.TrimSpace(r.text))
		if util.RemoveSpecialCharacters(code) == "" {
			continue
		}
		if r.removed {
			match(oldUnits, code, beforeSet)
		} else {
			match(newUnits, code, afterSet)
		}
	}

	for _, text := range append([]string(nil), beforeSet.items...) {
		if afterSet.has(text) {
			beforeSet.remove(text)
			afterSet.remove(text)
		}
	}

	out := Snippets{
		Before: util.TrimLineBreaks(strings.Join(beforeSet.items, "")),
		After:  util.TrimLineBreaks(strings.Join(afterSet.items, "")),
	}
	s.cache.Add(key, out)
	return out, nil
}

// match adds every unit containing code. When no unit holds the whole
// region, its lines are matched one by one.
func match(units []string, code string, into *orderedStrings) {
	found := false
	for _, u := range units {
		if strings.Contains(u, code) {
			into.add(u)
			found = true
		}
	}
	if found {
		return
	}
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if util.RemoveSpecialCharacters(line) == "" {
			continue
		}
		for _, u := range units {
			if strings.Contains(u, line) {
				into.add(u)
			}
		}
	}
}

// topLevelUnits returns the full text of every top-level named node except
// comments. A unit's text starts where the previous unit ended, so it
// carries its leading whitespace and comments.
func topLevelUnits(lang Language, content string) ([]string, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang.grammar())

	src := []byte(content)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", lang, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var units []string
	prevEnd := uint32(0)
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		end := child.EndByte()
		units = append(units, string(src[prevEnd:end]))
		prevEnd = end
	}
	return units, nil
}

type orderedStrings struct {
	items []string
	index map[string]bool
}

func newOrderedStrings() *orderedStrings {
	return &orderedStrings{index: make(map[string]bool)}
}

func (o *orderedStrings) add(s string) {
	if o.index[s] {
		return
	}
	o.index[s] = true
	o.items = append(o.items, s)
}

func (o *orderedStrings) has(s string) bool {
	return o.index[s]
}

func (o *orderedStrings) remove(s string) {
	if !o.index[s] {
		return
	}
	delete(o.index, s)
	for i, item := range o.items {
		if item == s {
			o.items = append(o.items[:i], o.items[i+1:]...)
			return
		}
	}
}
