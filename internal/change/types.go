// Package change provides the core entities produced by a codemod run.
package change

import (
	"errors"
	"fmt"

	"codemodctl/internal/util"
)

// ErrInvalidJob is returned when a job's populated fields do not match its kind.
var ErrInvalidJob = errors.New("invalid job")

// CaseHash identifies a Case.
type CaseHash string

// JobHash identifies a Job.
type JobHash string

// HashLen is the length of the hex form of case and job hashes.
const HashLen = util.DigestSize * 2

// JobKind represents the kind of file change a job proposes.
type JobKind string

const (
	RewriteFile        JobKind = "rewriteFile"
	CreateFile         JobKind = "createFile"
	DeleteFile         JobKind = "deleteFile"
	MoveFile           JobKind = "moveFile"
	MoveAndRewriteFile JobKind = "moveAndRewriteFile"
	CopyFile           JobKind = "copyFile"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case RewriteFile, CreateFile, DeleteFile, MoveFile, MoveAndRewriteFile, CopyFile:
		return true
	}
	return false
}

// Ordinal is the stable numeric form of the kind used by recorded-run files.
func (k JobKind) Ordinal() uint8 {
	switch k {
	case RewriteFile:
		return 1
	case CreateFile:
		return 2
	case DeleteFile:
		return 3
	case MoveFile:
		return 4
	case MoveAndRewriteFile:
		return 5
	case CopyFile:
		return 6
	}
	return 0
}

// KindFromOrdinal is the inverse of Ordinal.
func KindFromOrdinal(n uint8) (JobKind, bool) {
	for _, k := range []JobKind{RewriteFile, CreateFile, DeleteFile, MoveFile, MoveAndRewriteFile, CopyFile} {
		if k.Ordinal() == n {
			return k, true
		}
	}
	return "", false
}

// Case represents one codemod execution run.
type Case struct {
	Hash        CaseHash `json:"hash"`
	CodemodName string   `json:"codemodName"`
	CodemodHash string   `json:"codemodHash,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
	Path        string   `json:"path"`
}

// Validate checks the fields every stored case must carry.
func (c Case) Validate() error {
	if len(c.Hash) != HashLen {
		return fmt.Errorf("case hash %q has length %d", c.Hash, len(c.Hash))
	}
	if c.Path == "" {
		return fmt.Errorf("case %s has no path", c.Hash)
	}
	return nil
}

// Job represents one proposed change to one file.
type Job struct {
	Hash               JobHash  `json:"hash"`
	Kind               JobKind  `json:"kind"`
	OldPath            string   `json:"oldPath,omitempty"`
	NewPath            string   `json:"newPath,omitempty"`
	NewContentPath     string   `json:"newContentPath,omitempty"`
	OriginalNewContent *string  `json:"originalNewContent,omitempty"`
	CodemodName        string   `json:"codemodName"`
	CreatedAt          int64    `json:"createdAt"`
	CaseHash           CaseHash `json:"caseHash"`
}

// Validate enforces which location fields the job's kind populates.
func (j Job) Validate() error {
	has := func(s string) bool { return s != "" }
	var ok bool
	switch j.Kind {
	case RewriteFile, MoveAndRewriteFile:
		ok = has(j.OldPath) && has(j.NewPath) && has(j.NewContentPath)
	case CreateFile:
		ok = !has(j.OldPath) && has(j.NewPath) && has(j.NewContentPath)
	case DeleteFile:
		ok = has(j.OldPath) && !has(j.NewPath) && !has(j.NewContentPath)
	case MoveFile, CopyFile:
		ok = has(j.OldPath) && has(j.NewPath)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: %s job %s has mismatched locations", ErrInvalidJob, j.Kind, j.Hash)
	}
	if len(j.Hash) != HashLen {
		return fmt.Errorf("%w: hash %q", ErrInvalidJob, j.Hash)
	}
	return nil
}

// AddsNewFile reports whether accepting the job makes a file appear at NewPath.
func (j Job) AddsNewFile() bool {
	switch j.Kind {
	case CreateFile, MoveFile, MoveAndRewriteFile, CopyFile:
		return true
	}
	return false
}

// AffectedPath is the path the job is displayed under.
func (j Job) AffectedPath() string {
	if j.AddsNewFile() {
		return j.NewPath
	}
	return j.OldPath
}

// ExecutionError is a structural error reported by the engine on stderr.
type ExecutionError struct {
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// BuildJobHash computes the deterministic identifier of a job. The creation
// time and content are not part of the identity.
func BuildJobHash(j Job, caseHash CaseHash) JobHash {
	return JobHash(util.HashHex(
		string(caseHash),
		string(j.Kind),
		j.OldPath,
		j.NewPath,
		j.NewContentPath,
		j.CodemodName,
	))
}

// NewCaseHash returns a fresh random case identifier.
func NewCaseHash() CaseHash {
	return CaseHash(util.RandomHashHex())
}
