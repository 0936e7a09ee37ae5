package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"codemodctl/internal/change"
)

// RecordKind is the verbose discriminant of an engine record.
type RecordKind string

const (
	RecordProgress RecordKind = "progress"
	RecordFinish   RecordKind = "finish"
	RecordRewrite  RecordKind = "rewrite"
	RecordCreate   RecordKind = "create"
	RecordDelete   RecordKind = "delete"
	RecordMove     RecordKind = "move"
	RecordCopy     RecordKind = "copy"
)

// Numeric discriminants of the terse encoding.
const (
	terseFinish   = 2
	terseRewrite  = 3
	terseProgress = 6
	terseDelete   = 7
	terseMove     = 8
	terseCreate   = 9
	terseCopy     = 10
)

var terseKinds = map[int]RecordKind{
	terseFinish:   RecordFinish,
	terseRewrite:  RecordRewrite,
	terseProgress: RecordProgress,
	terseDelete:   RecordDelete,
	terseMove:     RecordMove,
	terseCreate:   RecordCreate,
	terseCopy:     RecordCopy,
}

// ErrInvalidRecord is returned for lines that do not match any record shape.
var ErrInvalidRecord = errors.New("invalid engine record")

// Record is the normalized form of one stdout line. Only the fields of its
// kind are set.
type Record struct {
	Kind RecordKind

	OldPath     string // rewrite
	NewDataPath string // rewrite

	OldFilePath    string // delete, move, copy
	NewFilePath    string // create, move, copy
	NewContentPath string // create

	ProcessedFileNumber int
	TotalFileNumber     int
}

// IsMutation reports whether the record proposes a file change.
func (r Record) IsMutation() bool {
	switch r.Kind {
	case RecordRewrite, RecordCreate, RecordDelete, RecordMove, RecordCopy:
		return true
	}
	return false
}

type wireRecord struct {
	K    *float64 `json:"k"`
	Kind *string  `json:"kind"`

	I *string  `json:"i"`
	O *string  `json:"o"`
	P *float64 `json:"p"`
	T *float64 `json:"t"`

	OldPath             *string  `json:"oldPath"`
	NewDataPath         *string  `json:"newDataPath"`
	OldFilePath         *string  `json:"oldFilePath"`
	NewFilePath         *string  `json:"newFilePath"`
	NewContentPath      *string  `json:"newContentPath"`
	ProcessedFileNumber *float64 `json:"processedFileNumber"`
	TotalFileNumber     *float64 `json:"totalFileNumber"`
}

// DecodeLine parses one engine stdout line in either the terse or the verbose
// encoding.
func DecodeLine(line []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	switch {
	case w.K != nil:
		return decodeTerse(w)
	case w.Kind != nil:
		return decodeVerbose(w)
	}
	return Record{}, fmt.Errorf("%w: no discriminant", ErrInvalidRecord)
}

func decodeTerse(w wireRecord) (Record, error) {
	k := *w.K
	kind, ok := terseKinds[int(k)]
	if !ok || k != math.Trunc(k) {
		return Record{}, fmt.Errorf("%w: unknown kind %v", ErrInvalidRecord, k)
	}

	// Only rewrite and progress use single-letter fields.
	switch kind {
	case RecordRewrite:
		w.OldPath, w.NewDataPath = w.I, w.O
	case RecordProgress:
		w.ProcessedFileNumber, w.TotalFileNumber = w.P, w.T
	}
	return build(kind, w)
}

func decodeVerbose(w wireRecord) (Record, error) {
	kind := RecordKind(*w.Kind)
	switch kind {
	case RecordProgress, RecordFinish, RecordRewrite, RecordCreate, RecordDelete, RecordMove, RecordCopy:
	default:
		return Record{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, kind)
	}
	return build(kind, w)
}

func build(kind RecordKind, w wireRecord) (Record, error) {
	r := Record{Kind: kind}
	missing := func(field string) (Record, error) {
		return Record{}, fmt.Errorf("%w: %s record without %s", ErrInvalidRecord, kind, field)
	}

	switch kind {
	case RecordFinish:
	case RecordProgress:
		if w.ProcessedFileNumber == nil {
			return missing("processedFileNumber")
		}
		if w.TotalFileNumber == nil {
			return missing("totalFileNumber")
		}
		r.ProcessedFileNumber = int(*w.ProcessedFileNumber)
		r.TotalFileNumber = int(*w.TotalFileNumber)
	case RecordRewrite:
		if w.OldPath == nil {
			return missing("oldPath")
		}
		if w.NewDataPath == nil {
			return missing("newDataPath")
		}
		r.OldPath, r.NewDataPath = *w.OldPath, *w.NewDataPath
	case RecordCreate:
		if w.NewFilePath == nil {
			return missing("newFilePath")
		}
		if w.NewContentPath == nil {
			return missing("newContentPath")
		}
		r.NewFilePath, r.NewContentPath = *w.NewFilePath, *w.NewContentPath
	case RecordDelete:
		if w.OldFilePath == nil {
			return missing("oldFilePath")
		}
		r.OldFilePath = *w.OldFilePath
	case RecordMove, RecordCopy:
		if w.OldFilePath == nil {
			return missing("oldFilePath")
		}
		if w.NewFilePath == nil {
			return missing("newFilePath")
		}
		r.OldFilePath, r.NewFilePath = *w.OldFilePath, *w.NewFilePath
	}
	return r, nil
}

type wireExecutionError struct {
	Message *string `json:"message"`
	Path    *string `json:"path"`
}

// DecodeErrorLine parses one engine stderr line.
func DecodeErrorLine(line []byte) (change.ExecutionError, error) {
	var w wireExecutionError
	if err := json.Unmarshal(line, &w); err != nil {
		return change.ExecutionError{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if w.Message == nil {
		return change.ExecutionError{}, fmt.Errorf("%w: error record without message", ErrInvalidRecord)
	}
	e := change.ExecutionError{Message: *w.Message}
	if w.Path != nil {
		e.Path = *w.Path
	}
	return e, nil
}
