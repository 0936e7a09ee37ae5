package casefile

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"

	"lukechampine.com/blake3"

	"codemodctl/internal/util"
)

// ErrWriterState is returned when records are written out of order.
var ErrWriterState = errors.New("case file written out of order")

// Writer writes one case file. WriteCase must come first, then any number
// of WriteJob calls, then Close.
type Writer struct {
	w      io.Writer
	sum    hash.Hash
	wrote  bool
	closed bool
}

// NewWriter starts a case file on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, sum: blake3.New(util.DigestSize, nil)}
}

func (w *Writer) WriteCase(c RecordedCase) error {
	if w.wrote || w.closed {
		return ErrWriterState
	}

	var inner []byte
	var err error
	if inner, err = appendDigest(inner, string(c.Hash)); err != nil {
		return fmt.Errorf("case hash: %w", err)
	}
	if inner, err = appendDigest(inner, c.CodemodHash); err != nil {
		return fmt.Errorf("codemod hash: %w", err)
	}
	inner = binary.BigEndian.AppendUint64(inner, uint64(c.CreatedAt))
	if inner, err = appendString(inner, c.TargetPath); err != nil {
		return fmt.Errorf("target path: %w", err)
	}
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	if inner, err = appendString(inner, string(encoded)); err != nil {
		return fmt.Errorf("arguments: %w", err)
	}

	rec, err := record(caseMarker, inner)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(preamble); err != nil {
		return fmt.Errorf("writing preamble: %w", err)
	}
	w.sum.Write(preamble)
	if err := w.write(rec); err != nil {
		return err
	}
	w.wrote = true
	return nil
}

func (w *Writer) WriteJob(j RecordedJob) error {
	if !w.wrote || w.closed {
		return ErrWriterState
	}
	if len(j.Paths) != pathCount(j.Kind) {
		return fmt.Errorf("%s job needs %d paths, got %d", j.Kind, pathCount(j.Kind), len(j.Paths))
	}

	inner, err := appendDigest(nil, string(j.Hash))
	if err != nil {
		return fmt.Errorf("job hash: %w", err)
	}
	kind := j.Kind.Ordinal()
	if kind == 0 {
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	inner = append(inner, kind)
	for _, p := range j.Paths {
		if inner, err = appendString(inner, p); err != nil {
			return fmt.Errorf("job path: %w", err)
		}
	}

	rec, err := record(jobMarker, inner)
	if err != nil {
		return err
	}
	return w.write(rec)
}

// Close writes the postamble. It does not close the underlying writer.
func (w *Writer) Close() error {
	if !w.wrote || w.closed {
		return ErrWriterState
	}
	w.closed = true
	w.sum.Write(postamble[:])
	out := append(postamble[:], w.sum.Sum(nil)...)
	if _, err := w.w.Write(out); err != nil {
		return fmt.Errorf("writing postamble: %w", err)
	}
	return nil
}

func (w *Writer) write(rec []byte) error {
	if _, err := w.w.Write(rec); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	w.sum.Write(rec)
	return nil
}
