// Package casefile reads and writes recorded runs: binary case.data files
// left behind by command-line codemod runs, one case and its jobs per file.
package casefile

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"codemodctl/internal/change"
	"codemodctl/internal/util"
)

// File layout:
// [8 bytes: preamble AA BB CC DD 01 00 00 00]
// [case record]
// [job record]*
// [4 bytes: postamble DD CC BB AA][20 bytes: digest of every byte before it]
//
// A record is a 4-byte marker, the big-endian u16 length of its inner data,
// the 20-byte digest of the inner data, then the inner data itself.
// Strings are a big-endian u16 byte length followed by UTF-8 bytes.

var (
	preamble    = []byte{0xaa, 0xbb, 0xcc, 0xdd, 0x01, 0x00, 0x00, 0x00}
	caseMarker  = [4]byte{0xa1, 0xb1, 0xc1, 0xd1}
	jobMarker   = [4]byte{0xa2, 0xb2, 0xc2, 0xd2}
	postamble   = [4]byte{0xdd, 0xcc, 0xbb, 0xaa}
	headerBytes = 4 + 2 + util.DigestSize
)

// MaxStringBytes is the longest string a record can carry.
const MaxStringBytes = 16*1024 - 1

// ErrCorrupt is returned for files that do not follow the layout or whose
// digests do not match.
var ErrCorrupt = errors.New("corrupt case file")

// RecordedCase is the case record of a file.
type RecordedCase struct {
	Hash        change.CaseHash
	CodemodHash string
	CreatedAt   int64
	TargetPath  string
	Arguments   map[string]any
}

// RecordedJob is a job record. Paths holds the kind's locations in order:
//
//	createFile          path, data
//	rewriteFile         path, new data
//	moveFile            old path, new path
//	moveAndRewriteFile  old path, new path, new data
//	deleteFile          path
//	copyFile            source path, target path
type RecordedJob struct {
	Hash  change.JobHash
	Kind  change.JobKind
	Paths []string
}

func pathCount(k change.JobKind) int {
	switch k {
	case change.DeleteFile:
		return 1
	case change.MoveAndRewriteFile:
		return 3
	}
	return 2
}

// Job converts r into a job of c.
func (r RecordedJob) Job(c change.Case) (change.Job, error) {
	if !r.Kind.Valid() || len(r.Paths) != pathCount(r.Kind) {
		return change.Job{}, fmt.Errorf("%w: %s job with %d paths", ErrCorrupt, r.Kind, len(r.Paths))
	}
	job := change.Job{
		Hash:        r.Hash,
		Kind:        r.Kind,
		CodemodName: c.CodemodName,
		CreatedAt:   c.CreatedAt,
		CaseHash:    c.Hash,
	}
	p := r.Paths
	switch r.Kind {
	case change.CreateFile:
		job.NewPath, job.NewContentPath = p[0], p[1]
	case change.RewriteFile:
		job.OldPath, job.NewPath, job.NewContentPath = p[0], p[0], p[1]
	case change.MoveFile, change.CopyFile:
		job.OldPath, job.NewPath, job.NewContentPath = p[0], p[1], p[0]
	case change.MoveAndRewriteFile:
		job.OldPath, job.NewPath, job.NewContentPath = p[0], p[1], p[2]
	case change.DeleteFile:
		job.OldPath = p[0]
	}
	return job, nil
}

// FromJob is the inverse of RecordedJob.Job.
func FromJob(j change.Job) RecordedJob {
	r := RecordedJob{Hash: j.Hash, Kind: j.Kind}
	switch j.Kind {
	case change.CreateFile:
		r.Paths = []string{j.NewPath, j.NewContentPath}
	case change.RewriteFile:
		r.Paths = []string{j.OldPath, j.NewContentPath}
	case change.MoveFile, change.CopyFile:
		r.Paths = []string{j.OldPath, j.NewPath}
	case change.MoveAndRewriteFile:
		r.Paths = []string{j.OldPath, j.NewPath, j.NewContentPath}
	case change.DeleteFile:
		r.Paths = []string{j.OldPath}
	}
	return r
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > MaxStringBytes {
		return nil, fmt.Errorf("string of %d bytes exceeds %d", len(s), MaxStringBytes)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

func appendDigest(buf []byte, hexDigest string) ([]byte, error) {
	raw, err := hex.DecodeString(hexDigest)
	if err != nil || len(raw) != util.DigestSize {
		return nil, fmt.Errorf("digest %q is not %d hex-encoded bytes", hexDigest, util.DigestSize)
	}
	return append(buf, raw...), nil
}

// record wraps inner data with its marker, length and digest.
func record(marker [4]byte, inner []byte) ([]byte, error) {
	if len(inner) > 0xffff {
		return nil, fmt.Errorf("record of %d bytes is too large", len(inner))
	}
	out := make([]byte, 0, headerBytes+len(inner))
	out = append(out, marker[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(inner)))
	out = append(out, util.Digest(inner)...)
	return append(out, inner...), nil
}

// cursor reads the inner data of a record.
type cursor struct {
	data []byte
	at   int
}

func (c *cursor) take(n int) ([]byte, error) {
	if c.at+n > len(c.data) {
		return nil, fmt.Errorf("%w: record truncated", ErrCorrupt)
	}
	b := c.data[c.at : c.at+n]
	c.at += n
	return b, nil
}

func (c *cursor) digest() (string, error) {
	b, err := c.take(util.DigestSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (c *cursor) string() (string, error) {
	n, err := c.take(2)
	if err != nil {
		return "", err
	}
	b, err := c.take(int(binary.BigEndian.Uint16(n)))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
