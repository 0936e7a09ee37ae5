package casefile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"lukechampine.com/blake3"

	"codemodctl/internal/change"
	"codemodctl/internal/util"
)

// Read parses a whole case file from r.
func Read(r io.Reader) (RecordedCase, []RecordedJob, error) {
	br := bufio.NewReader(r)

	head := make([]byte, len(preamble))
	if err := readFull(br, head); err != nil {
		return RecordedCase{}, nil, err
	}
	if !bytes.Equal(head, preamble) {
		return RecordedCase{}, nil, fmt.Errorf("%w: bad preamble", ErrCorrupt)
	}

	sum := blake3.New(util.DigestSize, nil)
	sum.Write(head)

	marker, inner, raw, err := readRecord(br)
	if err != nil {
		return RecordedCase{}, nil, err
	}
	if marker != caseMarker {
		return RecordedCase{}, nil, fmt.Errorf("%w: expected a case record", ErrCorrupt)
	}
	sum.Write(raw)
	kase, err := decodeCase(inner)
	if err != nil {
		return RecordedCase{}, nil, err
	}

	var jobs []RecordedJob
	for {
		var m [4]byte
		if err := readFull(br, m[:]); err != nil {
			return RecordedCase{}, nil, err
		}
		if m == postamble {
			sum.Write(m[:])
			want := make([]byte, util.DigestSize)
			if err := readFull(br, want); err != nil {
				return RecordedCase{}, nil, err
			}
			if !bytes.Equal(want, sum.Sum(nil)) {
				return RecordedCase{}, nil, fmt.Errorf("%w: file digest mismatch", ErrCorrupt)
			}
			return kase, jobs, nil
		}
		if m != jobMarker {
			return RecordedCase{}, nil, fmt.Errorf("%w: unexpected marker %x", ErrCorrupt, m)
		}
		inner, raw, err := readBody(br, m)
		if err != nil {
			return RecordedCase{}, nil, err
		}
		sum.Write(raw)
		job, err := decodeJob(inner)
		if err != nil {
			return RecordedCase{}, nil, err
		}
		jobs = append(jobs, job)
	}
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: unexpected end of file", ErrCorrupt)
		}
		return fmt.Errorf("reading case file: %w", err)
	}
	return nil
}

func readRecord(r io.Reader) ([4]byte, []byte, []byte, error) {
	var m [4]byte
	if err := readFull(r, m[:]); err != nil {
		return m, nil, nil, err
	}
	inner, raw, err := readBody(r, m)
	return m, inner, raw, err
}

// readBody reads the rest of a record after its marker. raw is the whole
// record including the marker.
func readBody(r io.Reader, m [4]byte) ([]byte, []byte, error) {
	head := make([]byte, 2+util.DigestSize)
	if err := readFull(r, head); err != nil {
		return nil, nil, err
	}
	inner := make([]byte, binary.BigEndian.Uint16(head[:2]))
	if err := readFull(r, inner); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(head[2:], util.Digest(inner)) {
		return nil, nil, fmt.Errorf("%w: record digest mismatch", ErrCorrupt)
	}
	raw := make([]byte, 0, headerBytes+len(inner))
	raw = append(raw, m[:]...)
	raw = append(raw, head...)
	return inner, append(raw, inner...), nil
}

func decodeCase(inner []byte) (RecordedCase, error) {
	c := cursor{data: inner}
	var kase RecordedCase

	hash, err := c.digest()
	if err != nil {
		return kase, err
	}
	kase.Hash = change.CaseHash(hash)
	if kase.CodemodHash, err = c.digest(); err != nil {
		return kase, err
	}
	created, err := c.take(8)
	if err != nil {
		return kase, err
	}
	kase.CreatedAt = int64(binary.BigEndian.Uint64(created))
	if kase.TargetPath, err = c.string(); err != nil {
		return kase, err
	}
	args, err := c.string()
	if err != nil {
		return kase, err
	}
	if err := json.Unmarshal([]byte(args), &kase.Arguments); err != nil {
		return kase, fmt.Errorf("%w: arguments: %v", ErrCorrupt, err)
	}
	return kase, nil
}

func decodeJob(inner []byte) (RecordedJob, error) {
	c := cursor{data: inner}
	var job RecordedJob

	hash, err := c.digest()
	if err != nil {
		return job, err
	}
	job.Hash = change.JobHash(hash)
	kind, err := c.take(1)
	if err != nil {
		return job, err
	}
	k, ok := change.KindFromOrdinal(kind[0])
	if !ok {
		return job, fmt.Errorf("%w: unknown job kind %d", ErrCorrupt, kind[0])
	}
	job.Kind = k
	for i := 0; i < pathCount(k); i++ {
		p, err := c.string()
		if err != nil {
			return job, err
		}
		job.Paths = append(job.Paths, p)
	}
	return job, nil
}
