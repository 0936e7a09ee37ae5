package repository

import (
	"path/filepath"

	"codemodctl/internal/change"
	"codemodctl/internal/fsys"
)

// apply materializes one job on the file system.
func (r *Repository) apply(job change.Job) error {
	switch job.Kind {
	case change.DeleteFile:
		return r.fs.Delete(job.OldPath, fsys.DeleteOptions{})
	}

	content, err := r.content(job)
	if err != nil {
		return err
	}

	switch job.Kind {
	case change.RewriteFile:
		return r.fs.WriteFile(job.OldPath, content)
	case change.CreateFile, change.CopyFile:
		return r.write(job.NewPath, content)
	case change.MoveFile, change.MoveAndRewriteFile:
		if err := r.write(job.NewPath, content); err != nil {
			return err
		}
		return r.fs.Delete(job.OldPath, fsys.DeleteOptions{})
	}
	return change.ErrInvalidJob
}

func (r *Repository) write(path string, content []byte) error {
	if err := r.fs.CreateDirectory(filepath.Dir(path)); err != nil {
		return err
	}
	return r.fs.WriteFile(path, content)
}

// content returns the edited content when present, otherwise the bytes of
// the job's content source. Move and copy jobs without a content path read
// their old location.
func (r *Repository) content(job change.Job) ([]byte, error) {
	if job.OriginalNewContent != nil {
		return []byte(*job.OriginalNewContent), nil
	}
	src := job.NewContentPath
	if src == "" {
		src = job.OldPath
	}
	return r.fs.ReadFile(src)
}

// ownsContentFile reports whether the job's content path is an engine output
// file that should be removed when the job is discarded.
func ownsContentFile(kind change.JobKind) bool {
	switch kind {
	case change.RewriteFile, change.CreateFile, change.MoveAndRewriteFile:
		return true
	}
	return false
}
