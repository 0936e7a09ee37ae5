package engine

import (
	"fmt"

	"codemodctl/internal/change"
	"codemodctl/internal/fsys"
	"codemodctl/internal/util"
)

// BuildJob turns a mutation record into a job of caseHash. The new content
// is read eagerly from fs, except for deletes.
func BuildJob(fs fsys.FileSystem, rec Record, caseHash change.CaseHash, codemodName string) (change.Job, error) {
	job := change.Job{
		CodemodName: codemodName,
		CreatedAt:   util.NowMs(),
		CaseHash:    caseHash,
	}

	switch rec.Kind {
	case RecordCreate:
		job.Kind = change.CreateFile
		job.NewPath = rec.NewFilePath
		job.NewContentPath = rec.NewContentPath
	case RecordRewrite:
		job.Kind = change.RewriteFile
		job.OldPath = rec.OldPath
		job.NewPath = rec.OldPath
		job.NewContentPath = rec.NewDataPath
	case RecordDelete:
		job.Kind = change.DeleteFile
		job.OldPath = rec.OldFilePath
	case RecordMove:
		job.Kind = change.MoveFile
		job.OldPath = rec.OldFilePath
		job.NewPath = rec.NewFilePath
		job.NewContentPath = rec.OldFilePath
	case RecordCopy:
		job.Kind = change.CopyFile
		job.OldPath = rec.OldFilePath
		job.NewPath = rec.NewFilePath
		job.NewContentPath = rec.OldFilePath
	default:
		return change.Job{}, fmt.Errorf("%s record is not a file change", rec.Kind)
	}

	if job.NewContentPath != "" {
		data, err := fs.ReadFile(job.NewContentPath)
		if err != nil {
			return change.Job{}, fmt.Errorf("reading new content: %w", err)
		}
		content := string(data)
		job.OriginalNewContent = &content
	}

	job.Hash = change.BuildJobHash(job, caseHash)
	return job, nil
}
