package bus

import "codemodctl/internal/change"

// Kind enumerates every message shape the bus carries.
type Kind uint8

const (
	KindUpsertCase Kind = iota + 1
	KindUpsertJobs
	KindRejectCase
	KindRejectJobs
	KindJobsRejected
	KindAcceptCase
	KindAcceptJobs
	KindJobsAccepted
	KindCasesRemoved
	KindEditJobContent
	KindClearState
	KindExecuteCodemodSet
	KindCodemodSetExecuted
	KindExecutionFailed
	KindShowProgress
	KindExecutionQueueChange
	KindLoadRecordedCases
	KindLoadRecordedCase
)

var kindNames = map[Kind]string{
	KindUpsertCase:           "upsertCase",
	KindUpsertJobs:           "upsertJobs",
	KindRejectCase:           "rejectCase",
	KindRejectJobs:           "rejectJobs",
	KindJobsRejected:         "jobsRejected",
	KindAcceptCase:           "acceptCase",
	KindAcceptJobs:           "acceptJobs",
	KindJobsAccepted:         "jobsAccepted",
	KindCasesRemoved:         "casesRemoved",
	KindEditJobContent:       "editJobContent",
	KindClearState:           "clearState",
	KindExecuteCodemodSet:    "executeCodemodSet",
	KindCodemodSetExecuted:   "codemodSetExecuted",
	KindExecutionFailed:      "executionFailed",
	KindShowProgress:         "showProgress",
	KindExecutionQueueChange: "executionQueueChange",
	KindLoadRecordedCases:    "loadRecordedCases",
	KindLoadRecordedCase:     "loadRecordedCase",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Message is implemented only by the message types declared in this package.
type Message interface {
	Kind() Kind
	message()
}

// UpsertCase adds a case and extends it with jobs.
type UpsertCase struct {
	Case change.Case  `json:"case"`
	Jobs []change.Job `json:"jobs"`
}

// UpsertJobs replaces already known jobs.
type UpsertJobs struct {
	Jobs []change.Job `json:"jobs"`
}

type RejectCase struct {
	CaseHash change.CaseHash `json:"caseHash"`
}

type RejectJobs struct {
	JobHashes []change.JobHash `json:"jobHashes"`
}

// JobsRejected carries the jobs removed by a reject.
type JobsRejected struct {
	DeletedJobs []change.Job `json:"deletedJobs"`
}

type AcceptCase struct {
	CaseHash change.CaseHash `json:"caseHash"`
}

type AcceptJobs struct {
	JobHashes []change.JobHash `json:"jobHashes"`
}

// JobsAccepted carries the jobs removed after being applied.
type JobsAccepted struct {
	DeletedJobs []change.Job `json:"deletedJobs"`
}

// CasesRemoved is published after cases were retired.
type CasesRemoved struct {
	CaseHashes []change.CaseHash `json:"caseHashes"`
}

// EditJobContent replaces the materialized new content of a job.
type EditJobContent struct {
	JobHash change.JobHash `json:"jobHash"`
	Content string         `json:"content"`
}

// ClearState drops every case and job.
type ClearState struct{}

// ExecuteCodemodSet requests a codemod run against TargetPath.
type ExecuteCodemodSet struct {
	Command           change.Command  `json:"command"`
	HappenedAt        int64           `json:"happenedAt"`
	CaseHash          change.CaseHash `json:"caseHash"`
	StoragePath       string          `json:"storagePath"`
	TargetPath        string          `json:"targetPath"`
	TargetIsDirectory bool            `json:"targetIsDirectory"`
}

// CodemodSetExecuted follows every job upsert of a finished run.
type CodemodSetExecuted struct {
	Halted          bool                    `json:"halted"`
	FileCount       int                     `json:"fileCount"`
	AffectedAnyFile bool                    `json:"affectedAnyFile"`
	Jobs            []change.Job            `json:"jobs"`
	Case            change.Case             `json:"case"`
	ExecutionErrors []change.ExecutionError `json:"executionErrors"`
}

// ExecutionFailed reports a run that could not be started or was killed.
type ExecutionFailed struct {
	Case   change.Case `json:"case"`
	Reason string      `json:"reason"`
}

// ProgressKind tells whether a progress report has a known total.
type ProgressKind string

const (
	ProgressFinite   ProgressKind = "finite"
	ProgressInfinite ProgressKind = "infinite"
)

type ShowProgress struct {
	CodemodHash         string       `json:"codemodHash,omitempty"`
	ProgressKind        ProgressKind `json:"progressKind"`
	TotalFileNumber     int          `json:"totalFileNumber"`
	ProcessedFileNumber int          `json:"processedFileNumber"`
}

type ExecutionQueueChange struct {
	QueuedCodemodHashes []string `json:"queuedCodemodHashes"`
}

// LoadRecordedCases asks for every recorded run on disk to be loaded.
type LoadRecordedCases struct{}

// LoadRecordedCase asks for a single recorded run to be loaded.
type LoadRecordedCase struct {
	CaseHash change.CaseHash `json:"caseHash"`
}

func (UpsertCase) Kind() Kind           { return KindUpsertCase }
func (UpsertJobs) Kind() Kind           { return KindUpsertJobs }
func (RejectCase) Kind() Kind           { return KindRejectCase }
func (RejectJobs) Kind() Kind           { return KindRejectJobs }
func (JobsRejected) Kind() Kind         { return KindJobsRejected }
func (AcceptCase) Kind() Kind           { return KindAcceptCase }
func (AcceptJobs) Kind() Kind           { return KindAcceptJobs }
func (JobsAccepted) Kind() Kind         { return KindJobsAccepted }
func (CasesRemoved) Kind() Kind         { return KindCasesRemoved }
func (EditJobContent) Kind() Kind       { return KindEditJobContent }
func (ClearState) Kind() Kind           { return KindClearState }
func (ExecuteCodemodSet) Kind() Kind    { return KindExecuteCodemodSet }
func (CodemodSetExecuted) Kind() Kind   { return KindCodemodSetExecuted }
func (ExecutionFailed) Kind() Kind      { return KindExecutionFailed }
func (ShowProgress) Kind() Kind         { return KindShowProgress }
func (ExecutionQueueChange) Kind() Kind { return KindExecutionQueueChange }
func (LoadRecordedCases) Kind() Kind    { return KindLoadRecordedCases }
func (LoadRecordedCase) Kind() Kind     { return KindLoadRecordedCase }

func (UpsertCase) message()           {}
func (UpsertJobs) message()           {}
func (RejectCase) message()           {}
func (RejectJobs) message()           {}
func (JobsRejected) message()         {}
func (AcceptCase) message()           {}
func (AcceptJobs) message()           {}
func (JobsAccepted) message()         {}
func (CasesRemoved) message()         {}
func (EditJobContent) message()       {}
func (ClearState) message()           {}
func (ExecuteCodemodSet) message()    {}
func (CodemodSetExecuted) message()   {}
func (ExecutionFailed) message()      {}
func (ShowProgress) message()         {}
func (ExecutionQueueChange) message() {}
func (LoadRecordedCases) message()    {}
func (LoadRecordedCase) message()     {}
