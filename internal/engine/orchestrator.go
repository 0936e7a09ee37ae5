// Package engine drives the external codemod engine: it builds the argument
// vector, launches the process, decodes its line protocol into jobs and keeps
// at most one run active with a FIFO queue of pending requests.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"codemodctl/internal/bus"
	"codemodctl/internal/change"
	"codemodctl/internal/fsys"
	"codemodctl/internal/logger"
	"codemodctl/internal/util"
)

// DefaultIdleTimeout is how long an engine may stay silent before it is killed.
const DefaultIdleTimeout = 30 * time.Second

const maxLineSize = 16 * 1024 * 1024

const noAffectedFiles = "the codemod has run successfully but didn't do anything"

var (
	// ErrExecutionInProgress is returned for requests that cannot wait in the
	// queue while another run is active.
	ErrExecutionInProgress = errors.New("wait until the previous codemod set execution has finished")
	// ErrQueueFull is returned when the configured queue limit is reached.
	ErrQueueFull = errors.New("execution queue is full")
)

// Outcome tells what Submit did with a request.
type Outcome int

const (
	Started Outcome = iota + 1
	Queued
	Watching
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case Queued:
		return "queued"
	case Watching:
		return "watching"
	}
	return "unknown"
}

// Options configures an Orchestrator.
type Options struct {
	Command        string
	PiranhaCommand string
	IdleTimeout    time.Duration
	// QueueLimit caps the number of waiting requests. Zero means unbounded.
	QueueLimit int
	Settings   Settings
}

type state interface{ isState() }

type idle struct{}

// running holds the active execution until its output streams close.
type running struct{ exec *execution }

// draining holds an execution whose streams closed while its completion is
// being published.
type draining struct{ exec *execution }

func (idle) isState()     {}
func (running) isState()  {}
func (draining) isState() {}

type queue struct {
	items []bus.ExecuteCodemodSet
}

func (q *queue) push(req bus.ExecuteCodemodSet) {
	q.items = append(q.items, req)
}

func (q *queue) pop() (bus.ExecuteCodemodSet, bool) {
	if len(q.items) == 0 {
		return bus.ExecuteCodemodSet{}, false
	}
	req := q.items[0]
	q.items = q.items[1:]
	return req, true
}

func (q *queue) len() int { return len(q.items) }

func (q *queue) contains(hash string) bool {
	for _, req := range q.items {
		if req.Command.CodemodHash == hash {
			return true
		}
	}
	return false
}

func (q *queue) hashes() []string {
	out := make([]string, 0, len(q.items))
	for _, req := range q.items {
		if req.Command.CodemodHash != "" {
			out = append(out, req.Command.CodemodHash)
		}
	}
	return out
}

type execution struct {
	req   bus.ExecuteCodemodSet
	kase  change.Case
	proc  Process
	timer *time.Timer

	halted     atomic.Bool
	idleKilled atomic.Bool

	// Owned by the stream goroutines until they finish.
	jobs      []change.Job
	fileCount int
	errs      []change.ExecutionError
}

func newExecution(req bus.ExecuteCodemodSet) *execution {
	hash := req.CaseHash
	if hash == "" {
		hash = change.NewCaseHash()
	}
	createdAt := req.HappenedAt
	if createdAt == 0 {
		createdAt = util.NowMs()
	}
	return &execution{
		req: req,
		kase: change.Case{
			Hash:        hash,
			CodemodName: req.Command.Name,
			CodemodHash: req.Command.CodemodHash,
			CreatedAt:   createdAt,
			Path:        req.TargetPath,
		},
	}
}

// Orchestrator runs engine executions one at a time.
type Orchestrator struct {
	bus      *bus.Bus
	fs       fsys.FileSystem
	launcher Launcher
	log      *logger.Logger
	opts     Options

	mu     sync.Mutex
	state  state
	queue  queue
	idleCh chan struct{}

	dispose func()
}

// New creates an orchestrator subscribed to ExecuteCodemodSet requests.
func New(b *bus.Bus, fs fsys.FileSystem, launcher Launcher, log *logger.Logger, opts Options) *Orchestrator {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	o := &Orchestrator{
		bus:      b,
		fs:       fs,
		launcher: launcher,
		log:      log.With("component", "engine"),
		opts:     opts,
		state:    idle{},
	}
	o.dispose = bus.Subscribe(b, func(m bus.ExecuteCodemodSet) error {
		outcome, err := o.Submit(m)
		if err != nil {
			return err
		}
		o.log.Debug("execution requested", "codemod", m.Command.Name, "outcome", outcome)
		return nil
	})
	return o
}

// Close stops listening for requests. Runs in progress are not affected.
func (o *Orchestrator) Close() {
	o.dispose()
}

// Submit starts req, queues it, or attaches to an existing run of the same codemod.
func (o *Orchestrator) Submit(req bus.ExecuteCodemodSet) (Outcome, error) {
	o.mu.Lock()
	current := o.current()
	if current == nil {
		x := newExecution(req)
		o.state = running{exec: x}
		o.idleCh = make(chan struct{})
		o.mu.Unlock()

		o.start(x)
		return Started, nil
	}

	hash := req.Command.CodemodHash
	if hash != "" && (current.req.Command.CodemodHash == hash || o.queue.contains(hash)) {
		o.mu.Unlock()
		return Watching, nil
	}
	if !req.Command.Registry() {
		o.mu.Unlock()
		return 0, ErrExecutionInProgress
	}
	if o.opts.QueueLimit > 0 && o.queue.len() >= o.opts.QueueLimit {
		o.mu.Unlock()
		return 0, ErrQueueFull
	}
	o.queue.push(req)
	hashes := o.queue.hashes()
	o.mu.Unlock()

	o.publish(bus.ExecutionQueueChange{QueuedCodemodHashes: hashes})
	return Queued, nil
}

// Shutdown marks the active run halted and interrupts the engine. The queue
// is left untouched.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()

	x := o.current()
	if x == nil {
		return
	}
	x.halted.Store(true)
	if x.proc == nil {
		return
	}
	if err := x.proc.Interrupt(); err != nil {
		o.log.Warn("could not interrupt engine", "case", x.kase.Hash, "error", err)
	}
}

// Running reports whether an execution is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current() != nil
}

// Queued returns the codemod hashes waiting to run, in order.
func (o *Orchestrator) Queued() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.hashes()
}

// Wait blocks until no execution is active and the queue is empty.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	if o.current() == nil {
		o.mu.Unlock()
		return nil
	}
	ch := o.idleCh
	o.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// current must be called with o.mu held.
func (o *Orchestrator) current() *execution {
	switch st := o.state.(type) {
	case running:
		return st.exec
	case draining:
		return st.exec
	}
	return nil
}

func (o *Orchestrator) start(x *execution) {
	if err := o.launch(x); err != nil {
		o.log.Error("engine failed to start", "case", x.kase.Hash, "codemod", x.kase.CodemodName, "error", err)
		o.publish(bus.ExecutionFailed{Case: x.kase, Reason: err.Error()})
		o.advance()
		return
	}
	go o.consume(x)
}

func (o *Orchestrator) launch(x *execution) error {
	o.publish(bus.ShowProgress{
		CodemodHash:  x.kase.CodemodHash,
		ProgressKind: bus.ProgressInfinite,
	})

	outputDir := filepath.Join(x.req.StoragePath, "codemod-engine-node")
	if err := o.fs.CreateDirectory(outputDir); err != nil {
		return err
	}
	args, err := BuildArguments(o.opts.Settings, x.req, outputDir)
	if err != nil {
		return err
	}

	command := o.opts.Command
	if x.req.Command.Kind == change.ExecutePiranhaRule {
		command = o.opts.PiranhaCommand
	}
	if command == "" {
		return fmt.Errorf("no engine configured for %s", x.req.Command.Kind)
	}

	o.log.Debug("launching engine", "command", command, "args", args)
	proc, err := o.launcher.Launch(context.Background(), command, args)
	if err != nil {
		return err
	}

	o.mu.Lock()
	x.proc = proc
	x.timer = time.AfterFunc(o.opts.IdleTimeout, func() {
		x.idleKilled.Store(true)
		if err := proc.Kill(); err != nil {
			o.log.Warn("could not kill idle engine", "case", x.kase.Hash, "error", err)
		}
	})
	halted := x.halted.Load()
	o.mu.Unlock()

	if halted {
		if err := proc.Interrupt(); err != nil {
			o.log.Warn("could not interrupt engine", "case", x.kase.Hash, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) consume(x *execution) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.readErrors(x)
	}()

	stdout := x.proc.Stdout()
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		x.timer.Reset(o.opts.IdleTimeout)
		o.handleLine(x, sc.Bytes())
	}
	if err := sc.Err(); err != nil {
		o.log.Warn("engine output unreadable", "case", x.kase.Hash, "error", err)
		_, _ = io.Copy(io.Discard, stdout)
	}
	x.timer.Stop()
	wg.Wait()

	if err := x.proc.Wait(); err != nil && !x.halted.Load() && !x.idleKilled.Load() {
		o.log.Debug("engine exited with error", "case", x.kase.Hash, "error", err)
	}
	o.complete(x)
}

func (o *Orchestrator) handleLine(x *execution, line []byte) {
	rec, err := DecodeLine(line)
	if err != nil {
		o.log.Warn("skipping engine record", "line", string(line), "error", err)
		return
	}

	switch rec.Kind {
	case RecordFinish:
		return
	case RecordProgress:
		x.fileCount = rec.TotalFileNumber
		o.publish(bus.ShowProgress{
			CodemodHash:         x.kase.CodemodHash,
			ProgressKind:        bus.ProgressFinite,
			TotalFileNumber:     rec.TotalFileNumber,
			ProcessedFileNumber: rec.ProcessedFileNumber,
		})
		return
	}

	job, err := BuildJob(o.fs, rec, x.kase.Hash, x.kase.CodemodName)
	if err != nil {
		o.log.Warn("skipping engine record", "line", string(line), "error", err)
		return
	}
	x.jobs = append(x.jobs, job)
	o.publish(bus.UpsertCase{Case: x.kase, Jobs: []change.Job{job}})
}

func (o *Orchestrator) readErrors(x *execution) {
	stderr := x.proc.Stderr()
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		e, err := DecodeErrorLine(sc.Bytes())
		if err != nil {
			o.log.Debug("dropping engine error line", "line", sc.Text(), "error", err)
			continue
		}
		x.errs = append(x.errs, e)
	}
	if sc.Err() != nil {
		_, _ = io.Copy(io.Discard, stderr)
	}
}

func (o *Orchestrator) complete(x *execution) {
	o.mu.Lock()
	o.state = draining{exec: x}
	o.mu.Unlock()

	idleKilled := x.idleKilled.Load()
	halted := x.halted.Load() || idleKilled
	affected := len(x.jobs) > 0

	o.publish(bus.CodemodSetExecuted{
		Halted:          halted,
		FileCount:       x.fileCount,
		AffectedAnyFile: affected,
		Jobs:            x.jobs,
		Case:            x.kase,
		ExecutionErrors: x.errs,
	})

	switch {
	case idleKilled:
		reason := fmt.Sprintf("engine produced no output for %s and was stopped", o.opts.IdleTimeout)
		o.log.Error("engine killed", "case", x.kase.Hash, "reason", reason)
		o.publish(bus.ExecutionFailed{Case: x.kase, Reason: reason})
	case !halted && !affected:
		o.log.Info(noAffectedFiles, "case", x.kase.Hash, "codemod", x.kase.CodemodName)
	}

	o.advance()
}

// advance starts the next queued request or returns to idle.
func (o *Orchestrator) advance() {
	o.mu.Lock()
	next, ok := o.queue.pop()
	if !ok {
		o.state = idle{}
		close(o.idleCh)
		o.mu.Unlock()
		return
	}
	x := newExecution(next)
	o.state = running{exec: x}
	hashes := o.queue.hashes()
	o.mu.Unlock()

	o.publish(bus.ExecutionQueueChange{QueuedCodemodHashes: hashes})
	o.start(x)
}

func (o *Orchestrator) publish(m bus.Message) {
	if err := o.bus.Publish(m); err != nil {
		o.log.Error("message handler failed", "kind", m.Kind(), "error", err)
	}
}
