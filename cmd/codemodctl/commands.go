package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"codemodctl/internal/bus"
	"codemodctl/internal/casefile"
	"codemodctl/internal/change"
	"codemodctl/internal/eventstream"
	"codemodctl/internal/explorer"
	"codemodctl/internal/snippet"
	"codemodctl/internal/util"
)

// withApp opens the app for the duration of fn and persists state after.
func withApp(fn func(a *app) error) error {
	a, err := openApp(workDir)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("saving state: %w", err)
	}
	return runErr
}

func buildCommand() (change.Command, error) {
	set := 0
	for _, v := range []string{runCodemod, runSource, runPiranha} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return change.Command{}, errors.New("exactly one of --codemod, --source or --piranha is required")
	}

	var arguments []change.Argument
	for _, kv := range runArgs {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return change.Command{}, fmt.Errorf("argument %q is not name=value", kv)
		}
		arguments = append(arguments, change.Argument{Name: name, Value: value})
	}

	switch {
	case runCodemod != "":
		hash := runHash
		if hash == "" {
			hash = util.HashHex(runCodemod)
		}
		name := runName
		if name == "" {
			name = runCodemod
		}
		return change.Command{Kind: change.ExecuteCodemod, Name: name, CodemodHash: hash, Arguments: arguments}, nil
	case runSource != "":
		src, err := filepath.Abs(runSource)
		if err != nil {
			return change.Command{}, err
		}
		name := runName
		if name == "" {
			name = filepath.Base(src)
		}
		return change.Command{Kind: change.ExecuteLocalCodemod, Name: name, CodemodHash: runHash, SourcePath: src, Arguments: arguments}, nil
	}

	if runLanguage == "" {
		return change.Command{}, errors.New("--language is required with --piranha")
	}
	src, err := filepath.Abs(runPiranha)
	if err != nil {
		return change.Command{}, err
	}
	name := runName
	if name == "" {
		name = "piranha:" + filepath.Base(src)
	}
	return change.Command{Kind: change.ExecutePiranhaRule, Name: name, SourcePath: src, Language: runLanguage, Arguments: arguments}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	command, err := buildCommand()
	if err != nil {
		return err
	}
	target, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("checking target: %w", err)
	}

	return withApp(func(a *app) error {
		out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

		var executed *bus.CodemodSetExecuted
		var failure string
		disposers := []func(){
			bus.Subscribe(a.bus, func(m bus.ShowProgress) error {
				if m.ProgressKind == bus.ProgressFinite {
					fmt.Fprintf(errOut, "\rprocessed %d/%d files", m.ProcessedFileNumber, m.TotalFileNumber)
				}
				return nil
			}),
			bus.Subscribe(a.bus, func(m bus.CodemodSetExecuted) error {
				executed = &m
				return nil
			}),
			bus.Subscribe(a.bus, func(m bus.ExecutionFailed) error {
				failure = m.Reason
				return nil
			}),
		}
		defer func() {
			for _, d := range disposers {
				d()
			}
		}()

		caseHash := change.NewCaseHash()
		err := a.bus.Publish(bus.ExecuteCodemodSet{
			Command:           command,
			HappenedAt:        util.NowMs(),
			CaseHash:          caseHash,
			StoragePath:       a.runDir(caseHash),
			TargetPath:        target,
			TargetIsDirectory: info.IsDir(),
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		if err := a.orch.Wait(ctx); err != nil {
			fmt.Fprintln(errOut, "\ninterrupted, stopping the engine")
			a.orch.Shutdown()
			if err := a.orch.Wait(context.Background()); err != nil {
				return err
			}
		}
		fmt.Fprintln(errOut)

		if failure != "" {
			return fmt.Errorf("execution failed: %s", failure)
		}
		if executed == nil {
			return errors.New("the engine finished without a result")
		}
		if !executed.AffectedAnyFile {
			fmt.Fprintln(out, "The codemod has run successfully but didn't do anything.")
			return nil
		}
		fmt.Fprintf(out, "Case %s: %d proposed changes", shortHash(string(caseHash)), len(executed.Jobs))
		if executed.Halted {
			fmt.Fprint(out, " (halted)")
		}
		fmt.Fprintln(out)
		for _, e := range executed.ExecutionErrors {
			fmt.Fprintf(out, "  error: %s %s\n", e.Path, e.Message)
		}
		return nil
	})
}

type caseSummary struct {
	change.Case
	Jobs   int `json:"jobs"`
	Errors int `json:"executionErrors"`
}

func runCases(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		var summaries []caseSummary
		for _, c := range a.repo.Cases() {
			summaries = append(summaries, caseSummary{
				Case:   c,
				Jobs:   len(a.repo.JobsByCase(c.Hash)),
				Errors: len(a.repo.ExecutionErrors(c.Hash)),
			})
		}

		out := cmd.OutOrStdout()
		if jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(summaries)
		}
		if len(summaries) == 0 {
			fmt.Fprintln(out, "No cases.")
			return nil
		}
		for _, s := range summaries {
			created := time.UnixMilli(s.CreatedAt).Format("2006-01-02 15:04")
			fmt.Fprintf(out, "%s  %s  %-4d %s  %s\n", shortHash(string(s.Hash)), created, s.Jobs, s.CodemodName, s.Path)
		}
		return nil
	})
}

// findNode resolves a node by relative path, "." for the root, or a unique
// hash prefix.
func findNode(t *explorer.Tree, ref string) (*explorer.Node, error) {
	if ref == "." {
		return t.Root, nil
	}
	var byHash []*explorer.Node
	for _, n := range t.Nodes() {
		if n.Path == ref {
			return n, nil
		}
		if strings.HasPrefix(string(n.Hash), ref) {
			byHash = append(byHash, n)
		}
	}
	if len(byHash) == 1 {
		return byHash[0], nil
	}
	return nil, fmt.Errorf("%w: %s", explorer.ErrNodeNotFound, ref)
}

func runTree(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		c, err := a.findCase(args[0])
		if err != nil {
			return err
		}

		var phrase *string
		if cmd.Flags().Changed("search") {
			phrase = &treeSearch
		}
		if treeClearFind {
			empty := ""
			phrase = &empty
		}
		v, t := a.explore(c, phrase)

		for _, ref := range treeToggle {
			n, err := findNode(t, ref)
			if err != nil {
				return err
			}
			if err := v.ToggleSelected(t, n.Hash); err != nil {
				return err
			}
		}
		for _, ref := range treeCollapse {
			n, err := findNode(t, ref)
			if err != nil {
				return err
			}
			if err := v.ToggleCollapsed(t, n.Hash); err != nil {
				return err
			}
		}
		for _, ref := range treeReviewed {
			n, err := findNode(t, ref)
			if err != nil {
				return err
			}
			v.ToggleReviewed(n.Hash)
		}
		if treeFocus != "" {
			n, err := findNode(t, treeFocus)
			if err != nil {
				return err
			}
			if err := v.Focus(t, n.Hash); err != nil {
				return err
			}
		}
		switch {
		case treeNext:
			v.FocusSibling(t, explorer.Next)
		case treePrev:
			v.FocusSibling(t, explorer.Prev)
		}
		a.views.Set(c.Hash, v)

		rows := explorer.Flatten(t, v)
		out := cmd.OutOrStdout()
		if jsonOut {
			items := make([]rowJSON, 0, len(rows))
			for _, r := range rows {
				items = append(items, rowJSON{
					Hash:          r.Node.Hash,
					Kind:          r.Node.Kind,
					Label:         r.Node.Label,
					Path:          r.Node.Path,
					JobHash:       r.Node.JobHash,
					Depth:         r.Depth,
					State:         r.State.String(),
					SelectedCount: r.SelectedCount,
					Expanded:      r.Expanded,
					Reviewed:      r.Reviewed,
					Focused:       r.Focused,
				})
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}
		for _, r := range rows {
			fmt.Fprintln(out, formatRow(r))
		}
		return nil
	})
}

type rowJSON struct {
	Hash          explorer.NodeHash `json:"hash"`
	Kind          explorer.NodeKind `json:"kind"`
	Label         string            `json:"label"`
	Path          string            `json:"path"`
	JobHash       change.JobHash    `json:"jobHash,omitempty"`
	Depth         int               `json:"depth"`
	State         string            `json:"state"`
	SelectedCount int               `json:"selectedCount"`
	Expanded      bool              `json:"expanded"`
	Reviewed      bool              `json:"reviewed"`
	Focused       bool              `json:"focused"`
}

func formatRow(r explorer.Row) string {
	var b strings.Builder
	if r.Focused {
		b.WriteString("> ")
	} else {
		b.WriteString("  ")
	}
	b.WriteString(strings.Repeat("  ", r.Depth))
	switch r.State {
	case explorer.Checked:
		b.WriteString("[x] ")
	case explorer.Indeterminate:
		b.WriteString("[-] ")
	default:
		b.WriteString("[ ] ")
	}
	if r.Collapsible {
		if r.Expanded {
			b.WriteString("v ")
		} else {
			b.WriteString("> ")
		}
	}
	b.WriteString(r.Node.Label)
	if r.Node.Kind != explorer.KindFile {
		fmt.Fprintf(&b, " (%d)", r.SelectedCount)
	}
	if r.Node.FileAdded {
		b.WriteString(" [new]")
	}
	if r.Reviewed {
		b.WriteString(" [reviewed]")
	}
	if r.Node.Kind == explorer.KindFile {
		fmt.Fprintf(&b, "  %s", shortHash(string(r.Node.JobHash)))
	}
	return b.String()
}

func runAccept(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		c, err := a.findCase(args[0])
		if err != nil {
			return err
		}
		jobs := a.repo.JobsByCase(c.Hash)

		selected := make([]change.JobHash, 0, len(jobs))
		if acceptAll {
			for _, j := range jobs {
				selected = append(selected, j.Hash)
			}
		} else {
			v, t := a.explore(c, nil)
			selected = v.SelectedJobHashes(t)
		}
		if len(selected) == 0 {
			return errors.New("no jobs selected")
		}

		var touched []string
		for _, h := range selected {
			if j, ok := a.repo.Job(h); ok {
				for _, p := range []string{j.OldPath, j.NewPath} {
					if p != "" {
						touched = append(touched, p)
					}
				}
			}
		}
		dirty, err := a.caseWorkspace(c).DirtyAmong(touched)
		if err != nil {
			a.log.Warn("could not check for uncommitted changes", "error", err)
		}
		if len(dirty) > 0 {
			for _, p := range dirty {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s has uncommitted changes\n", p)
			}
			if !acceptForce {
				return errors.New("refusing to overwrite uncommitted changes (use --force)")
			}
		}

		var accepted int
		dispose := bus.Subscribe(a.bus, func(m bus.JobsAccepted) error {
			accepted += len(m.DeletedJobs)
			return nil
		})
		defer dispose()

		if len(selected) == len(jobs) {
			err = a.bus.Publish(bus.AcceptCase{CaseHash: c.Hash})
		} else {
			err = a.bus.Publish(bus.AcceptJobs{JobHashes: selected})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d of %d changes.\n", accepted, len(selected))
		return err
	})
}

func runReject(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		c, err := a.findCase(args[0])
		if err != nil {
			return err
		}
		if len(rejectJobs) == 0 {
			if err := a.bus.Publish(bus.RejectCase{CaseHash: c.Hash}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rejected case %s.\n", shortHash(string(c.Hash)))
			return nil
		}

		var hashes []change.JobHash
		for _, ref := range rejectJobs {
			j, err := a.findJob(ref)
			if err != nil {
				return err
			}
			if j.CaseHash != c.Hash {
				return fmt.Errorf("job %s does not belong to case %s", shortHash(string(j.Hash)), shortHash(string(c.Hash)))
			}
			hashes = append(hashes, j.Hash)
		}
		if err := a.bus.Publish(bus.RejectJobs{JobHashes: hashes}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rejected %d changes.\n", len(hashes))
		return nil
	})
}

func runEdit(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error
	if editFile != "" {
		content, err = os.ReadFile(editFile)
	} else {
		content, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("reading new content: %w", err)
	}

	return withApp(func(a *app) error {
		j, err := a.findJob(args[0])
		if err != nil {
			return err
		}
		return a.bus.Publish(bus.EditJobContent{JobHash: j.Hash, Content: string(content)})
	})
}

func runSnippet(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		j, err := a.findJob(args[0])
		if err != nil {
			return err
		}
		if j.Kind == change.DeleteFile {
			return fmt.Errorf("job %s deletes a file", shortHash(string(j.Hash)))
		}

		before, err := a.readOld(j)
		if err != nil {
			return err
		}
		var after string
		if j.OriginalNewContent != nil {
			after = *j.OriginalNewContent
		} else {
			data, err := a.fs.ReadFile(j.NewContentPath)
			if err != nil {
				return err
			}
			after = string(data)
		}

		synth, err := snippet.NewSynthesizer(a.cfg.SnippetCacheSize)
		if err != nil {
			return err
		}
		s, err := synth.Build(j.AffectedPath(), before, after)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if snippetReport {
			link, err := snippet.ReportURL(a.cfg.ReportBase, j.CodemodName, s)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, link)
			return nil
		}
		fmt.Fprintf(out, "--- before\n%s\n+++ after\n%s\n", s.Before, s.After)
		return nil
	})
}

func runLoad(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		before := len(a.repo.Cases())
		var err error
		if len(args) == 1 {
			err = a.bus.Publish(bus.LoadRecordedCase{CaseHash: change.CaseHash(args[0])})
		} else {
			err = a.bus.Publish(bus.LoadRecordedCases{})
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d recorded cases.\n", len(a.repo.Cases())-before)
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		c, err := a.findCase(args[0])
		if err != nil {
			return err
		}

		codemodHash := c.CodemodHash
		if len(codemodHash) != change.HashLen {
			codemodHash = util.HashHex(c.CodemodName)
		}
		dataDir := filepath.Join(filepath.Dir(casefile.Path(a.cfg.CaseDataDir, c.Hash)), "data")
		if err := a.fs.CreateDirectory(dataDir); err != nil {
			return err
		}

		var jobs []casefile.RecordedJob
		for _, j := range a.repo.JobsByCase(c.Hash) {
			if j.OriginalNewContent != nil && j.NewContentPath != "" && j.Kind != change.MoveFile && j.Kind != change.CopyFile {
				path := filepath.Join(dataDir, string(j.Hash))
				if err := a.fs.WriteFile(path, []byte(*j.OriginalNewContent)); err != nil {
					return err
				}
				j.NewContentPath = path
			}
			jobs = append(jobs, casefile.FromJob(j))
		}

		rc := casefile.RecordedCase{
			Hash:        c.Hash,
			CodemodHash: codemodHash,
			CreatedAt:   c.CreatedAt,
			TargetPath:  c.Path,
		}
		if err := casefile.Save(a.fs, a.cfg.CaseDataDir, rc, jobs); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), casefile.Path(a.cfg.CaseDataDir, c.Hash))
		return nil
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		if err := a.bus.Publish(bus.ClearState{}); err != nil {
			return err
		}
		if err := a.store.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cleared all cases.")
		return nil
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		addr := serveListen
		if addr == "" {
			addr = a.cfg.Listen
		}

		stream := eventstream.New(a.bus, a.log)
		defer stream.Close()

		mux := http.NewServeMux()
		mux.Handle("/events", stream)
		srv := &http.Server{Addr: addr, Handler: mux}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		a.log.Info("serving events", "addr", addr)

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.orch.Shutdown()
		stream.Close()
		return srv.Shutdown(shutdownCtx)
	})
}
