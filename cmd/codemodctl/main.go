// Package main provides the codemodctl CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is the current codemodctl version
var Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:     "codemodctl",
	Short:   "codemodctl - run codemods and review their changes before applying them",
	Version: Version,
	Long: `codemodctl runs a codemod engine against a file or directory, records every
proposed file change as a job of a case, and lets you review, edit, accept or
reject those changes.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <target>",
	Short: "Run a codemod against a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "List cases, newest first",
	RunE:  runCases,
}

var treeCmd = &cobra.Command{
	Use:   "tree <case>",
	Short: "Show and change the change explorer tree of a case",
	Args:  cobra.ExactArgs(1),
	RunE:  runTree,
}

var acceptCmd = &cobra.Command{
	Use:   "accept <case>",
	Short: "Apply the selected jobs of a case to the file system",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccept,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <case>",
	Short: "Discard a case or some of its jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

var editCmd = &cobra.Command{
	Use:   "edit <job>",
	Short: "Replace the proposed content of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdit,
}

var snippetCmd = &cobra.Command{
	Use:   "snippet <job>",
	Short: "Print before/after snippets of a job's change",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnippet,
}

var loadCmd = &cobra.Command{
	Use:   "load [case]",
	Short: "Load runs recorded by the codemod command line",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLoad,
}

var exportCmd = &cobra.Command{
	Use:   "export <case>",
	Short: "Write a case as a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every case and job",
	RunE:  runClear,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream bus messages to websocket clients",
	RunE:  runServe,
}

var (
	workDir string
	jsonOut bool

	runCodemod  string
	runHash     string
	runSource   string
	runPiranha  string
	runLanguage string
	runArgs     []string
	runName     string

	treeSearch    string
	treeToggle    []string
	treeCollapse  []string
	treeReviewed  []string
	treeFocus     string
	treeNext      bool
	treePrev      bool
	treeClearFind bool

	acceptAll   bool
	acceptForce bool

	rejectJobs []string

	editFile string

	snippetReport bool

	serveListen string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", ".", "Workspace directory")

	runCmd.Flags().StringVar(&runCodemod, "codemod", "", "Registry codemod to run")
	runCmd.Flags().StringVar(&runHash, "hash", "", "Codemod hash (defaults to a digest of the codemod name)")
	runCmd.Flags().StringVar(&runSource, "source", "", "Local codemod file to run")
	runCmd.Flags().StringVar(&runPiranha, "piranha", "", "Piranha rule configuration directory")
	runCmd.Flags().StringVar(&runLanguage, "language", "", "Language of the piranha rules")
	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "Codemod argument name=value (repeatable)")
	runCmd.Flags().StringVar(&runName, "name", "", "Display name of the codemod")

	casesCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	treeCmd.Flags().StringVar(&treeSearch, "search", "", "Only show files fuzzy-matching this phrase")
	treeCmd.Flags().BoolVar(&treeClearFind, "clear-search", false, "Remove the search phrase")
	treeCmd.Flags().StringArrayVar(&treeToggle, "toggle", nil, "Toggle selection of a node (path or hash prefix)")
	treeCmd.Flags().StringArrayVar(&treeCollapse, "collapse", nil, "Toggle collapsing of a directory")
	treeCmd.Flags().StringArrayVar(&treeReviewed, "reviewed", nil, "Toggle the reviewed flag of a file")
	treeCmd.Flags().StringVar(&treeFocus, "focus", "", "Focus a node")
	treeCmd.Flags().BoolVar(&treeNext, "next", false, "Focus the next file")
	treeCmd.Flags().BoolVar(&treePrev, "prev", false, "Focus the previous file")
	treeCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	acceptCmd.Flags().BoolVar(&acceptAll, "all", false, "Accept every job, ignoring the selection")
	acceptCmd.Flags().BoolVar(&acceptForce, "force", false, "Accept even if target files have uncommitted changes")

	rejectCmd.Flags().StringSliceVar(&rejectJobs, "jobs", nil, "Only reject these jobs (hash prefixes)")

	editCmd.Flags().StringVar(&editFile, "file", "", "Read the new content from this file (default stdin)")

	snippetCmd.Flags().BoolVar(&snippetReport, "report", false, "Print an issue report link instead")

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from configuration)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(casesCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(acceptCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(snippetCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// shortHash truncates a hash to 12 characters.
func shortHash(s string) string {
	if len(s) >= 12 {
		return s[:12]
	}
	return s
}
