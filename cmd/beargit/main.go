// Package main provides the beargit CLI.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"beargit/internal/repo"
	"beargit/internal/status"
)

// Version is the CLI version, overridden at link time.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "beargit",
	Short:         "beargit - a tiny local version control system",
	Long:          `beargit tracks a list of files in the current directory and records numbered snapshots of them. Commit messages must contain "GO BEARS!".`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty repository in the current directory",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var addCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Start tracking a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

var rmCmd = &cobra.Command{
	Use:     "rm <file>",
	Aliases: []string{"remove"},
	Short:   "Stop tracking a file (the working file is kept)",
	Args:    cobra.ExactArgs(1),
	RunE:    runRemove,
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Snapshot every tracked file",
	Args:  cobra.NoArgs,
	RunE:  runCommit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List tracked files",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show commits, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

var showCmd = &cobra.Command{
	Use:   "show <commit> <file>",
	Short: "Print a file as stored in a commit",
	Long: `Print a file as stored in a commit.

<commit> is HEAD, a full commit id, or a unique suffix of at least 4 symbols.`,
	Args: cobra.ExactArgs(2),
	RunE: runShow,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [commit]",
	Short: "Check stored content against recorded digests",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerify,
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the operation journal, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJournal,
}

var (
	debugFlag     bool
	commitMessage string
	statusChanged bool
	statusJSON    bool
	logVerbose    bool
	journalLimit  int
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Log internal steps to stderr")

	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", `Commit message (must contain "GO BEARS!")`)
	commitCmd.MarkFlagRequired("message")
	statusCmd.Flags().BoolVar(&statusChanged, "changed", false, "Mark each file as added (A), modified (M) or deleted (D) relative to HEAD")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	logCmd.Flags().BoolVarP(&logVerbose, "verbose", "v", false, "Include commit dates")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Number of entries to show (0 for all)")

	rootCmd.AddCommand(initCmd, addCmd, rmCmd, commitCmd, statusCmd, logCmd, showCmd, verifyCmd, journalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func options(cmd *cobra.Command) repo.Options {
	opts := repo.Options{Warnings: cmd.ErrOrStderr()}
	if debugFlag {
		opts.Logger = log.New(cmd.ErrOrStderr(), "beargit: ", log.Ltime|log.Lmicroseconds)
	}
	return opts
}

// openRepo opens the repository in the current directory.
func openRepo(cmd *cobra.Command) (*repo.Repo, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	return repo.Open(cwd, options(cmd))
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	r, err := repo.Init(cwd, options(cmd))
	if err != nil {
		return err
	}
	return r.Close()
}

func runAdd(cmd *cobra.Command, args []string) error {
	r, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Add(args[0])
}

func runRemove(cmd *cobra.Command, args []string) error {
	r, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Remove(args[0])
}

func runCommit(cmd *cobra.Command, args []string) error {
	r, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = r.Commit(commitMessage)
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	r, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	res, err := r.Status(statusChanged)
	if err != nil {
		return err
	}
	format := status.FormatDefault
	if statusJSON {
		format = status.FormatJSON
	}
	return status.WriteOutput(cmd.OutOrStdout(), res, format)
}

func runLog(cmd *cobra.Command, args []string) error {
	r, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	entries, err := r.Log()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintf(out, "commit %s\n", e.ID)
		if logVerbose && e.CreatedAt > 0 {
			fmt.Fprintf(out, "Date: %s\n", time.UnixMilli(e.CreatedAt).Format(time.RFC1123Z))
		}
		fmt.Fprintf(out, "%s\n", e.Message)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	r, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	data, err := r.Show(args[0], args[1])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runVerify(cmd *cobra.Command, args []string) error {
	r, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	ref := ""
	if len(args) == 1 {
		ref = args[0]
	}
	results, err := r.Verify(ref)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	bad := 0
	for _, res := range results {
		if res.Err != nil {
			bad++
			fmt.Fprintf(out, "%s corrupt\n", res.ID)
			printIndented(out, res.Err)
			continue
		}
		fmt.Fprintf(out, "%s ok\n", res.ID)
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d commits failed verification", bad, len(results))
	}
	return nil
}

// printIndented prints each error joined into err on its own line.
func printIndented(w io.Writer, err error) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			printIndented(w, e)
		}
		return
	}
	fmt.Fprintf(w, "  %v\n", err)
}

func runJournal(cmd *cobra.Command, args []string) error {
	r, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	entries, err := r.Journal(journalLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No operations recorded.")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, e := range entries {
		ts := time.UnixMilli(e.CreatedAt).Format("2006-01-02 15:04:05")
		line := fmt.Sprintf("%4d  %s  %-6s", e.Seq, ts, e.Op)
		if e.HeadBefore != e.HeadAfter {
			line += fmt.Sprintf("  %s -> %s", shortID(e.HeadBefore), shortID(e.HeadAfter))
		}
		if e.Arg != "" {
			line += "  " + e.Arg
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// shortID keeps the trailing symbols of an ID, which is where successive
// commits differ.
func shortID(s string) string {
	if len(s) > 12 {
		return s[len(s)-12:]
	}
	return s
}
