package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/absfs/integrityfs"
	"github.com/spf13/cobra"
)

// errViolations is returned when a check found mismatches or missing digests
var errViolations = errors.New("integrity check failed")

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify PATH...",
		Short: "Compare the content of each path with its stored digest",
		Long: `Recompute the digest of each path and compare it with the stored one.

Each path is reported as match, mismatch, unprotected or no_baseline. The
command fails if any path is a mismatch or lacks its digest.

Examples:
  integrityctl verify etc/passwd
  integrityctl verify -o json bin/app`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, format, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			results := make(PathResults, 0, len(args))
			violations := 0
			for _, p := range args {
				res, err := s.fs.Check(p)
				r := PathResult{Path: p, Status: res.String()}
				if err != nil {
					r.Status = "error"
					r.Error = err.Error()
				}
				if err != nil || res == integrityfs.ResultMismatch || res == integrityfs.ResultNoBaseline {
					violations++
				}
				results = append(results, r)
			}
			if err := printResult(cmd.OutOrStdout(), format, results); err != nil {
				return err
			}
			if violations > 0 {
				return fmt.Errorf("%w: %d of %d paths", errViolations, violations, len(args))
			}
			return nil
		},
	}
}

// AuditSummary is the printable form of an audit report
type AuditSummary struct {
	Root            string   `json:"root" yaml:"root"`
	Checked         int      `json:"checked" yaml:"checked"`
	Matched         int      `json:"matched" yaml:"matched"`
	Unprotected     int      `json:"unprotected" yaml:"unprotected"`
	Mismatched      []string `json:"mismatched" yaml:"mismatched"`
	MissingBaseline []string `json:"missing_baseline" yaml:"missing_baseline"`
	Errors          []string `json:"errors" yaml:"errors"`
}

func newAuditSummary(root string, r *integrityfs.AuditReport) *AuditSummary {
	s := &AuditSummary{
		Root:            root,
		Checked:         r.Checked,
		Matched:         r.Matched,
		Unprotected:     r.Unprotected,
		Mismatched:      r.Mismatched,
		MissingBaseline: r.MissingBaseline,
	}
	for _, e := range r.Errors {
		s.Errors = append(s.Errors, e.Error())
	}
	return s
}

func (s *AuditSummary) Headers() []string {
	return []string{"Path", "Result"}
}

func (s *AuditSummary) Rows() [][]string {
	rows := [][]string{
		{"checked", strconv.Itoa(s.Checked)},
		{"matched", strconv.Itoa(s.Matched)},
		{"unprotected", strconv.Itoa(s.Unprotected)},
	}
	for _, p := range s.Mismatched {
		rows = append(rows, []string{p, "mismatch"})
	}
	for _, p := range s.MissingBaseline {
		rows = append(rows, []string{p, "no_baseline"})
	}
	for _, e := range s.Errors {
		rows = append(rows, []string{e, "error"})
	}
	return rows
}

func newAuditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit [ROOT]",
		Short: "Verify every file below a directory",
		Long: `Walk ROOT (default: the configured root) and verify every regular file.
Symbolic links are never followed. Files are checked in parallel unless
parallel.enabled is false.

Examples:
  integrityctl audit
  integrityctl audit usr/bin -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "/"
			if len(args) == 1 {
				root = args[0]
			}

			s, format, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.fs.VerifyTree(root)
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), format, newAuditSummary(root, report)); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("%w: %d mismatched, %d without digest, %d errors", errViolations,
					len(report.Mismatched), len(report.MissingBaseline), len(report.Errors))
			}
			return nil
		},
	}
}
