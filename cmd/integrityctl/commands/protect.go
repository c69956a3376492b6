package commands

import (
	"fmt"

	"github.com/absfs/integrityfs"
	"github.com/spf13/cobra"
)

// PathResult is the outcome of a command on one path
type PathResult struct {
	Path   string `json:"path" yaml:"path"`
	Status string `json:"status" yaml:"status"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// PathResults renders as a table of path outcomes
type PathResults []PathResult

func (r PathResults) Headers() []string {
	return []string{"Path", "Status", "Error"}
}

func (r PathResults) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, res := range r {
		rows = append(rows, []string{res.Path, res.Status, res.Error})
	}
	return rows
}

// failed counts results carrying an error
func (r PathResults) failed() int {
	n := 0
	for _, res := range r {
		if res.Error != "" {
			n++
		}
	}
	return n
}

// applyEach runs fn on every path and prints the outcomes
func (a *app) applyEach(cmd *cobra.Command, paths []string, status string, fn func(fs *integrityfs.IntegrityFS, p string) error) error {
	s, format, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	results := make(PathResults, 0, len(paths))
	for _, p := range paths {
		res := PathResult{Path: p, Status: status}
		if err := fn(s.fs, p); err != nil {
			res.Status = "failed"
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	if err := printResult(cmd.OutOrStdout(), format, results); err != nil {
		return err
	}
	if n := results.failed(); n > 0 {
		return fmt.Errorf("%d of %d paths failed", n, len(paths))
	}
	return nil
}

func newProtectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "protect PATH...",
		Short: "Enable integrity tracking and record the current digest",
		Long: `Set the protection flag on each path and store the digest of its
current content. Directories can carry the flag but never a digest.

Examples:
  integrityctl protect etc/passwd etc/group`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.applyEach(cmd, args, "protected", func(fs *integrityfs.IntegrityFS, p string) error {
				return fs.Protect(currentCaller(), p)
			})
		},
	}
}

func newUnprotectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unprotect PATH...",
		Short: "Disable integrity tracking and remove the stored digest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.applyEach(cmd, args, "unprotected", func(fs *integrityfs.IntegrityFS, p string) error {
				return fs.Unprotect(currentCaller(), p)
			})
		},
	}
}
