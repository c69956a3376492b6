package commands

import (
	"fmt"
	"strconv"

	"github.com/absfs/integrityfs"
	"github.com/spf13/cobra"
)

func newAlgoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "algo",
		Short: "Manage per-path hash algorithms",
		Long: `Manage the algorithm attribute of protected files.

set, clear and migrate require algorithm_attr to be enabled in the
configuration (or --algorithm-attr).`,
	}
	cmd.AddCommand(
		newAlgoListCmd(a),
		newAlgoSetCmd(a),
		newAlgoClearCmd(a),
		newAlgoMigrateCmd(a),
	)
	return cmd
}

// AlgorithmList renders the supported algorithms
type AlgorithmList []AlgorithmInfo

// AlgorithmInfo describes one supported algorithm
type AlgorithmInfo struct {
	Name string `json:"name" yaml:"name"`
	Size int    `json:"size" yaml:"size"`
}

func (l AlgorithmList) Headers() []string {
	return []string{"Algorithm", "Digest Bytes"}
}

func (l AlgorithmList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, alg := range l {
		rows = append(rows, []string{alg.Name, strconv.Itoa(alg.Size)})
	}
	return rows
}

func newAlgoListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List supported algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ParseFormat(a.output)
			if err != nil {
				return err
			}
			var list AlgorithmList
			for _, name := range integrityfs.SupportedAlgorithms() {
				size, _ := integrityfs.DigestSize(name)
				list = append(list, AlgorithmInfo{Name: name, Size: size})
			}
			return printResult(cmd.OutOrStdout(), format, list)
		},
	}
}

func newAlgoSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set ALGORITHM PATH...",
		Short: "Select the algorithm of each path, recomputing protected digests",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg := args[0]
			return a.applyEach(cmd, args[1:], alg, func(fs *integrityfs.IntegrityFS, p string) error {
				return fs.SetAlgorithm(currentCaller(), p, alg)
			})
		},
	}
}

func newAlgoClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear PATH...",
		Short: "Revert each path to the default algorithm",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.applyEach(cmd, args, "default", func(fs *integrityfs.IntegrityFS, p string) error {
				return fs.ClearAlgorithm(currentCaller(), p)
			})
		},
	}
}

func newAlgoMigrateCmd(a *app) *cobra.Command {
	var opts integrityfs.MigrateOptions

	cmd := &cobra.Command{
		Use:   "migrate ALGORITHM [ROOT]",
		Short: "Move every protected file below ROOT to another algorithm",
		Long: `Set the algorithm of every protected file below ROOT and recompute its
digest.

With --verify-first a file whose content no longer matches its current
digest is reported and left alone instead of being re-baselined.

Examples:
  integrityctl algo migrate sha256 --dry-run
  integrityctl algo migrate blake3 usr --verify-first`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "/"
			if len(args) == 2 {
				root = args[1]
			}

			s, format, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			report, migrateErr := s.fs.MigrateAlgorithm(currentCaller(), root, args[0], opts)
			if report == nil {
				return migrateErr
			}

			status := "migrated"
			if opts.DryRun {
				status = "would migrate"
			}
			results := make(PathResults, 0, len(report.Migrated)+len(report.Failed))
			for _, p := range report.Migrated {
				results = append(results, PathResult{Path: p, Status: status})
			}
			for _, f := range report.Failed {
				results = append(results, PathResult{Path: f.Path, Status: "failed", Error: f.Err.Error()})
			}
			if err := printResult(cmd.OutOrStdout(), format, results); err != nil {
				return err
			}
			if migrateErr != nil {
				return fmt.Errorf("%w (%d skipped)", migrateErr, report.Skipped)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would change without writing")
	cmd.Flags().BoolVar(&opts.VerifyFirst, "verify-first", false, "skip files whose content no longer matches")
	return cmd
}
