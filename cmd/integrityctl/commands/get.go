package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/absfs/integrityfs"
	"github.com/spf13/cobra"
)

// PathStatus is the integrity state of one path
type PathStatus struct {
	Path      string `json:"path" yaml:"path"`
	Protected bool   `json:"protected" yaml:"protected"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Digest    string `json:"digest,omitempty" yaml:"digest,omitempty"`
	Result    string `json:"result" yaml:"result"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// PathStatuses renders as a table
type PathStatuses []PathStatus

func (s PathStatuses) Headers() []string {
	return []string{"Path", "Protected", "Algorithm", "Digest", "Result"}
}

func (s PathStatuses) Rows() [][]string {
	rows := make([][]string, 0, len(s))
	for _, st := range s {
		digest := st.Digest
		if digest == "" {
			digest = "-"
		}
		result := st.Result
		if st.Error != "" {
			result = st.Error
		}
		rows = append(rows, []string{st.Path, boolToYesNo(st.Protected), st.Algorithm, digest, result})
	}
	return rows
}

func boolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// statusOf collects the state of p. Errors end up in the Error field.
func statusOf(fs *integrityfs.IntegrityFS, p string) PathStatus {
	st := PathStatus{Path: p}

	protected, err := fs.IsProtected(p)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Protected = protected

	if st.Algorithm, err = fs.Algorithm(p); err != nil {
		st.Error = err.Error()
		return st
	}
	if digest, err := fs.Digest(p); err == nil {
		st.Digest = hex.EncodeToString(digest)
	} else if !integrityfs.IsNotFound(err) {
		st.Error = err.Error()
		return st
	}

	res, err := fs.Check(p)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Result = res.String()
	return st
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH...",
		Short: "Show the protection state, algorithm and digest of each path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, format, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			statuses := make(PathStatuses, 0, len(args))
			failed := 0
			for _, p := range args {
				st := statusOf(s.fs, p)
				if st.Error != "" {
					failed++
				}
				statuses = append(statuses, st)
			}
			if err := printResult(cmd.OutOrStdout(), format, statuses); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d paths failed", failed, len(args))
			}
			return nil
		},
	}
}
