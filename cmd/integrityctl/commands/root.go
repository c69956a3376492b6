// Package commands implements the integrityctl CLI.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// app carries the state shared by the commands of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	output  string
	cfg     *Config
}

// NewRootCmd builds the command tree. Each call returns an independent tree
// with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "integrityctl",
		Short: "Manage content digests stored in extended attributes",
		Long: `integrityctl protects files below a root directory with content
digests kept in extended attributes (or a badger sidecar database), and
verifies them later.

Use "integrityctl [command] --help" for more information about a command.

Environment Variables:
  Every configuration key can be overridden with INTEGRITYCTL_<KEY>,
  using underscores for nested keys, e.g. INTEGRITYCTL_LOGGING_LEVEL=DEBUG.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/integrityctl/config.yaml)")
	flags.StringVarP(&a.output, "output", "o", "table", "Output format (table|json|yaml)")
	flags.String("root", "", "directory whose files are protected")
	flags.String("backend", "", "attribute backend (xattr|badger)")
	flags.String("store-dir", "", "badger database directory")
	flags.Bool("algorithm-attr", false, "enable per-path algorithms")
	_ = a.v.BindPFlag("root", flags.Lookup("root"))
	_ = a.v.BindPFlag("backend", flags.Lookup("backend"))
	_ = a.v.BindPFlag("store_dir", flags.Lookup("store-dir"))
	_ = a.v.BindPFlag("algorithm_attr", flags.Lookup("algorithm-attr"))

	root.AddCommand(
		newVersionCmd(),
		newProtectCmd(a),
		newUnprotectCmd(a),
		newVerifyCmd(a),
		newAuditCmd(a),
		newAlgoCmd(a),
		newGetCmd(a),
	)
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// Execute runs the CLI with os.Args
func Execute() error {
	return NewRootCmd().Execute()
}

// open loads the configuration and opens the integrity layer. The caller
// must Close the session.
func (a *app) open(cmd *cobra.Command) (*session, Format, error) {
	format, err := ParseFormat(a.output)
	if err != nil {
		return nil, "", err
	}
	if a.cfg == nil {
		cfg, err := loadConfig(a.v, a.cfgFile)
		if err != nil {
			return nil, "", err
		}
		a.cfg = cfg
	}
	s, err := openSession(a.cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, "", err
	}
	return s, format, nil
}
