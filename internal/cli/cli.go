package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zfstools/zfstools/internal/config"
	"github.com/zfstools/zfstools/internal/logger"
	"github.com/zfstools/zfstools/internal/logging"
	"github.com/zfstools/zfstools/internal/monitoring"
)

var rootArgs struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "zfstools",
	Short: "replicate ZFS snapshots between hosts",
}

var bashcompCmd = &cobra.Command{
	Use:   "bashcomp path/to/out/file",
	Short: "generate bash completions",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			fmt.Fprintf(os.Stderr, "specify exactly one positional agument\n")
			cmd.Usage()
			os.Exit(1)
		}
		if err := rootCmd.GenBashCompletionFile(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "error generating bash completion: %s", err)
			os.Exit(1)
		}
	},
	Hidden: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootArgs.configPath, "config", "", "config file path")
	rootCmd.AddCommand(bashcompCmd)
}

type Subcommand struct {
	Use     string
	Short   string
	Example string
	Hidden  bool
	// NoRequireConfig subcommands run without config, logging and monitoring if the config cannot be parsed.
	NoRequireConfig bool
	// SkipConfig subcommands never read the config file.
	SkipConfig bool
	// DisableFlagParsing passes all arguments to Run unparsed.
	DisableFlagParsing bool
	Run                func(ctx context.Context, subcommand *Subcommand, args []string) error
	SetupFlags         func(f *pflag.FlagSet)
	SetupSubcommands   func() []*Subcommand

	config    *config.Config
	configErr error
}

func (s *Subcommand) ConfigParsingError() error {
	return s.configErr
}

func (s *Subcommand) Config() *config.Config {
	if !s.NoRequireConfig && !s.SkipConfig && s.config == nil {
		panic("command that requires config is running and has no config set")
	}
	return s.config
}

func (s *Subcommand) run(cmd *cobra.Command, args []string) {
	if !s.SkipConfig {
		s.tryParseConfig()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := s.runWithConfig(ctx, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

func (s *Subcommand) runWithConfig(ctx context.Context, args []string) error {
	if s.config == nil {
		return s.Run(ctx, s, args)
	}

	outlets, err := logging.OutletsFromConfig(*s.config.Global.Logging)
	if err != nil {
		return errors.Wrap(err, "cannot build logging from config")
	}
	log := logger.NewLogger(outlets, 1*time.Second)
	ctx = logging.WithLoggers(ctx, logging.SubsystemLoggersWithUniversalLogger(log))

	exporters, err := monitoring.FromConfig(s.config.Global.Monitoring)
	if err != nil {
		return errors.Wrap(err, "cannot build monitoring from config")
	}
	return monitoring.Run(ctx, exporters, monitoring.NewRegistry(), func(ctx context.Context) error {
		return s.Run(ctx, s, args)
	})
}

func (s *Subcommand) tryParseConfig() {
	config, err := LoadConfig(rootArgs.configPath)
	s.configErr = err
	if err != nil {
		if s.NoRequireConfig {
			// doesn't matter
			return
		} else {
			fmt.Fprintf(os.Stderr, "could not parse config: %s\n", err)
			os.Exit(1)
		}
	}
	s.config = config
}

// LoadConfig parses the config file at path. If path is empty and there is
// no config file at the default locations, the default config is returned.
func LoadConfig(path string) (*config.Config, error) {
	c, err := config.ParseConfig(path)
	if err == config.ErrNoConfigFile {
		return config.DefaultConfig(), nil
	}
	return c, err
}

func AddSubcommand(s *Subcommand) {
	addSubcommandToCobraCmd(rootCmd, s)
}

func addSubcommandToCobraCmd(c *cobra.Command, s *Subcommand) {
	cmd := cobra.Command{
		Use:                s.Use,
		Short:              s.Short,
		Example:            s.Example,
		Hidden:             s.Hidden,
		DisableFlagParsing: s.DisableFlagParsing,
	}
	if s.SetupSubcommands == nil {
		cmd.Run = s.run
	} else {
		for _, sub := range s.SetupSubcommands() {
			addSubcommandToCobraCmd(&cmd, sub)
		}
	}
	if s.SetupFlags != nil {
		s.SetupFlags(cmd.Flags())
	}
	c.AddCommand(&cmd)
}

func Run() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
