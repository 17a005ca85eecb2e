package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smartshark/issuesync/internal/config"
	"github.com/smartshark/issuesync/internal/logging"
	"github.com/smartshark/issuesync/internal/telemetry"
	"github.com/smartshark/issuesync/internal/ui"

	// Tracker adapters register themselves with the tracker registry.
	_ "github.com/smartshark/issuesync/internal/bugzilla"
	_ "github.com/smartshark/issuesync/internal/github"
	_ "github.com/smartshark/issuesync/internal/jira"
)

// errRunFailed is returned after the summary of a batch with failed runs has
// been printed.
var errRunFailed = errors.New("sync failed")

// session holds what PersistentPreRunE sets up for the subcommands.
type session struct {
	configFile string
	logFile    string
	logFormat  string
	jsonOutput bool

	log       *logrus.Logger
	logCloser io.Closer
	telemetry bool
}

func (s *session) close() {
	if s.telemetry {
		telemetry.Shutdown(context.Background())
		s.telemetry = false
	}
	if s.logCloser != nil {
		_ = s.logCloser.Close()
		s.logCloser = nil
	}
}

func newRootCmd(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:   "issuesync",
		Short: "issuesync - collect issue tracker history into a versioned store",
		Long: `issuesync mirrors the issues of a GitHub, Jira or Bugzilla tracker into a
store, reconstructing every past state of each issue from its change log.

Every run opens a new generation of the tracker's issue system; issues that
did not change since the previous generation are shared, not copied.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&s.configFile, "config", "", "Config file (default: ./.issuesync/config.yaml, then ~/.config/issuesync/config.yaml)")
	root.PersistentFlags().StringVar(&s.logFile, "log-file", "", "Also write the log to this file, rotated")
	root.PersistentFlags().StringVar(&s.logFormat, "log-format", "auto", "Log format: text, json or auto")
	root.PersistentFlags().BoolVar(&s.jsonOutput, "json", false, "Output in JSON format")

	root.AddCommand(newRunCmd(s), newProjectCmd(s), newConfigCmd(s), newVersionCmd(s))
	return root
}

// setup reads the configuration, binds the command's flags to it, builds the
// logger and starts telemetry.
func (s *session) setup(cmd *cobra.Command) error {
	if err := config.Initialize(s.configFile); err != nil {
		return err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr == nil {
			bindErr = config.BindPFlag(f.Name, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	log, closer, err := logging.New(logging.Options{
		Level:  config.GetString("debug"),
		Format: config.GetString("log-format"),
		File:   config.GetString("log-file"),
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	s.log, s.logCloser = log, closer
	ui.ConfigureColor()
	if used := config.ConfigFileUsed(); used != "" {
		log.WithField("file", used).Debug("loaded config file")
	}

	if err := telemetry.Init(cmd.Context(), "issuesync", Version); err != nil {
		log.WithError(err).Warn("telemetry disabled")
		return nil
	}
	s.telemetry = telemetry.Enabled()
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	s := &session{}
	err := newRootCmd(s).ExecuteContext(ctx)
	stop()
	s.close()
	if err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, ui.RenderFail("Error: "+err.Error()))
		}
		os.Exit(1)
	}
}
