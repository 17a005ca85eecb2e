package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smartshark/issuesync/internal/config"
	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/storage/factory"
	"github.com/smartshark/issuesync/internal/syncer"
	"github.com/smartshark/issuesync/internal/telemetry"
	"github.com/smartshark/issuesync/internal/timeparsing"
	"github.com/smartshark/issuesync/internal/tracker"
	"github.com/smartshark/issuesync/internal/types"
	"github.com/smartshark/issuesync/internal/ui"
)

func newRunCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync one project's issue tracker into the store",
		Long: `Sync the issues of one tracker into the store as a new generation.

With --batch, runs every entry of a YAML or TOML file; flags given on the
command line fill the fields an entry leaves empty.

Examples:
  issuesync run -n zookeeper -b jira \
    -i "https://issues.apache.org/jira/rest/api/2/search?jql=project=ZOOKEEPER"
  issuesync run -n guava -b github -t $GITHUB_TOKEN \
    -i https://api.github.com/repos/google/guava/issues --since 30d
  issuesync run --batch runs.yaml --parallel 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.runSync(cmd)
		},
	}

	f := cmd.Flags()
	f.StringP("project-name", "n", "", "Name of the project in the store (required)")
	f.StringP("issueurl", "i", "", "Tracking URL of the issue system (required)")
	f.StringP("backend", "b", "github", "Tracker backend: "+strings.Join(tracker.List(), ", "))
	f.StringP("token", "t", "", "API token (GitHub, Bugzilla)")
	f.String("issue-user", "", "Tracker user")
	f.String("issue-password", "", "Tracker password")
	f.String("proxy-host", "", "HTTP proxy host")
	f.String("proxy-port", "", "HTTP proxy port")
	f.String("proxy-user", "", "HTTP proxy user")
	f.String("proxy-password", "", "HTTP proxy password")
	f.String("debug", "DEBUG", "Log level: DEBUG, INFO, WARNING, ERROR or CRITICAL")
	f.String("since", "", "Only fetch issues updated since (e.g. 7d, 2024-01-31, \"last month\")")
	f.Int("page-size", syncer.DefaultPageSize, "Issues requested per page")
	f.Bool("dry-run", false, "Sync into a throwaway in-memory store")
	f.String("batch", "", "YAML or TOML file listing several runs")
	f.Int("parallel", 1, "Runs of a batch executed at the same time")
	f.String("db-driver", "sqlite", "Store backend: "+strings.Join(factory.Backends(), ", "))
	f.String("db-dsn", "issuesync.db", "Store data source name")
	return cmd
}

func (s *session) runSync(cmd *cobra.Command) error {
	ctx := cmd.Context()
	runs, err := loadRuns()
	if err != nil {
		return err
	}

	now := time.Now()
	since := make([]*time.Time, len(runs))
	for i, r := range runs {
		if !tracker.IsRegistered(r.Backend) {
			return fmt.Errorf("%w: unknown backend %q (supported: %s)",
				config.ErrInvalid, r.Backend, strings.Join(tracker.List(), ", "))
		}
		if r.Since == "" {
			continue
		}
		c, err := timeparsing.Parse(r.Since, now)
		if err != nil {
			return fmt.Errorf("%w: --since %q: %v", config.ErrInvalid, r.Since, err)
		}
		s.log.WithFields(logrus.Fields{"since": c.Time.Format(time.RFC3339), "layer": c.Layer.String()}).
			Debug("cursor override")
		since[i] = &c.Time
	}

	dryRun := config.GetBool("dry-run")
	store, err := s.openStore(ctx, dryRun)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if dryRun {
		for _, r := range runs {
			if _, err := ensureProject(ctx, store, r.Project); err != nil {
				return err
			}
		}
	}

	out := cmd.ErrOrStderr()
	engines := make([]*syncer.Engine, 0, len(runs))
	for i, r := range runs {
		adapter, err := tracker.New(r.Backend)
		if err != nil {
			return err
		}
		defer func() { _ = adapter.Close() }()

		s.log.WithField("settings", r.String()).Debug("configured run")
		engine := syncer.New(syncer.Options{
			Project:  r.Project,
			Adapter:  adapter,
			Tracker:  r.TrackerConfig(s.log),
			Store:    store,
			Since:    since[i],
			PageSize: r.PageSize,
			Log:      s.log,
		})
		project := r.Project
		engine.OnMessage = func(msg string) {
			fmt.Fprintf(out, "%s %s\n", ui.RenderAccent(project), ui.RenderMuted(msg))
		}
		engine.OnWarning = func(msg string) {
			fmt.Fprintf(out, "%s %s %s\n", ui.RenderAccent(project), ui.WarnStyle.Render(ui.IconWarn), ui.RenderWarn(msg))
		}
		engines = append(engines, engine)
	}

	outcomes := syncer.RunBatch(ctx, engines, config.GetInt("parallel"))
	if s.jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), outcomeReports(outcomes)); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderOutcomes(outcomes))
	}

	for _, o := range syncer.Failures(outcomes) {
		if errors.Is(o.Err, syncer.ErrUnknownProject) {
			fmt.Fprintf(out, "hint: create it with 'issuesync project add %s'\n", o.Project)
		}
	}
	if len(syncer.Failures(outcomes)) > 0 {
		return errRunFailed
	}
	return nil
}

// loadRuns returns the validated settings of every run: the entries of the
// batch file, or the single run described by flags and config.
func loadRuns() ([]*config.Settings, error) {
	base := config.Load()
	if path := config.GetString("batch"); path != "" {
		return config.LoadBatch(path, base)
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return []*config.Settings{base}, nil
}

func (s *session) openStore(ctx context.Context, dryRun bool) (storage.Storage, error) {
	driver, dsn := config.GetString("db-driver"), config.GetString("db-dsn")
	if dryRun {
		driver, dsn = "memory", ""
	}
	store, err := factory.NewWithOptions(ctx, driver, dsn, factory.Options{
		CommitterName:  "issuesync",
		CommitterEmail: "issuesync@localhost",
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	s.log.WithField("driver", driver).Debug("opened store")
	if s.telemetry {
		store = telemetry.WrapStorage(store)
	}
	return store, nil
}

// ensureProject returns the named project, creating it when missing.
func ensureProject(ctx context.Context, store storage.Storage, name string) (*types.Project, error) {
	p, err := store.GetProjectByName(ctx, name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("look up project %q: %w", name, err)
	}
	p = &types.Project{Name: name}
	if err := store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project %q: %w", name, err)
	}
	return p, nil
}

type outcomeReport struct {
	Project      string       `json:"project"`
	URL          string       `json:"url"`
	Outcome      string       `json:"outcome"`
	Error        string       `json:"error,omitempty"`
	GenerationID string       `json:"generation_id,omitempty"`
	Stats        syncer.Stats `json:"stats"`
}

func outcomeReports(outcomes []syncer.Outcome) []outcomeReport {
	reports := make([]outcomeReport, len(outcomes))
	for i, o := range outcomes {
		reports[i] = outcomeReport{
			Project:      o.Project,
			URL:          o.URL,
			Outcome:      o.Kind.String(),
			GenerationID: o.GenerationID,
			Stats:        o.Stats,
		}
		if o.Err != nil {
			reports[i].Error = o.Err.Error()
		}
	}
	return reports
}
