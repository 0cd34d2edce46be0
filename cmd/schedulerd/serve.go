package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conveyor-ci/conveyor/pkg/config"
	"github.com/conveyor-ci/conveyor/pkg/control"
	"github.com/conveyor-ci/conveyor/pkg/executor"
	"github.com/conveyor-ci/conveyor/pkg/gitrunner"
	"github.com/conveyor-ci/conveyor/pkg/logging"
	"github.com/conveyor-ci/conveyor/pkg/merger"
	"github.com/conveyor-ci/conveyor/pkg/model"
	"github.com/conveyor-ci/conveyor/pkg/mutex"
	"github.com/conveyor-ci/conveyor/pkg/nodepool"
	"github.com/conveyor-ci/conveyor/pkg/schedevent"
	"github.com/conveyor-ci/conveyor/pkg/scheduler"
	"github.com/conveyor-ci/conveyor/pkg/source"
	"github.com/conveyor-ci/conveyor/pkg/source/bitbucket"
	"github.com/conveyor-ci/conveyor/pkg/source/gitea"
	"github.com/conveyor-ci/conveyor/pkg/source/github"
	"github.com/conveyor-ci/conveyor/pkg/source/gitlab"
	"github.com/conveyor-ci/conveyor/pkg/statsrecorder"
	"github.com/conveyor-ci/conveyor/pkg/timedb"
	"github.com/conveyor-ci/conveyor/pkg/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func buildConnection(c config.ConnectionConfig) (source.Adapter, error) {
	token := os.Getenv(c.TokenEnv)
	switch c.Driver {
	case "github":
		return github.New(c.Name, token, c.BaseURL, c.Hostname)
	case "gitlab":
		return gitlab.New(c.Name, token, c.BaseURL, c.Hostname)
	case "bitbucket":
		return bitbucket.New(c.Name, os.Getenv(c.UsernameEnv), token, c.Hostname)
	case "gitea":
		return gitea.New(c.Name, token, c.BaseURL, c.Hostname)
	default:
		return nil, fmt.Errorf("schedulerd: unknown connection driver %q for connection %q", c.Driver, c.Name)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")
	log, err := logging.New(logging.Config{Verbose: verbose, JSON: jsonLogs})
	if err != nil {
		return fmt.Errorf("schedulerd: building logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck // best-effort flush on exit

	adapters := make([]source.Adapter, 0, len(settings.Connections))
	for _, c := range settings.Connections {
		adapter, err := buildConnection(c)
		if err != nil {
			return err
		}
		adapters = append(adapters, source.NewCachingAdapter(adapter))
		log.Infow("configured source connection", "name", c.Name, "driver", c.Driver)
	}
	registry := source.NewRegistry(adapters...)

	resolve := func(ctx context.Context, sourceName, projectName string) (*model.Project, error) {
		adapter, err := registry.Get(sourceName)
		if err != nil {
			return nil, err
		}
		return adapter.GetProject(ctx, projectName)
	}
	loader := config.NewLoader(settings.TenantsDir, resolve)

	gitDir := filepath.Join(settings.StateDir, "git")
	merge := merger.New(gitrunner.New(gitDir))

	dispatcher, err := executor.NewCloudEventDispatcher(settings.ExecutorURL, "conveyor-scheduler")
	if err != nil {
		return err
	}
	bounded := executor.NewBoundedDispatcher(dispatcher, int64(settings.MaxOutstanding))

	nodes := make([]model.Node, 0, len(settings.Nodes))
	for _, n := range settings.Nodes {
		nodes = append(nodes, model.Node{Name: n.Name, Labels: n.Labels})
	}
	pool := nodepool.NewTracker(nodepool.NewStaticPool(nodes))

	stats := statsrecorder.New()
	timeDir := filepath.Join(settings.StateDir, "times")
	timeDB, err := timedb.Open(timeDir)
	if err != nil {
		return fmt.Errorf("schedulerd: opening time database: %w", err)
	}

	sched := scheduler.New(log, scheduler.Dependencies{
		Mutex:      mutex.New(log),
		Merger:     merge,
		Dispatcher: bounded,
		Nodes:      pool,
		Sources:    registry,
		Log:        log,
		TimeDB:     timeDB,
		Stats:      stats,
	}, loader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver, err := executor.NewReceiver(settings.ExecutorReceive, sched.EnqueueResult)
	if err != nil {
		return err
	}
	go func() {
		if err := receiver.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Errorw("executor result receiver stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", stats.Handler())
	for _, c := range settings.Connections {
		if c.Driver != "github" {
			continue // webhook.Handler only decodes GitHub payload shapes today
		}
		mux.Handle("/webhook/"+c.Name, webhook.New(c.Name, c.Hostname, c.WebhookSecret, sched, sched.TenantForProject, log))
	}
	httpServer := &http.Server{Addr: settings.ListenAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http server stopped", "error", err)
		}
	}()

	periodic := scheduler.NewPeriodicRunner(sched)

	controlServer := control.NewServer(sched, periodic, log, cancel)
	if err := controlServer.Listen(settings.ControlSocket); err != nil {
		return err
	}
	go func() {
		if err := controlServer.Serve(); err != nil {
			log.Errorw("control server stopped", "error", err)
		}
	}()

	go func() { _ = sched.Run(ctx) }()

	if err := sched.EnqueueManagement(ctx, schedevent.NewReconfigureEvent()); err != nil {
		return fmt.Errorf("schedulerd: initial reconfigure: %w", err)
	}
	if err := periodic.Start(); err != nil {
		return fmt.Errorf("schedulerd: starting periodic triggers: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Infow("received signal, shutting down", "signal", s.String())
	case <-ctx.Done():
		log.Infow("shutting down via control exit request")
	}

	cancel()
	periodic.Stop()
	_ = controlServer.Close()
	_ = httpServer.Close()
	return nil
}
