package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conveyor-ci/conveyor/pkg/control"
)

func controlClient(cmd *cobra.Command) (*control.Client, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return control.NewClient(settings.ControlSocket), nil
}

var reconfigureCmd = &cobra.Command{
	Use:   "reconfigure",
	Short: "Recompile every tenant's configuration on a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient(cmd)
		if err != nil {
			return err
		}
		return client.Reconfigure(context.Background())
	},
}

var tenantReconfigureCmd = &cobra.Command{
	Use:   "tenant-reconfigure <tenant>",
	Short: "Recompile a single tenant's configuration on a running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient(cmd)
		if err != nil {
			return err
		}
		return client.TenantReconfigure(context.Background(), args[0])
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <changeID> [changeID...]",
	Short: "Move changes to the head of a pipeline's shared queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient(cmd)
		if err != nil {
			return err
		}
		tenant, _ := cmd.Flags().GetString("tenant")
		pipeline, _ := cmd.Flags().GetString("pipeline")
		notFound, err := client.Promote(context.Background(), tenant, pipeline, args)
		if err != nil {
			return err
		}
		if len(notFound) > 0 {
			fmt.Printf("not queued in %s/%s: %v\n", tenant, pipeline, notFound)
		}
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <changeKey>",
	Short: "Re-run a queued change's build set from scratch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient(cmd)
		if err != nil {
			return err
		}
		tenant, _ := cmd.Flags().GetString("tenant")
		pipeline, _ := cmd.Flags().GetString("pipeline")
		return client.Enqueue(context.Background(), tenant, pipeline, args[0])
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop a running daemon from advancing queues",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient(cmd)
		if err != nil {
			return err
		}
		return client.Pause(context.Background())
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Undo a previous pause",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient(cmd)
		if err != nil {
			return err
		}
		return client.Resume(context.Background())
	},
}

var exitCmd = &cobra.Command{
	Use:   "exit",
	Short: "Ask a running daemon to shut down gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlClient(cmd)
		if err != nil {
			return err
		}
		return client.Exit(context.Background())
	},
}

func init() {
	promoteCmd.Flags().String("tenant", "", "tenant owning the pipeline (required)")
	promoteCmd.Flags().String("pipeline", "", "pipeline whose queue to reorder (required)")
	_ = promoteCmd.MarkFlagRequired("tenant")
	_ = promoteCmd.MarkFlagRequired("pipeline")

	enqueueCmd.Flags().String("tenant", "", "tenant owning the pipeline (required)")
	enqueueCmd.Flags().String("pipeline", "", "pipeline the change is queued in (required)")
	_ = enqueueCmd.MarkFlagRequired("tenant")
	_ = enqueueCmd.MarkFlagRequired("pipeline")

	rootCmd.AddCommand(reconfigureCmd, tenantReconfigureCmd, promoteCmd, enqueueCmd, pauseCmd, resumeCmd, exitCmd)
}
