package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/isdmx/testbot/master"
	"github.com/isdmx/testbot/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "testbot",
		Short:        "Distributed test-execution worker",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "",
		"path to the config file (default: config.yaml in . or ./config)")

	root.AddCommand(newRunCommand(&configFile), newServeCommand(&configFile))
	return root
}

type runFlags struct {
	kind         string
	submissionID int64
	configID     int64
	workID       string
}

func newRunCommand(configFile *string) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute exactly one job and report its outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, *configFile, flags)
		},
	}
	cmd.Flags().StringVar(&flags.kind, "kind", "", "job kind (run-script, docker, anti-plagiarism, file-exists)")
	cmd.Flags().Int64Var(&flags.submissionID, "submission", 0, "submission id")
	cmd.Flags().Int64Var(&flags.configID, "config-id", 0, "test configuration id")
	cmd.Flags().StringVar(&flags.workID, "work-id", "", "work id (a random UUID when empty)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("submission")
	_ = cmd.MarkFlagRequired("config-id")
	return cmd
}

func runJob(cmd *cobra.Command, configFile string, flags runFlags) error {
	if flags.submissionID <= 0 || flags.configID <= 0 {
		return fmt.Errorf("submission and config-id must be positive")
	}
	ref := master.JobRef{
		SubmissionID: flags.submissionID,
		TestConfigID: flags.configID,
		WorkID:       flags.workID,
	}
	if ref.WorkID == "" {
		ref.WorkID = uuid.NewString()
	}

	var adapter *worker.Adapter
	app := fx.New(coreOptions(configFile), fx.Populate(&adapter))
	if err := app.Err(); err != nil {
		return err
	}

	ctx := cmd.Context()
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	outcome, handleErr := adapter.Handle(ctx, master.Kind(flags.kind), ref)

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
	defer cancelStop()
	stopErr := app.Stop(stopCtx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return err
	}

	if err := errors.Join(handleErr, stopErr); err != nil {
		return err
	}
	if outcome.FinalState != master.StateSuccess {
		return fmt.Errorf("job %s failed: %s: %s", ref.WorkID, outcome.ErrorKind, outcome.Message)
	}
	return nil
}

func newServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume jobs from the queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configFile)
		},
	}
}

func serve(ctx context.Context, configFile string) error {
	app := fx.New(serveOptions(configFile))
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	select {
	case <-app.Done():
	case <-ctx.Done():
	}

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
	defer cancelStop()
	return app.Stop(stopCtx)
}
