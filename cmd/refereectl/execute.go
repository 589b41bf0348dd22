package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/refereehq/referee/core/editor"
	"github.com/refereehq/referee/core/executor"
	sdk "github.com/refereehq/referee/sdk/client"
	"github.com/spf13/cobra"
)

const defaultExecutionPoll = 2 * time.Second

type executeFlags struct {
	scope      string
	control    string
	experiment string
	location   string
	start      string
	end        string
	step       int64
	pass       float64
	marginal   float64
	wait       bool
	poll       time.Duration
}

func (f executeFlags) request() (executor.Request, error) {
	start, err := time.Parse(time.RFC3339, f.start)
	if err != nil {
		return executor.Request{}, fmt.Errorf("--start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, f.end)
	if err != nil {
		return executor.Request{}, fmt.Errorf("--end: %w", err)
	}
	scope := func(name string) executor.Scope {
		return executor.Scope{Scope: name, Location: f.location, Start: start, End: end, Step: f.step}
	}
	return executor.Request{
		Scopes: map[string]executor.ScopePair{
			f.scope: {Control: scope(f.control), Experiment: scope(f.experiment)},
		},
		Thresholds: executor.Thresholds{Pass: f.pass, Marginal: f.marginal},
	}, nil
}

func buildExecuteCmd(remote *remoteFlags) *cobra.Command {
	var flags executeFlags
	cmd := &cobra.Command{
		Use:   "execute <session-id>",
		Short: "Run a canary analysis of a session's config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			client := newClient(remote)
			res, err := client.Execute(cmd.Context(), args[0], req)
			if err != nil {
				var invalid *sdk.InvalidConfigError
				if errors.As(err, &invalid) {
					errs := invalid.State.Errors
					for _, field := range editor.SortedFields(errs) {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s [%s] %s\n", field, invalid.State.ErrorCodes[field], errs[field])
					}
				}
				return err
			}
			if !flags.wait {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), res.ExecutionID)
				return err
			}
			exec, err := waitExecution(cmd.Context(), client, res.ExecutionID, flags.poll)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), exec)
		},
	}
	cmd.Flags().StringVar(&flags.scope, "scope", "default", "scope name referenced by metrics")
	cmd.Flags().StringVar(&flags.control, "control", "", "baseline scope")
	cmd.Flags().StringVar(&flags.experiment, "experiment", "", "canary scope")
	cmd.Flags().StringVar(&flags.location, "location", "", "scope location, e.g. a region")
	cmd.Flags().StringVar(&flags.start, "start", "", "interval start (RFC3339)")
	cmd.Flags().StringVar(&flags.end, "end", "", "interval end (RFC3339)")
	cmd.Flags().Int64Var(&flags.step, "step", 60, "sample step in seconds")
	cmd.Flags().Float64Var(&flags.pass, "pass", 95, "minimum score to pass")
	cmd.Flags().Float64Var(&flags.marginal, "marginal", 75, "minimum score to be marginal")
	cmd.Flags().BoolVar(&flags.wait, "wait", false, "poll until the analysis completes")
	cmd.Flags().DurationVar(&flags.poll, "poll", defaultExecutionPoll, "poll interval with --wait")
	_ = cmd.MarkFlagRequired("control")
	_ = cmd.MarkFlagRequired("experiment")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func waitExecution(ctx context.Context, client *sdk.Client, id string, poll time.Duration) (*executor.Execution, error) {
	if poll <= 0 {
		poll = defaultExecutionPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		exec, err := client.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec.Complete {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
