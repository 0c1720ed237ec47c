package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fleetshift/apigw-reconciler/internal/application"
	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [api-id [stage]]",
	Short: "Reconcile every declared stage, or the stages of one API",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		inputs, err := selectInputs(e, args)
		if err != nil {
			return err
		}
		results, err := e.service.ReconcileAll(ctx, inputs, opts.concurrency)
		if printErr := printResults(cmd.OutOrStdout(), results); printErr != nil {
			return printErr
		}
		return err
	},
}

var planCmd = &cobra.Command{
	Use:   "plan api-id stage",
	Short: "Show what a reconcile would change without changing it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		in, err := e.file.Input(args[0], args[1])
		if err != nil {
			return err
		}
		plan, err := e.service.Plan(ctx, in)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history api-id stage",
	Short: "List the recorded passes of a stage, newest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		recs, err := e.service.History(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd, planCmd, historyCmd)
}

// selectInputs narrows the declared inputs to the API (and stage) named
// by args.
func selectInputs(e *env, args []string) ([]domain.ReconcileInput, error) {
	switch len(args) {
	case 2:
		in, err := e.file.Input(args[0], args[1])
		if err != nil {
			return nil, err
		}
		return []domain.ReconcileInput{in}, nil
	case 1:
		var out []domain.ReconcileInput
		for _, in := range e.file.Inputs() {
			if in.APIID == args[0] {
				out = append(out, in)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("api %q declares no stages: %w", args[0], domain.ErrNotFound)
		}
		return out, nil
	}
	return e.file.Inputs(), nil
}

type pairOutput struct {
	APIID  string                       `json:"api_id"`
	Stage  string                       `json:"stage"`
	Result *application.ReconcileResult `json:"result,omitempty"`
	Error  string                       `json:"error,omitempty"`
}

func printResults(w io.Writer, results []application.PairResult) error {
	out := make([]pairOutput, 0, len(results))
	for _, r := range results {
		p := pairOutput{APIID: r.Input.APIID, Stage: r.Input.StageName, Result: r.Result}
		if r.Err != nil {
			p.Error = r.Err.Error()
		}
		out = append(out, p)
	}
	return printJSON(w, out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
