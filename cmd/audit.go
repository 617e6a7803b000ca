package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/engine"
)

func newAuditCmd() *cobra.Command {
	var (
		all           bool
		root          string
		repair        bool
		checkCountry  bool
		detailsOutput bool
	)

	cmd := &cobra.Command{
		Use:   "audit [namespace.json]",
		Short: "Audit fingerprint consistency of one namespace record, or all under a profiles root.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := newAuditStack()
			if err != nil {
				return err
			}

			var opts *schemas.ConsistencyOptions
			if checkCountry {
				ignore := false
				opts = &schemas.ConsistencyOptions{IgnoreGeoCountry: &ignore}
			}

			if !all {
				if len(args) != 1 {
					return fmt.Errorf("namespace path required unless --all is set")
				}
				return auditOne(stack, args[0], opts, repair, detailsOutput)
			}

			paths, err := stack.store.ListNamespaces(root)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				fmt.Fprintf(os.Stderr, "no namespace records found under %s\n", root)
				return nil
			}
			return auditAll(cmd, stack, paths, opts, repair)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "audit every namespace record under the profiles root")
	cmd.Flags().StringVar(&root, "root", "profiles", "profiles root directory for --all")
	cmd.Flags().BoolVar(&repair, "repair", false, "run the repair pass before each audit")
	cmd.Flags().BoolVar(&checkCountry, "check-country", false, "score IP-vs-resolved country mismatches instead of ignoring them")
	cmd.Flags().BoolVar(&detailsOutput, "details", false, "print the full result JSON instead of a summary line")
	return cmd
}

func auditOne(stack *auditStack, path string, opts *schemas.ConsistencyOptions, repair, details bool) error {
	ctx := rootCmd.Context()
	if repair {
		changes, err := stack.normalizer.Normalize(ctx, path)
		if err != nil {
			return err
		}
		if len(changes) > 0 {
			fmt.Printf("repaired %s: %d change(s)\n", path, len(changes))
		}
	}

	result, err := stack.orchestrator.Audit(ctx, path, opts)
	if err != nil {
		return err
	}

	if details {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Printf("%s  score=%d verdict=%s\n", path, result.Score, result.Verdict)
	return nil
}

func auditAll(cmd *cobra.Command, stack *auditStack, paths []string, opts *schemas.ConsistencyOptions, repair bool) error {
	eng := engine.New(stack.cfg.Engine, stack.orchestrator, stack.normalizer, stack.logger)

	tasks := make(chan engine.Task)
	results := make(chan engine.Outcome, len(paths))
	eng.Start(cmd.Context(), tasks, results)

	go func() {
		for _, p := range paths {
			tasks <- engine.Task{Path: p, Options: opts, Repair: repair}
		}
		close(tasks)
	}()

	eng.Stop()
	close(results)

	failures := 0
	for outcome := range results {
		if outcome.Err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "%s  FAILED: %v\n", outcome.Path, outcome.Err)
			continue
		}
		fmt.Printf("%s  score=%d verdict=%s\n", outcome.Path, outcome.Result.Score, outcome.Result.Verdict)
	}

	stack.logger.Info("Bulk audit finished",
		zap.Int("profiles", len(paths)), zap.Int("failures", failures))
	if failures > 0 {
		return fmt.Errorf("%d of %d audits failed", failures, len(paths))
	}
	return nil
}
