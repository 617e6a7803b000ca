package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/fpwarden/internal/config"
	"github.com/xkilldash9x/fpwarden/internal/observability"
	"github.com/xkilldash9x/fpwarden/internal/warmup"
)

func newWarmupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warmup",
		Short: "Plan and inspect warm-up batches.",
	}
	cmd.AddCommand(newWarmupPlanCmd())
	cmd.AddCommand(newWarmupStatusCmd())
	cmd.AddCommand(newWarmupTransitionCmd("start", warmup.BatchRunning))
	cmd.AddCommand(newWarmupTransitionCmd("pause", warmup.BatchPaused))
	cmd.AddCommand(newWarmupTransitionCmd("resume", warmup.BatchRunning))
	cmd.AddCommand(newWarmupTransitionCmd("cancel", warmup.BatchCancelled))
	return cmd
}

func newWarmupTransitionCmd(verb, target string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <batch-id>",
		Short: fmt.Sprintf("Move a batch to the %s state.", target),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid batch id %q: %w", args[0], err)
			}

			store, err := openWarmupStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			planner := warmup.NewPlanner(store, config.Get().Warmup, 0, observability.GetLogger())
			if err := planner.Transition(cmd.Context(), batchID, target); err != nil {
				return err
			}
			fmt.Printf("batch %d -> %s\n", batchID, target)
			return nil
		},
	}
}

func openWarmupStore(cmd *cobra.Command) (*warmup.Store, error) {
	store, err := warmup.NewStore(config.Get().Warmup.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(cmd.Context()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newWarmupPlanCmd() *cobra.Command {
	var (
		batchName string
		seed      int64
	)

	cmd := &cobra.Command{
		Use:   "plan <profile-id>...",
		Short: "Generate a staggered warm-up schedule for the given profiles.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWarmupStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			planner := warmup.NewPlanner(store, config.Get().Warmup, seed, observability.GetLogger())
			batchID, schedule, err := planner.Plan(cmd.Context(), batchName, args)
			if err != nil {
				return err
			}

			fmt.Printf("batch %d: %d session(s)\n", batchID, len(schedule))
			for _, entry := range schedule {
				fmt.Printf("  +%6.1f min  %-14s %-13s %2d min  likes=%d follows=%d\n",
					entry.StartOffsetMin, entry.ProfileID, entry.SessionType,
					entry.DurationMin, entry.Actions["likes"], entry.Actions["follows"])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchName, "name", "", "batch name (defaults to a timestamp)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "schedule randomness seed (0 uses the clock)")
	return cmd
}

func newWarmupStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show a batch's lifecycle state and session progress.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid batch id %q: %w", args[0], err)
			}

			store, err := openWarmupStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			planner := warmup.NewPlanner(store, config.Get().Warmup, 0, observability.GetLogger())
			status, err := planner.Status(cmd.Context(), batchID)
			if err != nil {
				return err
			}

			b := status.Batch
			fmt.Printf("batch %d %q: %s (%d profiles, %d min total)\n",
				b.ID, b.Name, b.Status, b.ProfilesCount, b.TotalDurationMinutes)
			for _, s := range []string{warmup.SessionPending, warmup.SessionRunning, warmup.SessionCompleted, warmup.SessionFailed} {
				if n := status.Sessions[s]; n > 0 {
					fmt.Printf("  %-10s %d\n", s, n)
				}
			}
			return nil
		},
	}
}
