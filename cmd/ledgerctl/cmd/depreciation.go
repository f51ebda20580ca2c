package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledger/internal/app"
	"github.com/odyssey-erp/ledger/jobs"
)

var depreciationCmd = &cobra.Command{
	Use:   "depreciation",
	Short: "Run depreciation schedules",
}

var (
	deprPeriod  string
	deprEnqueue bool
)

var depreciationPostCmd = &cobra.Command{
	Use:   "post",
	Short: "Post scheduled depreciation for one month",
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := time.Parse("2006-01", deprPeriod)
		if err != nil {
			return fmt.Errorf("--period must be YYYY-MM")
		}
		if deprEnqueue {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redisOpt, err := jobs.RedisOpt(cfg.RedisAddr)
			if err != nil {
				return err
			}
			client := jobs.NewClient(redisOpt)
			defer client.Close()
			info, err := client.EnqueueDepreciation(cmd.Context(), jobs.DepreciationPayload{Period: deprPeriod, ActorID: flagActor})
			if err != nil {
				return err
			}
			fmt.Printf("Enqueued %s (%s) on %s\n", info.ID, info.Type, info.Queue)
			return nil
		}
		return withServices(cmd.Context(), func(s *app.Services) error {
			result, err := s.Assets.PostMonthlyDepreciation(cmd.Context(), period, flagActor)
			if err != nil {
				return err
			}
			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(result)
			}
			fmt.Printf("Depreciation %s: %d asset(s) posted, %d skipped\n", deprPeriod, result.Posted, len(result.Skipped))
			for _, sk := range result.Skipped {
				fmt.Printf(" - asset %d: %s\n", sk.AssetID, sk.Reason)
			}
			return nil
		})
	},
}

var depreciationScheduleCmd = &cobra.Command{
	Use:   "schedule <asset-id>",
	Short: "Generate the depreciation schedule of an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withServices(cmd.Context(), func(s *app.Services) error {
			created, err := s.Assets.GenerateSchedule(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("Asset %d: %d schedule row(s) created\n", id, created)
			return nil
		})
	},
}

func init() {
	depreciationPostCmd.Flags().StringVar(&deprPeriod, "period", "", "Month to post (YYYY-MM)")
	depreciationPostCmd.Flags().BoolVar(&deprEnqueue, "enqueue", false, "Enqueue the batch for the worker instead of running it here")
	_ = depreciationPostCmd.MarkFlagRequired("period")

	depreciationCmd.AddCommand(depreciationPostCmd, depreciationScheduleCmd)
	rootCmd.AddCommand(depreciationCmd)
}
