package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledger/cmd/ledgerctl/cli"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage background jobs",
}

func withJobs(fn func(*cli.JobsCLI) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

var jobsPeriod string

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger <depreciation|gl-integrity>",
	Short: "Enqueue a job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobs(func(c *cli.JobsCLI) error {
			info, err := c.Trigger(cmd.Context(), args[0], jobsPeriod)
			if err != nil {
				return err
			}
			fmt.Printf("Enqueued %s (%s) on %s\n", info.ID, info.Type, info.Queue)
			return nil
		})
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobs(func(c *cli.JobsCLI) error {
			stats, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %8s %8s %10s %6s %9s\n", "QUEUE", "PENDING", "ACTIVE", "SCHEDULED", "RETRY", "ARCHIVED")
			fmt.Printf("%-10s %8d %8d %10d %6d %9d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			return nil
		})
	},
}

var (
	jobsListSize     int
	jobsListArchived bool
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled or archived tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobs(func(c *cli.JobsCLI) error {
			list := c.ListScheduled
			if jobsListArchived {
				list = c.ListArchived
			}
			tasks, err := list(cmd.Context(), jobsListSize)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}
			for _, t := range tasks {
				fmt.Printf("%-36s %-30s %s\n", t.ID, t.Type, t.LastErr)
			}
			return nil
		})
	},
}

func init() {
	jobsTriggerCmd.Flags().StringVar(&jobsPeriod, "period", "", "Depreciation month (YYYY-MM, defaults to last month)")
	jobsListCmd.Flags().IntVar(&jobsListSize, "size", 10, "Page size")
	jobsListCmd.Flags().BoolVar(&jobsListArchived, "archived", false, "List archived tasks instead of scheduled ones")

	jobsCmd.AddCommand(jobsTriggerCmd, jobsStatsCmd, jobsListCmd)
	rootCmd.AddCommand(jobsCmd)
}
