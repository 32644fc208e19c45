package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ad_publisher/internal/service"
)

var (
	publishRepublish bool
	statusLive       bool
	confirmActor     string
)

var publishCmd = &cobra.Command{
	Use:   "publish <draft-id>",
	Short: "Publish a draft whose budget has been confirmed",
	Long: `Publish creates the campaign, its ad sets and its ads on the platform.
Entities created by an earlier attempt are reused, so a failed publish can
simply be run again. --republish retires the previous remote entities and
publishes the draft from scratch.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

var statusCmd = &cobra.Command{
	Use:   "status <draft-id>",
	Short: "Show the publish state of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Budget confirmation commands",
}

var budgetProposeCmd = &cobra.Command{
	Use:   "propose <draft-id>",
	Short: "Show the budget that will be committed and its confirmation token",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudgetPropose,
}

var budgetConfirmCmd = &cobra.Command{
	Use:   "confirm <draft-id> <token>",
	Short: "Confirm the proposed budget",
	Args:  cobra.ExactArgs(2),
	RunE:  runBudgetConfirm,
}

func init() {
	publishCmd.Flags().BoolVar(&publishRepublish, "republish", false, "supersede existing remote entities and publish again")
	statusCmd.Flags().BoolVar(&statusLive, "live", false, "refresh the campaign status from the platform")
	budgetConfirmCmd.Flags().StringVar(&confirmActor, "actor", "", "actor recorded in the audit log (default user:<owner>)")

	budgetCmd.AddCommand(budgetProposeCmd, budgetConfirmCmd)
	rootCmd.AddCommand(publishCmd, statusCmd, budgetCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.Budget.RequireConfirmed(ctx, args[0], ""); err != nil {
		return fmt.Errorf("draft %s: %w", args[0], err)
	}

	result, err := a.Publish.Publish(ctx, service.PublishRequest{
		DraftID:   args[0],
		Actor:     "cli",
		Supersede: publishRepublish,
	})
	if result != nil {
		if perr := printJSON(result); perr != nil {
			return perr
		}
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Status.GetStatus(cmd.Context(), args[0], "", statusLive)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runBudgetPropose(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Budget.Propose(cmd.Context(), args[0], "")
	if err != nil {
		return err
	}
	return printJSON(p)
}

func runBudgetConfirm(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Budget.Confirm(cmd.Context(), args[0], "", confirmActor, args[1])
	if err != nil {
		return err
	}
	return printJSON(p)
}
