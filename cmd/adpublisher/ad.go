package main

import (
	"github.com/spf13/cobra"

	"ad_publisher/internal/service"
)

var adToken string

var adCmd = &cobra.Command{
	Use:   "ad",
	Short: "Pause or resume a single published ad",
}

var adPauseCmd = &cobra.Command{
	Use:   "pause <ad-id>",
	Short: "Pause one ad",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdStatus(cmd, args[0], true)
	},
}

var adResumeCmd = &cobra.Command{
	Use:   "resume <ad-id>",
	Short: "Resume one paused ad",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdStatus(cmd, args[0], false)
	},
}

func init() {
	adCmd.PersistentFlags().StringVar(&adToken, "token", "", "platform token to use instead of the owner's stored credential")

	adCmd.AddCommand(adPauseCmd, adResumeCmd)
	rootCmd.AddCommand(adCmd)
}

func runAdStatus(cmd *cobra.Command, adID string, pause bool) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	req := service.LifecycleRequest{
		AdID:               adID,
		Actor:              "cli",
		CredentialOverride: adToken,
	}
	change := a.Lifecycle.Resume
	if pause {
		change = a.Lifecycle.Pause
	}

	status, err := change(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printJSON(status)
}
