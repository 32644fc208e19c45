package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ad_publisher/internal/domain"
)

var credentialType string

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage stored platform credentials",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <owner-id>",
	Short: "Store a platform token for an owner (token is read from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialSet,
}

func init() {
	credentialSetCmd.Flags().StringVar(&credentialType, "type", string(domain.CredentialUser), "credential type: user or system")

	credentialCmd.AddCommand(credentialSetCmd)
	rootCmd.AddCommand(credentialCmd)
}

func runCredentialSet(cmd *cobra.Command, args []string) error {
	typ := domain.CredentialType(credentialType)
	if typ != domain.CredentialUser && typ != domain.CredentialSystem {
		return fmt.Errorf("unknown credential type %q", credentialType)
	}

	token, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && token == "" {
		return fmt.Errorf("read token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is empty")
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Credentials.Put(cmd.Context(), &domain.Credential{
		OwnerID: args[0],
		Type:    typ,
		Token:   token,
	}); err != nil {
		return err
	}

	a.Logger.Info("credential stored", "owner_id", args[0], "type", typ)
	return nil
}
