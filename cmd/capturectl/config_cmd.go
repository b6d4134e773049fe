package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nictjh/originalCapture/internal/config"
	"github.com/nictjh/originalCapture/internal/infra/keys/soft"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage agent configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, _ := cmd.Flags().GetString("app-id")
		if appID == "" {
			return errors.New("--app-id is required")
		}
		profile, _ := cmd.Flags().GetString("profile")
		if _, err := soft.ParseProfile(profile); err != nil {
			return err
		}
		cfg := config.NewAgentConfig(appID, baseDir)
		cfg.Keystore.Profile = profile
		if verifier, _ := cmd.Flags().GetString("verifier"); verifier != "" {
			cfg.Verifier.URL = verifier
		}
		if err := config.InitAgent(configPath(), cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", configPath())
		fmt.Printf("App ID:   %s\n", cfg.AppID)
		fmt.Printf("Profile:  %s\n", cfg.Keystore.Profile)
		fmt.Printf("Verifier: %s\n", cfg.Verifier.URL)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.ReadAgentFromFile(configPath())
		if err != nil {
			return err
		}
		m := &config.AgentManager{}
		return m.Write(os.Stdout, cfg)
	},
}

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Manage the emulated keystore",
}

var keystoreInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the attestation authority and print its root",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		store := soft.NewStore(a.cfg.Keystore.AuthorityDir)
		fmt.Printf("Attestation root: %s\n", store.RootCertPath())
		fmt.Printf("Subject:          %s\n", a.authority.Root().Subject)
		fmt.Printf("Profile:          %s\n", a.keystore.Profile())
		fmt.Println("Point the verifier's TRUST_ROOTS_PEM at the root certificate.")
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("app-id", "", "application id bound into every payload")
	configInitCmd.Flags().String("profile", string(soft.ProfileStrongBox), "keystore profile: strongbox, tee, software or none")
	configInitCmd.Flags().String("verifier", "", "verifier base URL")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	keystoreCmd.AddCommand(keystoreInitCmd)
	rootCmd.AddCommand(configCmd, keystoreCmd)
}
