/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/makemny/apiserver/config"
	"github.com/makemny/apiserver/internal/logger"
	"github.com/makemny/apiserver/internal/server"
	"github.com/makemny/apiserver/internal/services"
	"github.com/spf13/cobra"
)

var (
	adminPhone    string
	adminPassword string
)

// adminCmd groups account administration commands.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage administrator accounts",
}

var adminEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the admin account or grant the admin role to an existing one",
	Long: `Ensures an account with the given phone exists and has the admin role.
The password is only used when the account is created. Flags fall back to
ADMIN_PHONE and ADMIN_PASS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logger.New(cfg.Env, cfg.LogLevel)

		phone, password := adminPhone, adminPassword
		if phone == "" {
			phone = cfg.Admin.Phone
		}
		if password == "" {
			password = cfg.Admin.Password
		}

		repos, err := server.OpenRepositories(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer repos.Close()

		users := services.NewUserService(repos.Users, log)
		admin, err := users.EnsureAdmin(cmd.Context(), phone, password)
		if err != nil {
			return fmt.Errorf("ensure admin failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "admin %s ready (id %s)\n", admin.Phone, admin.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminEnsureCmd)

	adminEnsureCmd.Flags().StringVar(&adminPhone, "phone", "", "admin phone number")
	adminEnsureCmd.Flags().StringVar(&adminPassword, "password", "", "admin password for a new account")
}
