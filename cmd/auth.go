package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ocampo/fieldsync/internal/config"
	"github.com/ocampo/fieldsync/internal/remote"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage server credentials",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL == "" {
			serverURL = cfg.GetServerURL()
		}

		username, _ := cmd.Flags().GetString("username")
		if username == "" {
			fmt.Print("Username: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read username: %w", err)
			}
			username = strings.TrimSpace(line)
		}

		fmt.Print("Password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		pair, err := remote.Login(cmd.Context(), serverURL, username, string(pw))
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		deviceID, err := config.GetDeviceID()
		if err != nil {
			return err
		}
		if err := config.SaveAuth(config.AuthCredentials{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			DeviceID:     deviceID,
			ServerURL:    serverURL,
		}); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}

		fmt.Printf("Logged in to %s as %s\n", serverURL, username)
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearAuth(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := config.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil {
			fmt.Println("Not logged in")
			return nil
		}
		fmt.Printf("Logged in to %s (device %s)\n", creds.ServerURL, creds.DeviceID)
		return nil
	},
}

func init() {
	authLoginCmd.Flags().String("server", "", "server URL")
	authLoginCmd.Flags().String("username", "", "username")
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
