package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/portalchat/internal/client"
	"github.com/matheus3301/portalchat/internal/config"
	"github.com/matheus3301/portalchat/internal/profile"
	"github.com/spf13/cobra"
)

var (
	profileFlag string
	asFlag      string
	socketFlag  string
	jsonFlag    bool
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Control a running portal chat daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if err := config.LoadEnvFile(profile.EnvFilePath()); err != nil {
			return err
		}
		if asFlag == "" {
			asFlag = os.Getenv(envUser)
		}
		return nil
	},
}

const envUser = "PORTALCHAT_USER"

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().StringVar(&asFlag, "as", "", "signed-in user email (default $PORTALCHAT_USER)")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "daemon socket path (default: inside the profile directory)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(
		statusCmd,
		sendCmd,
		threadCmd,
		openCmd,
		closeCmd,
		visibleCmd,
		rosterCmd,
		unreadCmd,
		watchCmd,
		directoryCmd,
		usernameCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func profileName() (string, error) {
	return profile.Select(profileFlag)
}

func connect() (*client.Client, error) {
	path := socketFlag
	if path == "" {
		name, err := profileName()
		if err != nil {
			return nil, err
		}
		path = profile.SocketPath(name)
	}
	c, err := client.New(path)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", path, err)
	}
	return c, nil
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func signedIn() (string, error) {
	if asFlag == "" {
		return "", fmt.Errorf("no user: pass --as or set PORTALCHAT_USER")
	}
	return asFlag, nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
