package main

import (
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/pkg/adapter/webdav"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/spf13/cobra"
)

var (
	tokenCompany  string
	tokenUser     string
	tokenChannels []string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a WebDAV access token",
	Long:  `Sign a bearer token for the WebDAV adapter with the configured secret. The token can also be used as the Basic auth password.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenCompany == "" || tokenUser == "" {
			return fmt.Errorf("--company and --user are required")
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		token, err := webdav.NewAuthenticator(cfg.Adapters.WebDAV.JWTSecret).
			IssueToken(tokenCompany, tokenUser, tokenChannels, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenCompany, "company", "", "company id")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id")
	tokenCmd.Flags().StringSliceVar(&tokenChannels, "channels", nil, "client channels")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
