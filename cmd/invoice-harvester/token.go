package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
)

var redirectURL string

// tokenCmd walks through the OAuth2 consent flow once and prints the
// refresh token the service needs
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Obtain a Gmail refresh token",
	RunE: func(cmd *cobra.Command, args []string) error {
		clientID := os.Getenv("GMAIL_CLIENT_ID")
		clientSecret := os.Getenv("GMAIL_CLIENT_SECRET")
		if clientID == "" || clientSecret == "" {
			return fmt.Errorf("please set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET environment variables")
		}

		config := &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{gmail.GmailModifyScope},
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
		}

		authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		fmt.Printf("Go to the following link in your browser: %v\n", authURL)
		fmt.Println("\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

		var authCode string
		fmt.Print("\nEnter the authorization code: ")
		if _, err := fmt.Scan(&authCode); err != nil {
			return fmt.Errorf("read authorization code: %w", err)
		}

		tok, err := config.Exchange(context.Background(), authCode)
		if err != nil {
			return fmt.Errorf("unable to retrieve token from web: %w", err)
		}

		fmt.Printf("\nRefresh Token: %s\n", tok.RefreshToken)
		fmt.Printf("Expiry: %v\n", tok.Expiry)
		fmt.Println("\nAdd the refresh token to your environment variables:")
		fmt.Printf("export GMAIL_REFRESH_TOKEN=\"%s\"\n", tok.RefreshToken)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&redirectURL, "redirect-url", "http://localhost:8080/callback", "OAuth2 redirect URL registered for the client")
	rootCmd.AddCommand(tokenCmd)
}
