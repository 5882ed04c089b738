package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/itcshield/itc/internal/auth"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/term"
)

func newLoginCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store an API token for later commands",
		Long: "Prompts for an API token without echoing it and saves it to the\n" +
			"configured token_file. With api.oauth configured, fetches a token\n" +
			"through the client-credentials grant instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, flags.configPath, os.Stdin)
		},
	}
}

func runLogin(cmd *cobra.Command, configPath string, in *os.File) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.API.TokenFile == "" {
		return fmt.Errorf("api.token_file is not set")
	}

	var tok *oauth2.Token
	if cfg.API.OAuth.Enabled() {
		tok, err = auth.ClientCredentials(cfg.API.OAuth).Token(cmd.Context())
		if err != nil {
			return fmt.Errorf("client credentials: %w", err)
		}
	} else {
		fmt.Fprint(out, "API token: ")
		secret, err := readSecret(in)
		fmt.Fprintln(out)
		if err != nil {
			return err
		}
		tok = &oauth2.Token{AccessToken: secret, TokenType: "Bearer"}
	}

	if err := auth.SaveToken(cfg.API.TokenFile, tok); err != nil {
		return err
	}
	fmt.Fprintf(out, "Token saved to %s\n", cfg.API.TokenFile)
	return nil
}

// readSecret reads one line without echo when in is a terminal.
func readSecret(in *os.File) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newLogoutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			if err := auth.RemoveToken(cfg.API.TokenFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}
