package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"hoard-go/internal/app"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// secret command
var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage encrypted database passwords",
}

var secretInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the key used to encrypt passwords",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.InitSecrets(cfg); err != nil {
			return err
		}
		fmt.Printf("Key created at %s\n", cfg.Secret.KeyPath)
		return nil
	},
}

var secretEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a password for use in the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		plaintext, err := readPassword()
		if err != nil {
			return err
		}
		if plaintext == "" {
			return fmt.Errorf("empty password")
		}
		sealed, err := app.SealSecret(cfg, plaintext)
		if err != nil {
			return err
		}
		fmt.Println(sealed)
		return nil
	},
}

// readPassword prompts without echo on a terminal and reads one line otherwise.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	secretCmd.AddCommand(secretInitCmd)
	secretCmd.AddCommand(secretEncryptCmd)
	rootCmd.AddCommand(secretCmd)
}
