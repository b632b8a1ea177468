package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arnavik/socksd/internal/credentials"
	"github.com/arnavik/socksd/internal/socks5"
)

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the SOCKS5 credentials file",
	}

	cmd.AddCommand(usersAddCmd())
	cmd.AddCommand(usersHashCmd())

	return cmd
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pwBytes), nil
}

func usersAddCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user to a plaintext credentials file",
		Long: `Prompt for a username (unless --username is given) and a hidden
password, then append the entry to the credentials file, creating it with a
plaintext schema if it does not already exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			if username == "" {
				fmt.Print("Username: ")
				if _, err := fmt.Scanln(&username); err != nil {
					return fmt.Errorf("failed to read username: %w", err)
				}
			}

			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			if password == "" {
				return fmt.Errorf("password cannot be empty")
			}

			table := socks5.StaticCredentials{}
			if _, statErr := os.Stat(path); statErr == nil {
				existing, err := credentials.Load(path)
				if err != nil {
					return fmt.Errorf("failed to load existing credentials: %w", err)
				}
				static, ok := existing.(socks5.StaticCredentials)
				if !ok {
					return fmt.Errorf("%s uses the hashed schema; run 'users hash' against a plaintext file instead", path)
				}
				table = static
			}
			table[username] = password

			if err := credentials.Save(path, table); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}
			fmt.Printf("added user %q to %s\n", username, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "username to add (prompted interactively if omitted)")

	return cmd
}

func usersHashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash <path>",
		Short: "Convert a plaintext credentials file to the bcrypt-hashed schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			store, err := credentials.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load credentials: %w", err)
			}
			static, ok := store.(socks5.StaticCredentials)
			if !ok {
				return fmt.Errorf("%s is already hashed or empty; nothing to do", path)
			}

			hashed := make(socks5.HashedCredentials, len(static))
			for username, password := range static {
				hash, err := socks5.HashPassword(password)
				if err != nil {
					return fmt.Errorf("failed to hash password for %q: %w", username, err)
				}
				hashed[username] = hash
			}

			if err := credentials.SaveHashed(path, hashed); err != nil {
				return fmt.Errorf("failed to save hashed credentials: %w", err)
			}
			fmt.Printf("rewrote %s with %d hashed entries\n", path, len(hashed))
			return nil
		},
	}

	return cmd
}
