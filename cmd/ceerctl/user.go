package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ceer-lab/ceer/internal/service/user"
)

func userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var input user.CreateInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account, prompting for the password when --password is omitted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(input.Email) == "" {
				return errors.New("--email is required")
			}
			if strings.TrimSpace(input.Password) == "" {
				secret, err := promptPassword()
				if err != nil {
					return err
				}
				input.Password = secret
			}
			pool, repo, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			created, err := user.New(repo, commonLogger()).Register(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", created.Role, created.Email, created.ID)
			return nil
		},
	}
	add.Flags().StringVar(&input.Name, "name", "", "display name")
	add.Flags().StringVar(&input.Email, "email", "", "email address")
	add.Flags().StringVar(&input.Role, "role", "student", "student, faculty, labincharge or admin")
	add.Flags().StringVar(&input.Department, "department", "", "department")
	add.Flags().StringVar(&input.Password, "password", "", "password (supply to avoid prompt)")
	cmd.AddCommand(add)
	return cmd
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprint(os.Stderr, "\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprint(os.Stderr, "\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
