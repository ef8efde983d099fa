package main

import (
	"context"
	"fmt"

	"github.com/dontdude/pystudio/internal/session"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [INDEX]",
	Short: "Run the selected file (or select INDEX first)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			if len(args) == 1 {
				idx, err := parseIndex(args[0])
				if err != nil {
					return err
				}
				if err := s.SelectFile(ctx, idx); err != nil {
					return err
				}
			}
			err := s.Run(ctx)
			printConsole(cmd.OutOrStdout(), s)
			return err
		})
	},
}

var installCmd = &cobra.Command{
	Use:   "install PACKAGE",
	Short: "Install a package into the runtime",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			err := s.InstallPackage(ctx, args[0])
			printConsole(cmd.OutOrStdout(), s)
			return err
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restart the runtime from scratch (asks for confirmation)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			err := s.ResetRuntime(ctx)
			printConsole(cmd.OutOrStdout(), s)
			return err
		})
	},
}

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Toggle between the dark and light theme",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			dark, err := s.ToggleTheme(ctx)
			if err != nil {
				return err
			}
			if dark {
				fmt.Fprintln(cmd.OutOrStdout(), "theme: dark")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "theme: light")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd, installCmd, resetCmd, themeCmd)
}
