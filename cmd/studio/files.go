package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/session"
	"github.com/spf13/cobra"
)

var (
	editFrom  string
	exportOut string
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage the session's files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			printFiles(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

var filesNewCmd = &cobra.Command{
	Use:   "new NAME",
	Short: "Create a file from the template and select it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			if _, err := s.NewFile(ctx, args[0]); err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

var filesRmCmd = &cobra.Command{
	Use:   "rm INDEX",
	Short: "Delete a file (asks for confirmation)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			if err := s.DeleteFile(ctx, idx); err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

var filesSelectCmd = &cobra.Command{
	Use:   "select INDEX",
	Short: "Select the file run operates on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			if err := s.SelectFile(ctx, idx); err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

var filesCatCmd = &cobra.Command{
	Use:   "cat [INDEX]",
	Short: "Print a file (the selected one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			f := s.Files().Selected()
			if len(args) == 1 {
				idx, err := parseIndex(args[0])
				if err != nil {
					return err
				}
				if f, err = s.Files().Get(idx); err != nil {
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), f.Content)
			return nil
		})
	},
}

var filesEditCmd = &cobra.Command{
	Use:   "edit INDEX",
	Short: "Replace a file's content from a path or stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		content, err := readSource(cmd.InOrStdin(), editFrom)
		if err != nil {
			return err
		}
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			return s.UpdateFile(ctx, idx, domain.FileDelta{Content: &content})
		})
	},
}

var filesRenameCmd = &cobra.Command{
	Use:   "rename INDEX NAME",
	Short: "Rename a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			if err := s.UpdateFile(ctx, idx, domain.FileDelta{Name: &args[1]}); err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the selected file to disk under its own name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			name, content := s.Export()
			if exportOut != "" {
				name = exportOut
			}
			if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to export %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s\n", name)
			return nil
		})
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy the selected file to the clipboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ context.Context, s *session.Session) error {
			return s.CopyCode()
		})
	},
}

var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "List the example catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for i, ex := range domain.Examples() {
			fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s\n", i, ex.Name)
		}
		return nil
	},
}

var examplesImportCmd = &cobra.Command{
	Use:   "import INDEX",
	Short: "Add a copy of an example and select it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			if err := s.ImportExample(ctx, idx); err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

func init() {
	filesEditCmd.Flags().StringVarP(&editFrom, "from", "f", "-", "Read content from this path (- for stdin)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Destination path (defaults to the file name)")

	filesCmd.AddCommand(filesNewCmd, filesRmCmd, filesSelectCmd, filesCatCmd, filesEditCmd, filesRenameCmd)
	examplesCmd.AddCommand(examplesImportCmd)
	rootCmd.AddCommand(filesCmd, exportCmd, copyCmd, examplesCmd)
}

func parseIndex(s string) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return idx, nil
}

func readSource(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
