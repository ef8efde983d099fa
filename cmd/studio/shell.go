package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/session"
	"github.com/spf13/cobra"
)

const shellHelp = `commands:
  show                 print the session
  ls                   list files
  select INDEX         select a file
  new NAME             create a file
  rm INDEX             delete a file
  cat                  print the selected file
  write                replace the selected file (end input with a lone ".")
  example INDEX        import an example
  run                  run the selected file
  install NAME         install a package
  clear                clear the console
  reset                restart the runtime
  theme                toggle the theme
  copy                 copy the selected file to the clipboard
  quit                 leave the shell`

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Work on the session interactively with one live runtime",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session.Session) error {
			out := cmd.OutOrStdout()
			in := inputReader(cmd)
			render(out, s)
			for {
				fmt.Fprint(out, "studio> ")
				line, err := in.ReadString('\n')
				if err != nil && line == "" {
					if errors.Is(err, io.EOF) {
						fmt.Fprintln(out)
						return nil
					}
					return err
				}
				quit, err := shellExec(ctx, in, out, s, strings.Fields(line))
				if err != nil {
					fmt.Fprintln(out, "error:", err)
				}
				if quit {
					return nil
				}
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// shellExec runs one shell line and reports whether the loop should end.
func shellExec(ctx context.Context, in *bufio.Reader, out io.Writer, s *session.Session, fields []string) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}
	arg := func() (string, error) {
		if len(fields) < 2 {
			return "", fmt.Errorf("%s needs an argument", fields[0])
		}
		return strings.Join(fields[1:], " "), nil
	}
	index := func() (int, error) {
		a, err := arg()
		if err != nil {
			return 0, err
		}
		return parseIndex(a)
	}

	switch fields[0] {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(out, shellHelp)
	case "show":
		render(out, s)
	case "ls":
		printFiles(out, s)
	case "select":
		idx, err := index()
		if err != nil {
			return false, err
		}
		if err := s.SelectFile(ctx, idx); err != nil {
			return false, err
		}
		printFiles(out, s)
	case "new":
		name, err := arg()
		if err != nil {
			return false, err
		}
		if _, err := s.NewFile(ctx, name); err != nil {
			return false, err
		}
		printFiles(out, s)
	case "rm":
		idx, err := index()
		if err != nil {
			return false, err
		}
		if err := s.DeleteFile(ctx, idx); err != nil {
			return false, err
		}
		printFiles(out, s)
	case "cat":
		fmt.Fprint(out, s.Files().Selected().Content)
	case "write":
		content, err := readUntilDot(in)
		if err != nil {
			return false, err
		}
		return false, s.Edit(ctx, content)
	case "example":
		idx, err := index()
		if err != nil {
			return false, err
		}
		if err := s.ImportExample(ctx, idx); err != nil {
			return false, err
		}
		printFiles(out, s)
	case "run":
		err := s.Run(ctx)
		printConsole(out, s)
		if errors.Is(err, domain.ErrNotReady) || errors.Is(err, domain.ErrBusy) {
			return false, err
		}
	case "install":
		name, err := arg()
		if err != nil {
			return false, err
		}
		s.SetPackageInput(name)
		err = s.Install(ctx)
		printConsole(out, s)
		if errors.Is(err, domain.ErrNotReady) || errors.Is(err, domain.ErrBusy) {
			return false, err
		}
	case "clear":
		s.ClearConsole(ctx)
	case "reset":
		err := s.ResetRuntime(ctx)
		printConsole(out, s)
		if errors.Is(err, domain.ErrNotConfirmed) {
			return false, err
		}
	case "theme":
		if _, err := s.ToggleTheme(ctx); err != nil {
			return false, err
		}
		render(out, s)
	case "copy":
		return false, s.CopyCode()
	default:
		return false, fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return false, nil
}

// readUntilDot reads lines until one consisting of a single ".".
func readUntilDot(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if strings.TrimRight(line, "\r\n") == "." {
			return b.String(), nil
		}
		b.WriteString(line)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			return "", err
		}
	}
}
