package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/dontdude/pystudio/internal/backends"
	"github.com/dontdude/pystudio/internal/config"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/platform/logging"
	"github.com/dontdude/pystudio/internal/platform/queue"
	"github.com/dontdude/pystudio/internal/platform/remote"
	"github.com/dontdude/pystudio/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	configPath string
	sessionID  string
	backend    string
	assumeYes  bool

	// stdin is shared by confirmation prompts and the shell loop so neither
	// buffers input away from the other.
	stdin *bufio.Reader
)

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Edit and run Python-style scripts from the terminal",
	Long: `studio keeps a list of named scripts in a persisted session and runs
them on a pluggable interpreter backend (starlark, javascript, python,
docker or remote).

Without a subcommand it prints the session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session.Session) error {
			render(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("STUDIO_CONFIG"), "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "default", "Session to work on")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Runtime backend (overrides the configuration)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to confirmation prompts")
}

// systemClipboard writes to the OS clipboard.
type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

func inputReader(cmd *cobra.Command) *bufio.Reader {
	if stdin == nil {
		stdin = bufio.NewReader(cmd.InOrStdin())
	}
	return stdin
}

// promptConfirmer writes the prompt to out and reads the answer from reader.
func promptConfirmer(reader *bufio.Reader, out io.Writer) domain.Confirmer {
	return domain.ConfirmFunc(func(_ context.Context, prompt string) bool {
		if assumeYes {
			return true
		}
		fmt.Fprintf(out, "%s [y/N] ", prompt)
		line, _ := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	})
}

// withSession opens the configured session, optionally loads its runtime,
// and hands it to fn.
func withSession(cmd *cobra.Command, initialize bool, fn func(context.Context, *session.Session) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Runtime.Backend = backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	// A CLI session must outlive the process.
	if cfg.Store.Kind == config.StoreMemory {
		cfg.Store.Kind = config.StoreFile
	}

	// stdout belongs to the command output (and to MCP for `studio mcp`).
	slog.SetDefault(logging.New(logging.Options{
		Level:   cliLogLevel(cfg),
		Format:  cfg.Log.Format,
		Journal: cfg.Log.Journal,
		Writer:  cmd.ErrOrStderr(),
	}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var rdb *redis.Client
	var rem backends.Remote
	if cfg.NeedsRedis() {
		rdb = queue.MustConnect(cfg.Redis.Addr)
		defer rdb.Close()
	}
	if cfg.Runtime.Backend == config.BackendRemote {
		q := queue.NewRedisQueue(rdb, queue.Names{})
		router := remote.NewRouter()
		results, err := q.SubscribeResults(ctx)
		if err != nil {
			return err
		}
		go router.Run(ctx, results)
		rem = backends.Remote{Queue: q, Router: router}
	}

	kv, err := backends.OpenStore(cfg, rdb)
	if err != nil {
		return err
	}
	newLoader, cleanup, err := backends.New(cfg.Runtime.Backend, cfg, rem)
	if err != nil {
		return err
	}
	defer cleanup()

	s := session.New(ctx, session.Options{
		ID:            sessionID,
		KV:            kv,
		Loader:        newLoader(),
		RuntimeConfig: domain.RuntimeConfig{IndexURL: cfg.Runtime.IndexURL},
		Confirm:       promptConfirmer(inputReader(cmd), cmd.ErrOrStderr()),
		Clipboard:     systemClipboard{},
	})
	defer s.Close()

	if initialize {
		if err := s.Initialize(ctx); err != nil {
			printConsole(cmd.OutOrStdout(), s)
			return err
		}
	}
	return fn(ctx, s)
}

// cliLogLevel keeps the CLI quiet unless the configuration asks for debug.
func cliLogLevel(cfg *config.Config) string {
	if cfg.Log.Level == "debug" {
		return "debug"
	}
	return "warn"
}
