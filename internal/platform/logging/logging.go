// Package logging builds the process-wide slog logger: a terminal handler
// fanned out with the systemd journal when one is available.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Options selects the handlers of a logger.
type Options struct {
	Level  string // debug, info, warn or error
	Format string // text or json
	// Journal adds the systemd journal handler even when the process is not
	// a systemd service.
	Journal bool
	Writer  io.Writer
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return l, nil
}

// New returns a logger for opts. Services started by systemd log only to the
// journal; everything else logs to Writer and optionally to the journal too.
func New(opts Options) *slog.Logger {
	level := new(slog.LevelVar)
	if l, err := ParseLevel(opts.Level); err == nil {
		level.Set(l)
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}

	var handlers []slog.Handler

	service := isSystemdService()

	// local
	var terminalHandler slog.Handler
	if !service {
		hopts := &slog.HandlerOptions{Level: level}
		if opts.Format == "json" {
			terminalHandler = slog.NewJSONHandler(opts.Writer, hopts)
		} else {
			terminalHandler = slog.NewTextHandler(opts.Writer, hopts)
		}
		handlers = append(handlers, terminalHandler)
	}

	// systemd journal
	if service || opts.Journal {
		journalHandler, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: level,
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			if terminalHandler != nil {
				record := slog.NewRecord(time.Now(), slog.LevelWarn, "new systemd journal handler", 0)
				record.Add("error", err)
				_ = terminalHandler.Handle(context.Background(), record)
			}
		} else {
			handlers = append(handlers, journalHandler)
		}
	}

	if len(handlers) == 0 {
		// A service without a journal socket still has to log somewhere.
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(slogmulti.Fanout(handlers...))
}

// toJournalKey turns an attribute key into a valid journal field name.
func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	str = strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
	return str
}

func isSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) < 3 {
		return false
	}
	return strings.HasSuffix(path.Dir(parts[2]), ".service")
}
