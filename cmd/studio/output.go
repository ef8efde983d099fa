package main

import (
	"io"

	"github.com/dontdude/pystudio/internal/session"
	"github.com/dontdude/pystudio/internal/view"
)

func render(w io.Writer, s *session.Session) {
	view.Render(w, s.Snapshot())
}

func printFiles(w io.Writer, s *session.Session) {
	view.For(s.Dark()).Files(w, s.Files().Summaries())
}

func printConsole(w io.Writer, s *session.Session) {
	view.For(s.Dark()).Console(w, s.Console())
}
