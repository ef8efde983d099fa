// Package mcpserver exposes a studio session as MCP tools, so an assistant
// can edit and run files the way a user of the studio would.
package mcpserver

import (
	"context"
	"errors"

	"github.com/dontdude/pystudio/internal/console"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/files"
	"github.com/dontdude/pystudio/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients.
const Version = "v0.1.0"

type fileRef struct {
	Index *int `json:"index,omitempty" jsonschema:"file index; defaults to the selected file"`
}

type listOutput struct {
	Files    []files.Summary `json:"files"`
	Selected int             `json:"selected"`
}

type writeInput struct {
	Index   int    `json:"index" jsonschema:"file index"`
	Content string `json:"content" jsonschema:"new file content"`
}

type createInput struct {
	Name string `json:"name" jsonschema:"file name, e.g. script.py"`
}

type createOutput struct {
	Created bool `json:"created"`
	Index   int  `json:"index"`
}

type selectInput struct {
	Index int `json:"index" jsonschema:"file index"`
}

type installInput struct {
	Name string `json:"name" jsonschema:"package name"`
}

type runOutput struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}

type empty struct{}

// New builds an MCP server whose tools act on sess.
func New(sess *session.Session) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "pystudio", Version: Version}, nil)
	t := &tools{sess: sess}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_files",
		Description: "List the files of the studio with a one-line preview each.",
	}, t.listFiles)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_file",
		Description: "Read a file's name and content.",
	}, t.readFile)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "write_file",
		Description: "Replace the content of a file.",
	}, t.writeFile)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_file",
		Description: "Create a file from the new-file template and select it.",
	}, t.createFile)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_file",
		Description: "Select the file that run_file runs by default.",
	}, t.selectFile)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_file",
		Description: "Run a file and return what it printed to stdout and stderr.",
	}, t.runFile)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "install_package",
		Description: "Install a package into the runtime.",
	}, t.installPackage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_console",
		Description: "Empty the console output.",
	}, t.clearConsole)

	return server
}

// Serve runs the tools over stdin/stdout until the client disconnects.
func Serve(ctx context.Context, sess *session.Session) error {
	return New(sess).Run(ctx, &mcp.StdioTransport{})
}

type tools struct {
	sess *session.Session
}

func (t *tools) resolve(ref fileRef) int {
	if ref.Index == nil {
		return t.sess.Files().SelectedIndex()
	}
	return *ref.Index
}

func (t *tools) listFiles(_ context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, listOutput, error) {
	return nil, listOutput{
		Files:    t.sess.Files().Summaries(),
		Selected: t.sess.Files().SelectedIndex(),
	}, nil
}

func (t *tools) readFile(_ context.Context, _ *mcp.CallToolRequest, in fileRef) (*mcp.CallToolResult, domain.TextFile, error) {
	f, err := t.sess.Files().Get(t.resolve(in))
	return nil, f, err
}

func (t *tools) writeFile(ctx context.Context, _ *mcp.CallToolRequest, in writeInput) (*mcp.CallToolResult, domain.TextFile, error) {
	if err := t.sess.UpdateFile(ctx, in.Index, domain.FileDelta{Content: &in.Content}); err != nil {
		return nil, domain.TextFile{}, err
	}
	f, err := t.sess.Files().Get(in.Index)
	return nil, f, err
}

func (t *tools) createFile(ctx context.Context, _ *mcp.CallToolRequest, in createInput) (*mcp.CallToolResult, createOutput, error) {
	created, err := t.sess.NewFile(ctx, in.Name)
	if err != nil {
		return nil, createOutput{}, err
	}
	return nil, createOutput{Created: created, Index: t.sess.Files().SelectedIndex()}, nil
}

func (t *tools) selectFile(ctx context.Context, _ *mcp.CallToolRequest, in selectInput) (*mcp.CallToolResult, listOutput, error) {
	if err := t.sess.SelectFile(ctx, in.Index); err != nil {
		return nil, listOutput{}, err
	}
	return t.listFiles(ctx, nil, empty{})
}

// runFile returns only the output of this run, not the whole console.
func (t *tools) runFile(ctx context.Context, _ *mcp.CallToolRequest, in fileRef) (*mcp.CallToolResult, runOutput, error) {
	if in.Index != nil {
		if err := t.sess.SelectFile(ctx, *in.Index); err != nil {
			return nil, runOutput{}, err
		}
	}
	before := t.sess.Console()
	err := t.sess.Run(ctx)
	return t.execution(before, err)
}

func (t *tools) installPackage(ctx context.Context, _ *mcp.CallToolRequest, in installInput) (*mcp.CallToolResult, runOutput, error) {
	if in.Name == "" {
		return nil, runOutput{}, errors.New("package name is required")
	}
	before := t.sess.Console()
	err := t.sess.InstallPackage(ctx, in.Name)
	return t.execution(before, err)
}

func (t *tools) execution(before console.Snapshot, err error) (*mcp.CallToolResult, runOutput, error) {
	var execErr *console.ExecutionError
	if err != nil && !errors.As(err, &execErr) {
		return nil, runOutput{}, err
	}
	after := t.sess.Console()
	out := runOutput{
		Stdout: since(before.Stdout, after.Stdout),
		Stderr: since(before.Stderr, after.Stderr),
	}
	if execErr != nil {
		out.Error = execErr.Err.Error()
	}
	return nil, out, nil
}

func (t *tools) clearConsole(ctx context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, console.Snapshot, error) {
	t.sess.ClearConsole(ctx)
	return nil, t.sess.Console(), nil
}

// since returns what was appended to a log between two snapshots. A log
// cleared in between is returned whole.
func since(before, after string) string {
	if len(after) >= len(before) && after[:len(before)] == before {
		return after[len(before):]
	}
	return after
}
