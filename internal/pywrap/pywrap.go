// Package pywrap builds the Python source that captures a user file's
// stdout and stderr, and parses the captured pair back out of the
// interpreter's real stdout.
package pywrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dontdude/pystudio/internal/domain"
)

// OutKey marks the JSON line carrying the captured streams.
const OutKey = "__out"

// ErrNoEnvelope is returned when the interpreter's stdout has no captured pair.
var ErrNoEnvelope = errors.New("interpreter output has no captured streams")

const template = `import sys, io, json
__studio_out = io.StringIO()
__studio_err = io.StringIO()
__studio_old = (sys.stdout, sys.stderr)
sys.stdout, sys.stderr = __studio_out, __studio_err
try:
    exec(compile(%s, %s, "exec"), {"__name__": "__main__"})
finally:
    sys.stdout, sys.stderr = __studio_old
print(json.dumps({%q: [__studio_out.getvalue(), __studio_err.getvalue()]}))
`

// Wrap returns a program that runs code with sys.stdout and sys.stderr
// redirected into two buffers, restores the real streams whatever happens,
// and prints {"__out": [stdout, stderr]} as its last line.
// An exception raised by code propagates after the streams are restored, so
// the interpreter reports it on its real stderr and exits non-zero.
func Wrap(code, filename string) string {
	return fmt.Sprintf(template, quote(code), quote(filename), OutKey)
}

// quote renders s as a Python string literal. JSON string syntax is a subset
// of Python's.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ExtractOutput finds the captured pair in stdout. Lines around it are
// returned as rest, which is usually empty.
func ExtractOutput(stdout string) (out domain.Output, rest string, err error) {
	lines := strings.Split(stdout, "\n")
	kept := make([]string, 0, len(lines))
	found := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !found && strings.HasPrefix(trimmed, "{") {
			var obj map[string][]string
			if json.Unmarshal([]byte(trimmed), &obj) == nil {
				if pair, ok := obj[OutKey]; ok && len(pair) == 2 {
					out = domain.Output{Stdout: pair[0], Stderr: pair[1]}
					found = true
					continue
				}
			}
		}
		kept = append(kept, line)
	}

	if !found {
		return domain.Output{}, stdout, ErrNoEnvelope
	}
	return out, strings.TrimRight(strings.Join(kept, "\n"), "\n"), nil
}

// PipInstallArgs returns the pip arguments installing name, honouring an
// optional package index and target directory.
func PipInstallArgs(name, indexURL, target string) []string {
	args := []string{"-m", "pip", "install", "--disable-pip-version-check", "--no-input", "--quiet"}
	if indexURL != "" {
		args = append(args, "--index-url", indexURL)
	}
	if target != "" {
		args = append(args, "--target", target)
	}
	return append(args, name)
}
