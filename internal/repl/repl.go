// Package repl implements the interactive prompt. A single control
// thread reads lines and evaluates them in the session; every
// discovered module is already installed as a lazy global, so
// "os.time()" works with no require.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"github.com/zot/autoreq/internal/config"
	"github.com/zot/autoreq/internal/luart"
	"github.com/zot/autoreq/internal/registry"
)

const (
	prompt     = "> "
	contPrompt = ">> "
)

// REPL reads Lua chunks from in and prints results to out.
type REPL struct {
	config   *config.Config
	session  *luart.Session
	registry *registry.Registry
	in       io.Reader
	out      io.Writer
}

// New creates a REPL over the given streams.
func New(cfg *config.Config, session *luart.Session, reg *registry.Registry, in io.Reader, out io.Writer) *REPL {
	return &REPL{
		config:   cfg,
		session:  session,
		registry: reg,
		in:       in,
		out:      out,
	}
}

// Run reads and evaluates input until EOF or "exit".
func (r *REPL) Run() error {
	fmt.Fprintf(r.out, "autoreq: %d modules installed, loaded on first use (\"exit\" to quit)\n",
		len(r.registry.Names()))

	scanner := bufio.NewScanner(r.in)
	var pending string

	for {
		if pending == "" {
			fmt.Fprint(r.out, prompt)
		} else {
			fmt.Fprint(r.out, contPrompt)
		}
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		line := scanner.Text()
		if pending == "" && strings.TrimSpace(line) == "exit" {
			return nil
		}

		chunk := line
		if pending != "" {
			chunk = pending + "\n" + line
		}

		result, err := r.session.Eval(chunk)
		if err != nil {
			// An unfinished chunk continues on the next line.
			if incomplete(err) {
				pending = chunk
				continue
			}
			pending = ""
			fmt.Fprintf(r.out, "error: %v\n", err)
			continue
		}
		pending = ""
		if result != "" {
			fmt.Fprintln(r.out, result)
		}
	}
}

// incomplete reports whether a compile error means the chunk simply
// is not finished yet, so the next line should continue it.
func incomplete(err error) bool {
	if apiErr, ok := err.(*lua.ApiError); ok {
		if parseErr, ok := apiErr.Cause.(*parse.Error); ok {
			return parseErr.Pos.Line == parse.EOF
		}
	}
	return false
}
