// Package cli provides the command-line interface for autoreq.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zot/autoreq/internal/archive"
	"github.com/zot/autoreq/internal/config"
	"github.com/zot/autoreq/internal/luart"
	"github.com/zot/autoreq/internal/mcp"
	"github.com/zot/autoreq/internal/registry"
	"github.com/zot/autoreq/internal/repl"
	"github.com/zot/autoreq/internal/scan"
	"github.com/zot/autoreq/internal/server"
	"github.com/zot/autoreq/internal/watch"
)

const version = "0.2.0"

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		return runRepl(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	// Let hooks intercept first
	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "repl":
		return runRepl(cmdArgs)
	case "serve":
		return runServe(cmdArgs)
	case "mcp":
		return runMCP(cmdArgs)
	case "ls":
		return runLs(cmdArgs)
	case "pack":
		return runPack(cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "--version":
		printVersion(hooks)
		return 0
	default:
		// Check if it's a flag (starts with -)
		if len(command) > 0 && command[0] == '-' {
			return runRepl(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

// bootstrap loads config, creates the session, runs discovery, and
// populates the registry. The watcher starts when configured.
func bootstrap(args []string) (*config.Config, *luart.Session, *registry.Registry, *watch.Watcher, error) {
	cfg, err := config.Load(args)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	session, err := luart.NewSession(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	reg := registry.New(session)
	scanner := scan.NewScanner(probeViaSession(session), cfg.Log)
	candidates := scanner.Scan(cfg.Runtime.Path)
	for _, c := range candidates {
		cfg.Log(3, "scan: candidate '%s' (%s)", c.Name, c.Origin)
	}
	reg.Populate(candidates)

	var watcher *watch.Watcher
	if cfg.Runtime.Watch {
		watcher, err = watch.NewWatcher(cfg, reg)
		if err != nil {
			session.Shutdown()
			return nil, nil, nil, nil, err
		}
		if err := watcher.Start(); err != nil {
			session.Shutdown()
			return nil, nil, nil, nil, err
		}
	}

	return cfg, session, reg, watcher, nil
}

// probeViaSession adapts the session's loader probe to run on the
// executor, since scanning happens off the VM thread.
func probeViaSession(session *luart.Session) scan.LoaderProbe {
	return func(name string) bool {
		v, _ := session.Do(func() (interface{}, error) {
			return session.DirectHasLoader(name), nil
		})
		ok, _ := v.(bool)
		return ok
	}
}

func runRepl(args []string) int {
	cfg, session, reg, watcher, err := bootstrap(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer session.Shutdown()
	if watcher != nil {
		defer watcher.Stop()
	}

	r := repl.New(cfg, session, reg, os.Stdin, os.Stdout)
	if err := r.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runServe(args []string) int {
	cfg, session, reg, watcher, err := bootstrap(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer session.Shutdown()
	if watcher != nil {
		defer watcher.Stop()
	}

	srv := server.New(cfg, session, reg)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

func runMCP(args []string) int {
	cfg, session, reg, watcher, err := bootstrap(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer session.Shutdown()
	if watcher != nil {
		defer watcher.Stop()
	}

	if err := mcp.New(cfg, session, reg, version).Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "MCP error: %v\n", err)
		return 1
	}
	return 0
}

func runLs(args []string) int {
	_, session, reg, watcher, err := bootstrap(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer session.Shutdown()
	if watcher != nil {
		defer watcher.Stop()
	}

	for _, info := range reg.Infos() {
		state := "lazy"
		if info.Resolved {
			state = "loaded"
		}
		fmt.Printf("%s\t%s\n", info.Name, state)
	}
	return 0
}

func runPack(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: autoreq pack <module-dir> <output.zip>")
		return 1
	}
	if err := archive.Pack(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Packed %s into %s\n", args[0], args[1])
	return 0
}

func printHelp(hooks *Hooks) {
	fmt.Println(`autoreq - lazy auto-require for Lua sessions

Usage: autoreq [command] [options]

Commands:
  repl            Start an interactive session (default)
  serve           Expose the session over a WebSocket eval endpoint
  mcp             Expose the session over MCP on stdio
  ls              List discovered modules and their load state
  pack            Pack a module tree into a zip archive

Options:
  --path          Module search path, ';'-separated directories and
                  zip archives (default: '.' plus LUA_PATH dirs)
  --watch         Install/reload modules when files change
  --config        TOML config file (default: autoreq.toml)
  --host          Eval endpoint listen address (serve)
  --port          Eval endpoint listen port (serve)
  -v, -vv, -vvv   Verbosity

Examples:
  autoreq --path 'lua;vendor/modules.zip'
  autoreq serve --port 8925 --watch
  autoreq pack lua/ modules.zip
  autoreq ls --path lua`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Println(hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Println("autoreq v" + version)
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Println(hooks.CustomVersion())
	}
}
