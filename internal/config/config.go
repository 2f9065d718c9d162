// Package config handles configuration loading from CLI flags, environment variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for autoreq.
type Config struct {
	Runtime RuntimeConfig `toml:"runtime"`
	Server  ServerConfig  `toml:"server"`
	Logging LoggingConfig `toml:"logging"`
}

// RuntimeConfig holds Lua runtime and search-path settings.
type RuntimeConfig struct {
	// Path is the ordered module search path: directories and zip
	// archive files. Archives are recognized by their .zip extension.
	Path []string `toml:"path"`
	// Watch enables installing and reloading modules when files in
	// the search path change.
	Watch bool `toml:"watch"`
}

// ServerConfig holds settings for the WebSocket eval endpoint.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Verbosity int `toml:"verbosity"` // 0=none, 1=lifecycle, 2=modules, 3=resolution
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
// This allows both "-v -v -v" and "-vvv" styles to work.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] != '-' && arg[1] == 'v' {
			allV := true
			for _, c := range arg[1:] {
				if c != 'v' {
					allV = false
					break
				}
			}
			if allV {
				for range arg[1:] {
					result = append(result, "-v")
				}
				continue
			}
		}
		result = append(result, arg)
	}
	return result
}

// DefaultConfig returns a Config with all default values.
// The default search path is the current directory plus whatever
// directories LUA_PATH names.
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Path: defaultSearchPath(),
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8925,
		},
		Logging: LoggingConfig{
			Verbosity: 0,
		},
	}
}

// defaultSearchPath builds the initial search path from the current
// directory and the standard LUA_PATH environment variable.
func defaultSearchPath() []string {
	path := []string{"."}
	if env := os.Getenv("LUA_PATH"); env != "" {
		path = append(path, DirsFromLuaPath(env)...)
	}
	return path
}

// DirsFromLuaPath extracts directory entries from a LUA_PATH-style
// template string ("/a/?.lua;/b/?/init.lua" yields "/a" and "/b").
// Duplicates collapse to the first occurrence.
func DirsFromLuaPath(luaPath string) []string {
	var dirs []string
	seen := make(map[string]bool)
	for _, entry := range strings.Split(luaPath, ";") {
		entry = strings.TrimSpace(entry)
		idx := strings.Index(entry, "?")
		if idx < 0 {
			continue
		}
		dir := strings.TrimRight(entry[:idx], "/\\")
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	return dirs
}

// Load loads configuration from CLI flags, environment variables, and TOML file.
// Priority: CLI flags > env vars > TOML file > defaults
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	// Preprocess args to expand -vvv into -v -v -v
	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("autoreq", flag.ContinueOnError)
	pathFlag := fs.String("path", "", "Module search path (entries separated by ';')")
	watch := fs.Bool("watch", false, "Reload modules when files change")
	configFile := fs.String("config", "", "TOML config file")

	// Server flags
	host := fs.String("host", "", "Eval endpoint listen address")
	port := fs.Int("port", 0, "Eval endpoint listen port")

	// Logging flags
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load TOML config if present
	configPath := "autoreq.toml"
	if *configFile != "" {
		configPath = *configFile
	}
	if err := cfg.loadTOML(configPath); err != nil {
		if *configFile != "" || !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Apply environment variables
	cfg.applyEnv()

	// Apply CLI flags (highest priority)
	if *pathFlag != "" {
		cfg.Runtime.Path = splitPath(*pathFlag)
	}
	if *watch {
		cfg.Runtime.Watch = true
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("AUTOREQ_PATH"); v != "" {
		c.Runtime.Path = splitPath(v)
	}
	if v := os.Getenv("AUTOREQ_WATCH"); v != "" {
		c.Runtime.Watch = v == "true" || v == "1"
	}
	if v := os.Getenv("AUTOREQ_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("AUTOREQ_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("AUTOREQ_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// splitPath splits a ';'-separated search path string, dropping empty entries.
func splitPath(s string) []string {
	var path []string
	for _, entry := range strings.Split(s, ";") {
		if entry = strings.TrimSpace(entry); entry != "" {
			path = append(path, entry)
		}
	}
	return path
}

// Verbosity returns the configured verbosity level.
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// Log logs a message when the configured verbosity is at least level.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if c.Logging.Verbosity >= level {
		log.Printf(format, args...)
	}
}
