// Package cli provides the command-line interface for autoreq.
// This file re-exports internal packages for embedding projects.
package cli

import (
	"github.com/zot/autoreq/internal/archive"
	"github.com/zot/autoreq/internal/config"
	"github.com/zot/autoreq/internal/luart"
	"github.com/zot/autoreq/internal/registry"
	"github.com/zot/autoreq/internal/scan"
	"github.com/zot/autoreq/internal/server"
)

// Re-export core types for embedders
type (
	Config        = config.Config
	Session       = luart.Session
	Registry      = registry.Registry
	Handle        = registry.Handle
	ModuleInfo    = registry.ModuleInfo
	Candidate     = scan.Candidate
	Scanner       = scan.Scanner
	Server        = server.Server
	ModuleArchive = archive.Archive
)

// Re-export typed errors so embedders branch on variant
type (
	NotFoundError    = registry.NotFoundError
	NotCallableError = registry.NotCallableError
	ImportError      = registry.ImportError
)

// Re-export constructors
var (
	LoadConfig  = config.Load
	NewSession  = luart.NewSession
	NewRegistry = registry.New
	NewScanner  = scan.NewScanner
	NewServer   = server.New
	OpenArchive = archive.Open
	PackArchive = archive.Pack
	HandleOf    = registry.HandleOf
)
