// Package config collects the free-standing debug toggles the 'asm' and 'vm' parsers read
// from the environment into a single struct, loaded once via caarlos0/env instead of each
// parser doing its own scattered os.Getenv calls.
package config

import "github.com/caarlos0/env/v6"

// Debug holds the feature flags the goparsec-based front-ends (pkg/asm, pkg/vm) consult while
// building their AST.
type Debug struct {
	// ParsecDebug enables goparsec's own verbose trace of which parser combinators match.
	ParsecDebug bool `env:"PARSEC_DEBUG"`
	// ExportAST writes a Graphviz .dot rendering of the parsed AST into DebugFolder.
	ExportAST bool `env:"EXPORT_AST"`
	// PrintAST pretty-prints the parsed AST to stdout.
	PrintAST bool `env:"PRINT_AST"`
	// DebugFolder is where ExportAST's debug.ast.dot file is written.
	DebugFolder string `env:"DEBUG_FOLDER" envDefault:"."`
}

// Load reads the Debug flags from the environment. Malformed values (e.g. a non-boolean
// PARSEC_DEBUG) are reported through err rather than silently ignored.
func Load() (Debug, error) {
	var cfg Debug
	if err := env.Parse(&cfg); err != nil {
		return Debug{}, err
	}
	return cfg, nil
}
