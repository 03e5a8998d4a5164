// Package match decides which monitored destination, if any, a navigated URL
// belongs to. The decision is a rego policy so operators can override it.
package match

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

const query = "data.puzzlegate.match.destination"

//go:embed policy/*.rego
var builtin embed.FS

// Engine evaluates the destination matching policy.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewEngine loads the matching policy. An empty policyDir uses the built-in
// substring policy.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "match").Logger(),
	}

	if err := e.load(); err != nil {
		return nil, err
	}

	e.logger.Info().Str("policy_dir", e.source()).Msg("Match policy initialized")
	return e, nil
}

// Match returns the destination url belongs to, or "" when none matches.
func (e *Engine) Match(ctx context.Context, url string, destinations []string) (string, error) {
	if url == "" || len(destinations) == 0 {
		return "", nil
	}

	e.mu.RLock()
	q := e.query
	e.mu.RUnlock()

	start := time.Now()
	results, err := q.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"url":          url,
		"destinations": destinations,
	}))
	if err != nil {
		return "", fmt.Errorf("match query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(start)).Str("url", url).Msg("Match query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", nil
	}

	dest, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("match result is not a string: %T", results[0].Expressions[0].Value)
	}
	if dest != "" && !slices.Contains(destinations, dest) {
		e.logger.Warn().Str("destination", dest).Msg("Policy matched a destination that is not configured")
		return "", nil
	}

	return dest, nil
}

// Reload re-reads the policy files.
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading match policy")

	if err := e.load(); err != nil {
		return fmt.Errorf("failed to reload match policy: %w", err)
	}

	e.logger.Info().Msg("Match policy reloaded successfully")
	return nil
}

func (e *Engine) load() error {
	modules, err := e.loadModules()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	opts := []func(*rego.Rego){rego.Query(query)}
	for name, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
		e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare match query: %w", err)
	}

	e.mu.Lock()
	e.query = prepared
	e.mu.Unlock()

	return nil
}

func (e *Engine) loadModules() (map[string]*ast.Module, error) {
	modules := make(map[string]*ast.Module)

	if e.policyDir == "" {
		entries, err := builtin.ReadDir("policy")
		if err != nil {
			return nil, fmt.Errorf("failed to read built-in policy: %w", err)
		}
		for _, entry := range entries {
			name := "policy/" + entry.Name()
			content, err := builtin.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("failed to read built-in policy %s: %w", name, err)
			}
			module, err := ast.ParseModule(name, string(content))
			if err != nil {
				return nil, fmt.Errorf("failed to parse built-in policy %s: %w", name, err)
			}
			modules[name] = module
		}
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.policyDir)
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}
		modules[file] = module
	}

	return modules, nil
}

func (e *Engine) source() string {
	if e.policyDir == "" {
		return "built-in"
	}
	return e.policyDir
}
