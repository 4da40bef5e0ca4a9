// Package secret resolves logical credential names to values and keeps a
// process-wide redactor so resolved values never reach a log line or
// artefact file verbatim. Provider mirrors the NewFromAPIKey style the
// provider adapters already use (anthropic.NewFromAPIKey,
// openai.NewFromAPIKey): a single resolve call per logical name, cached for
// the life of the run.
package secret

import (
	"os"
	"strings"
	"sync"

	"github.com/weftrun/weft/internal/errs"
)

// Provider resolves a logical credential name to its value.
type Provider interface {
	Resolve(logicalName string) (string, error)
}

// EnvProvider resolves logical names against process environment
// variables, optionally through a name mapping (logical name -> env var
// name). Unmapped names are looked up verbatim.
type EnvProvider struct {
	lookupEnv func(string) (string, bool)
	mapping   map[string]string
}

// NewEnvProvider constructs an EnvProvider. mapping may be nil, in which
// case every logical name is looked up as an environment variable of the
// same name.
func NewEnvProvider(mapping map[string]string) *EnvProvider {
	return &EnvProvider{lookupEnv: os.LookupEnv, mapping: mapping}
}

// Resolve implements Provider.
func (p *EnvProvider) Resolve(logicalName string) (string, error) {
	envName := logicalName
	if mapped, ok := p.mapping[logicalName]; ok {
		envName = mapped
	}
	value, ok := p.lookupEnv(envName)
	if !ok || value == "" {
		return "", errs.New(errs.Secret, "missing secret %q", logicalName)
	}
	return value, nil
}

// Cache resolves each logical name through an underlying Provider exactly
// once per process, per spec's "resolved eagerly at startup, cached in
// process memory keyed by logical name".
type Cache struct {
	provider Provider
	redactor *Redactor

	mu     sync.Mutex
	values map[string]string
}

// NewCache constructs a Cache delegating misses to provider and registering
// every resolved value with redactor so it can be scrubbed from logs and
// artefacts.
func NewCache(provider Provider, redactor *Redactor) *Cache {
	return &Cache{provider: provider, redactor: redactor, values: make(map[string]string)}
}

// Resolve returns the cached value for logicalName, resolving and caching
// it on first use.
func (c *Cache) Resolve(logicalName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.values[logicalName]; ok {
		return v, nil
	}
	v, err := c.provider.Resolve(logicalName)
	if err != nil {
		return "", err
	}
	c.values[logicalName] = v
	if c.redactor != nil {
		c.redactor.Register(v)
	}
	return v, nil
}

// ResolveAll eagerly resolves every logical name in names, returning the
// first error encountered. Intended for startup-time warm-up so a missing
// secret fails the run before any unit is processed.
func (c *Cache) ResolveAll(names ...string) error {
	for _, name := range names {
		if _, err := c.Resolve(name); err != nil {
			return err
		}
	}
	return nil
}

// Redactor substitutes registered secret values with "****" in any string
// it is asked to scrub. Safe for concurrent use.
type Redactor struct {
	mu     sync.RWMutex
	values []string
}

// NewRedactor constructs an empty Redactor.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// Register adds v to the set of values future Redact calls will scrub. A
// zero-length v is ignored, since substring-replacing "" would corrupt
// every string passed to Redact.
func (r *Redactor) Register(v string) {
	if v == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

// Redact returns s with every registered secret value replaced by "****".
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.values {
		s = strings.ReplaceAll(s, v, "****")
	}
	return s
}
