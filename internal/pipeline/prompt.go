package pipeline

import (
	"sync"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/identity"
	"github.com/weftrun/weft/internal/template"
)

// PromptEntry is one registered prompt version.
type PromptEntry struct {
	ID          string
	Version     string
	Template    string
	ContentHash string
}

// PromptRegistry is the explicit registry object spec §9 calls for in
// place of decorator-style prompt hooks: register(id, version, template,
// content_hash); steps reference entries by {id, version}.
type PromptRegistry struct {
	hasher *identity.Hasher

	mu      sync.RWMutex
	entries map[string]PromptEntry
}

// NewPromptRegistry constructs an empty registry. hasher derives each
// registered template's content_hash so RunRecord.prompts_used can name it
// without re-hashing the template at every lookup.
func NewPromptRegistry(hasher *identity.Hasher) *PromptRegistry {
	return &PromptRegistry{hasher: hasher, entries: make(map[string]PromptEntry)}
}

// Register adds template under {id, version}, overwriting any prior entry
// at the same key.
func (r *PromptRegistry) Register(id, version, template string) PromptEntry {
	contentHash := r.hasher.BlobID(id+"|"+version, "text/plain", []byte(template))
	entry := PromptEntry{ID: id, Version: version, Template: template, ContentHash: contentHash}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[promptKey(id, version)] = entry
	return entry
}

// Lookup returns the entry registered under {id, version}.
func (r *PromptRegistry) Lookup(id, version string) (PromptEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[promptKey(id, version)]
	return entry, ok
}

// Resolve returns the template text a step's prompt_template field refers
// to: the literal text itself if it carries the inline: prefix, or the
// registered template at {id, version} otherwise (spec §3's "prompt_id#version"
// reference form).
func (r *PromptRegistry) Resolve(promptTemplate string) (string, error) {
	if text, ok := template.IsInline(promptTemplate); ok {
		return text, nil
	}
	id, version, err := splitPromptRef(promptTemplate)
	if err != nil {
		return "", err
	}
	entry, ok := r.Lookup(id, version)
	if !ok {
		return "", errs.New(errs.Config, "unknown prompt reference %q", promptTemplate)
	}
	return entry.Template, nil
}

func promptKey(id, version string) string {
	return id + "#" + version
}

func splitPromptRef(ref string) (id, version string, err error) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '#' {
			return ref[:i], ref[i+1:], nil
		}
	}
	return "", "", errs.New(errs.Config, "prompt reference %q is missing a #version suffix", ref)
}
