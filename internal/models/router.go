// Package models resolves which model a task type runs on and holds the
// decrypted provider credentials.
package models

import (
	"fmt"

	"filippo.io/age"

	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/crypto"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Router maps task types to models and decrypts provider API keys on
// demand. The identity may be nil when no encrypted keys are configured.
type Router struct {
	source   config.Source
	identity age.Identity
}

// NewRouter creates a Router.
func NewRouter(source config.Source, identity age.Identity) *Router {
	return &Router{source: source, identity: identity}
}

// ModelFor returns the model configured for the task type, falling back to
// the default model.
func (r *Router) ModelFor(taskType types.TaskType) string {
	cfg := r.source.Config().Models
	if model, ok := cfg.Tasks[string(taskType)]; ok && model != "" {
		return model
	}
	return cfg.Default
}

// APIKey decrypts the provider's API key.
func (r *Router) APIKey(provider string) (string, error) {
	cfg := r.source.Config().Models
	providerCfg, ok := cfg.Providers[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
	if providerCfg.APIKeyEncrypted == "" {
		return "", fmt.Errorf("no API key configured for %s", provider)
	}
	if r.identity == nil {
		return "", fmt.Errorf("no identity loaded, cannot decrypt %s key", provider)
	}

	key, err := crypto.DecryptString(r.identity, providerCfg.APIKeyEncrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt %s key: %w", provider, err)
	}
	return key, nil
}
