package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownProvider is returned by NewValidator for an unregistered authProvider.
var ErrUnknownProvider = errors.New("unknown auth provider")

// ProviderConfig selects a provider by the authProvider setting and carries
// its authConfig block as JSON.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory builds a validator from a provider's authConfig.
type ValidatorFactory func(config json.RawMessage) (Validator, error)

// Providers register themselves from init, so the server binary decides
// which ones exist by importing their packages.
var providers = struct {
	sync.RWMutex
	factories map[string]ValidatorFactory
}{factories: make(map[string]ValidatorFactory)}

func providerName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterProvider makes a provider selectable by name. Names are case
// insensitive; registering a name twice replaces the earlier factory.
func RegisterProvider(name string, factory ValidatorFactory) {
	if factory == nil {
		panic("auth: nil factory for provider " + name)
	}
	providers.Lock()
	defer providers.Unlock()
	providers.factories[providerName(name)] = factory
}

// NewValidator builds the validator guarding conversions and job history.
func NewValidator(pc ProviderConfig) (Validator, error) {
	name := providerName(pc.Type)
	providers.RLock()
	factory, ok := providers.factories[name]
	providers.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownProvider, pc.Type, strings.Join(ListProviders(), ", "))
	}

	v, err := factory(pc.Config)
	if err != nil {
		return nil, fmt.Errorf("auth provider %s: %w", name, err)
	}
	return v, nil
}

// ListProviders returns the registered provider names in sorted order.
func ListProviders() []string {
	providers.RLock()
	defer providers.RUnlock()
	names := make([]string, 0, len(providers.factories))
	for name := range providers.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
