package guardrails

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/types"
)

// ErrInvalidGuardrailType means the registry cannot resolve a type tag.
var ErrInvalidGuardrailType = errors.New("invalid guardrail type")

// Constructor builds a guardrail from its pipeline entry. Constructors read
// detector options exclusively from cfg.Config; the top-level fields name,
// type, enabled and on_error belong to the pipeline.
type Constructor func(cfg *config.GuardrailConfig, logger *zap.Logger) (types.Guardrail, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register binds a type tag to a constructor. Re-registration replaces the
// previous constructor. Registration is an explicit call at process start,
// see detectors.RegisterAll.
func Register(tag string, ctor Constructor) {
	if ctor == nil {
		panic(fmt.Sprintf("guardrails: nil constructor for %q", tag))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = ctor
}

// Unregister removes a tag. Mainly useful in tests.
func Unregister(tag string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, tag)
}

// New constructs a guardrail from a pipeline config entry.
func New(cfg *config.GuardrailConfig, logger *zap.Logger) (types.Guardrail, error) {
	if cfg.Name == "" {
		return nil, types.MissingFieldError("(unnamed)", "name")
	}
	if cfg.Type == "" {
		return nil, types.MissingFieldError(cfg.Name, "type")
	}

	registryMu.RLock()
	ctor, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q for guardrail %s", ErrInvalidGuardrailType, cfg.Type, cfg.Name)
	}
	return ctor(cfg, logger)
}

// Registered returns all known type tags in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// IsRegistered reports whether a type tag has a constructor.
func IsRegistered(tag string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[tag]
	return ok
}
