package usecase

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// Resolver maps package ids to display names. It never fails: any
// registry error, empty label or panic yields the package id itself.
type Resolver struct {
	registry domain.LabelRegistry
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewResolver creates a resolver backed by registry. A nil registry
// resolves every package to its id.
func NewResolver(registry domain.LabelRegistry, logger *zap.Logger) *Resolver {
	return &Resolver{
		registry: registry,
		logger:   logger,
		cache:    make(map[string]string),
	}
}

// Resolve returns the label for packageID.
func (r *Resolver) Resolve(packageID string) string {
	if packageID == "" || r.registry == nil {
		return packageID
	}

	r.mu.RLock()
	label, ok := r.cache[packageID]
	r.mu.RUnlock()
	if ok {
		return label
	}

	label, ok = r.lookup(packageID)
	if !ok {
		return packageID
	}

	r.mu.Lock()
	r.cache[packageID] = label
	r.mu.Unlock()
	return label
}

func (r *Resolver) lookup(packageID string) (label string, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("label registry panicked",
				zap.String("package", packageID),
				zap.Any("panic", p))
			label, ok = "", false
		}
	}()

	label, err := r.registry.ResolveLabel(packageID)
	if err != nil {
		r.logger.Debug("label not found, using package id",
			zap.String("package", packageID),
			zap.Error(err))
		return "", false
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return "", false
	}
	return label, true
}
