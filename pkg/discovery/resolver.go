package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Discoverer interface {
	Discover(ctx context.Context, serviceName string) ([]*ServiceInstance, error)
}

// Resolver turns a service name into a base URL, preferring instances
// registered in etcd and falling back to a static URL.
type Resolver struct {
	disc     Discoverer
	name     string
	fallback string
	logger   *zap.Logger
}

// NewResolver accepts a nil discoverer, in which case the fallback is always used.
func NewResolver(disc Discoverer, name, fallback string, logger *zap.Logger) *Resolver {
	return &Resolver{disc: disc, name: name, fallback: fallback, logger: logger}
}

func (r *Resolver) BaseURL(ctx context.Context) string {
	if r.disc == nil {
		return r.fallback
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	instances, err := r.disc.Discover(ctx, r.name)
	if err != nil || len(instances) == 0 {
		r.logger.Debug("Using default address for service",
			zap.String("service", r.name),
			zap.String("address", r.fallback),
			zap.Error(err))
		return r.fallback
	}

	return fmt.Sprintf("http://%s", instances[0].Addr())
}
