/*
Package settings supplies the system-wide rates to the workflows.

PURPOSE:
  Billing and pricing read water, electricity and deposit rates. They read
  them once per batch through a Provider and then pass the snapshot down
  explicitly, so a batch never mixes two rate versions.

PROVIDERS:
  Static           Fixed value (tests, CLI overrides)
  GatewayProvider  Newest system_settings row
  CachedProvider   Read-through cache in front of another provider,
                   backed by Redis or a local TTL map

EDITING:
  The core never writes settings. Service.Save is the admin workflow that
  edits them, invalidates the cache and lets the caller react (room price
  sync) through a change hook.

SEE ALSO:
  - validate.go: Health check of stored settings
  - pricing/: Reacts to saved settings
*/
package settings

import (
	"context"

	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/repository"
)

// Provider returns the current settings.
type Provider interface {
	Current(ctx context.Context) (dorm.Settings, error)
}

// Static always returns the same settings.
type Static dorm.Settings

func (s Static) Current(context.Context) (dorm.Settings, error) { return dorm.Settings(s), nil }

// GatewayProvider reads the newest system_settings row.
type GatewayProvider struct {
	repo *repository.Repository
}

func NewGatewayProvider(gw gateway.Gateway) *GatewayProvider {
	return &GatewayProvider{repo: repository.New(gw, nil)}
}

func (p *GatewayProvider) Current(ctx context.Context) (dorm.Settings, error) {
	return p.repo.LatestSettings(ctx)
}

var (
	_ Provider = Static{}
	_ Provider = (*GatewayProvider)(nil)
)
