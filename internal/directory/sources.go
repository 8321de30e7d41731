package directory

import (
	"context"

	"github.com/celeratec/cipp-console/internal/diagnose"
	"github.com/celeratec/cipp-console/internal/shared"
)

// Sources exposes every configured probe as a diagnostic source.
func (c *Client) Sources() []diagnose.Source {
	probes := c.Probes()
	sources := make([]diagnose.Source, 0, len(probes))
	for _, p := range probes {
		id := p.ID
		sources = append(sources, diagnose.Source{
			ID:   id,
			Area: p.Area,
			Fetch: func(ctx context.Context, tenant string) (shared.Snapshot, error) {
				return c.FetchSnapshot(ctx, id, tenant)
			},
		})
	}
	return sources
}
