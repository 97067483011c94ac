package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"defiledger/native/amm"
	"defiledger/native/lending"
)

// Bootstrap lists every catalog market and deploys every catalog pool that
// does not exist yet. Entries already present are left untouched, so the
// catalog can be replayed on every start.
func (o *Orchestrator) Bootstrap(ctx context.Context, markets []lending.MarketParams, pools []amm.PoolParams) (created int, err error) {
	for _, params := range markets {
		if _, err := o.ListMarket(ctx, params); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				continue
			}
			return created, fmt.Errorf("bootstrap market %s: %w", params.Symbol, err)
		}
		created++
	}
	for _, params := range pools {
		if _, err := o.DeployPool(ctx, params); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				continue
			}
			return created, fmt.Errorf("bootstrap pool %s: %w", params.ID, err)
		}
		created++
	}
	if created > 0 {
		o.logger.InfoContext(ctx, "catalog bootstrapped", "created", created)
	}
	return created, nil
}
