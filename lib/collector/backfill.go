package collector

import (
	"context"
	"fmt"
	"log/slog"
)

// BackfillResult summarizes a company backfill.
type BackfillResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Backfill looks up companies for items of the latest snapshot date that
// have none, and writes them onto every row of those items.
func (c *Collector) Backfill(ctx context.Context, limit int) (*BackfillResult, error) {
	ok, err := c.locker.TryLock(ctx, LockKey, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire collection lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		if err := c.locker.Unlock(context.WithoutCancel(ctx), LockKey); err != nil {
			c.logger.Error("Failed to release collection lock", slog.Any("error", err))
		}
	}()

	return c.backfill(ctx, c.logger, NewDetailCache(c.catalog), limit)
}

func (c *Collector) backfill(ctx context.Context, logger *slog.Logger, cache *DetailCache, limit int) (*BackfillResult, error) {
	keys, err := c.store.ItemsMissingCompanies(ctx, limit)
	if err != nil {
		return nil, err
	}

	res := &BackfillResult{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		names, err := cache.Companies(ctx, key)
		if err != nil {
			res.Errors++
			logger.DebugContext(ctx, "Failed to fetch details", slog.String("item", key.String()), slog.Any("error", err))
			continue
		}
		if len(names) == 0 {
			continue
		}

		if _, err := c.store.SetCompanies(ctx, key, names); err != nil {
			return res, err
		}
		res.Updated++
	}

	logger.InfoContext(ctx, "Company backfill finished",
		slog.Int("checked", res.Checked),
		slog.Int("updated", res.Updated),
		slog.Int("errors", res.Errors))
	return res, nil
}
