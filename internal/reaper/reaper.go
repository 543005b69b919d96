package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/LobbyChat/internal/model"
	"github.com/Gopher0727/LobbyChat/internal/pkg/gateway"
)

const defaultBatchSize = 100

// Expirer lists and deletes groups past their expiry. Implemented by the group service.
type Expirer interface {
	ListExpired(ctx context.Context, limit int) ([]*model.Group, error)
	DeleteExpired(ctx context.Context, groupID string) (bool, error)
}

// RoomDropper tears down a group's live room.
type RoomDropper interface {
	DropRoom(groupID, reason string) int
}

// Reaper periodically removes expired groups: their subscribers are told the
// group expired, then the group is deleted with everything it owns.
type Reaper struct {
	groups    Expirer
	rooms     RoomDropper
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func New(groups Expirer, rooms RoomDropper, interval time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{
		groups:    groups,
		rooms:     rooms,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

// Run reaps once immediately, then every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", zap.Duration("interval", r.interval))
	r.cycle(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Reaper) cycle(ctx context.Context) {
	start := time.Now()
	reaped, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("reap cycle failed", zap.Int("reaped", reaped), zap.Error(err))
		return
	}
	if reaped > 0 {
		r.logger.Info("reap cycle finished", zap.Int("reaped", reaped), zap.Duration("took", time.Since(start)))
	}
}

// RunOnce reaps every currently expired group in batches and returns how many
// were deleted. A failure on one group is logged and does not stop the cycle;
// only a failure to list stops it.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	reaped := 0
	for {
		groups, err := r.groups.ListExpired(ctx, r.batchSize)
		if err != nil {
			return reaped, err
		}

		progressed := 0
		for _, g := range groups {
			if ctx.Err() != nil {
				return reaped, ctx.Err()
			}
			r.rooms.DropRoom(g.ID, gateway.ReasonExpired)

			deleted, err := r.groups.DeleteExpired(ctx, g.ID)
			if err != nil {
				r.logger.Warn("failed to delete expired group",
					zap.String("group_id", g.ID),
					zap.Error(err),
				)
				continue
			}
			progressed++
			if deleted {
				reaped++
				r.logger.Debug("group expired",
					zap.String("group_id", g.ID),
					zap.Time("expires_at", g.ExpiresAt),
				)
			}
		}

		// a short batch means nothing is left; a batch with no progress would repeat forever
		if len(groups) < r.batchSize || progressed == 0 {
			return reaped, nil
		}
	}
}
