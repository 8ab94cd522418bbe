package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"stepDuelAPI/internal/types/challenge"
)

// StepOracle is the device step counter. CumulativeSteps must answer
// arbitrary historical ranges: the sync loop always asks for the whole
// [start, now] window, so a restarted loop recovers the full total instead
// of double-counting deltas.
type StepOracle interface {
	IsAvailable(ctx context.Context) (bool, error)
	RequestPermission(ctx context.Context) error
	CumulativeSteps(ctx context.Context, from, to time.Time) (int64, error)
}

const defaultSyncInterval = 3 * time.Second

// ProgressSyncer pushes one participant's step count into an active duel.
// Each participant runs their own syncer; the two never share state and
// each writes only its own progress column, so their writes cannot race.
type ProgressSyncer struct {
	rivalry  *RivalryService
	oracle   StepOracle
	interval time.Duration
}

func NewProgressSyncer(rivalry *RivalryService, oracle StepOracle) *ProgressSyncer {
	return &ProgressSyncer{
		rivalry:  rivalry,
		oracle:   oracle,
		interval: defaultSyncInterval,
	}
}

// SetInterval overrides the poll interval. Tests use millisecond intervals.
func (p *ProgressSyncer) SetInterval(interval time.Duration) {
	p.interval = interval
}

// Run polls until the duel finishes or ctx ends. A failed tick is logged
// and skipped; the next tick retries, so transient store or oracle outages
// cost at most one interval of staleness.
func (p *ProgressSyncer) Run(ctx context.Context, challengeID uuid.UUID, userID string) error {
	c, err := p.rivalry.GetChallengeByID(ctx, challengeID)
	if err != nil {
		return fmt.Errorf("cannot sync unknown duel %s: %w", challengeID, err)
	}
	if c.ChallengeType != challenge.TypeSteps {
		return fmt.Errorf("duel %s tracks %s, step sync not applicable", challengeID, c.ChallengeType)
	}
	if c.RoleOf(userID) == challenge.RoleNone {
		return fmt.Errorf("user %s is not a participant of duel %s", userID, challengeID)
	}

	available, err := p.oracle.IsAvailable(ctx)
	if err != nil {
		return fmt.Errorf("step oracle probe failed: %w", err)
	}
	if !available {
		return fmt.Errorf("step oracle is not available on this device")
	}
	if err := p.oracle.RequestPermission(ctx); err != nil {
		return fmt.Errorf("step permission denied: %w", err)
	}

	// The duel may be scheduled in the future; steps before start never count.
	if wait := time.Until(c.StartTime); wait > 0 {
		log.Printf("ProgressSync: duel %s starts in %s, waiting", challengeID, wait.Round(time.Second))
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			done := p.tick(ctx, challengeID, userID, c.StartTime)
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tick performs one fetch-measure-push round. It returns true once the duel
// is observed finished.
func (p *ProgressSyncer) tick(ctx context.Context, challengeID uuid.UUID, userID string, startTime time.Time) bool {
	c, err := p.rivalry.GetChallengeByID(ctx, challengeID)
	if err != nil {
		log.Printf("ProgressSync: re-fetch of duel %s failed, skipping tick: %v", challengeID, err)
		syncTicksTotal.WithLabelValues("skipped").Inc()
		return false
	}

	if c.Status == challenge.StatusFinished {
		log.Printf("ProgressSync: duel %s finished, stopping", challengeID)
		return true
	}

	total, err := p.oracle.CumulativeSteps(ctx, startTime, time.Now())
	if err != nil {
		log.Printf("ProgressSync: step query failed, skipping tick: %v", err)
		syncTicksTotal.WithLabelValues("skipped").Inc()
		return false
	}

	// Monotonicity is enforced here, before the write: the store accepts
	// whatever it is given, so a lower or equal total is never sent.
	if total <= c.ProgressOf(userID) {
		syncTicksTotal.WithLabelValues("unchanged").Inc()
		return false
	}

	if err := p.rivalry.UpdateChallengeProgress(ctx, challengeID, userID, total); err != nil {
		log.Printf("ProgressSync: push of %d steps failed, skipping tick: %v", total, err)
		syncTicksTotal.WithLabelValues("skipped").Inc()
		return false
	}
	syncTicksTotal.WithLabelValues("pushed").Inc()
	return false
}
