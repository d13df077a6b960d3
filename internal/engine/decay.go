package engine

// Credit decay:
//   - score *= exp(-decayRate * days) for every record, accessed or not
//   - decayRate is stored per record (0.01/day by default)
//   - scores move toward zero from either side; nothing is floored
//   - one lifecycle log entry per pass, listing every decayed id
//   - the scheduler runs it daily with the whole days since the last run

import (
	"context"
	"fmt"
	"math"

	"github.com/lazypower/nanobrain/internal/store"
)

// ApplyDecay decays every record by days and returns how many were
// touched. days <= 0 changes nothing. The pass commits as one transaction.
func (t *Tracker) ApplyDecay(ctx context.Context, days float64) (int, error) {
	if days <= 0 || math.IsNaN(days) {
		return 0, nil
	}

	now := t.nowMillis()
	var count int
	err := t.DB.WithTx(ctx, func(l store.Ledger) error {
		records, err := l.ListCredits(ctx)
		if err != nil {
			return err
		}

		ids := make([]string, len(records))
		for i, r := range records {
			decayed := r.Score * math.Exp(-r.DecayRate*days)
			if err := l.SetScore(ctx, r.ID, decayed); err != nil {
				return err
			}
			ids[i] = r.ID
		}

		details := fmt.Sprintf("Applied decay for %g day(s)", days)
		if err := l.AppendLifecycle(ctx, store.ActionDecay, ids, details, now); err != nil {
			return err
		}
		count = len(records)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply decay: %w", err)
	}

	if count > 0 {
		t.Logger.Info("decay: updated records", "count", count, "days", days)
	}
	return count, nil
}
