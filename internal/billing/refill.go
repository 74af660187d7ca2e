package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/revlane/assistant/internal/store"
)

// refillPeriod is how long a balance goes between monthly refills.
const refillPeriod = 30 * 24 * time.Hour

// Refiller periodically credits balances that are due their monthly refill.
type Refiller struct {
	ledger      store.Store
	amountCents int64
	cron        *cron.Cron
	log         *slog.Logger
}

// NewRefiller builds the scheduled refill sweep.
func NewRefiller(ledger store.Store, amountCents int64, log *slog.Logger) *Refiller {
	return &Refiller{
		ledger:      ledger,
		amountCents: amountCents,
		cron:        cron.New(),
		log:         log,
	}
}

// Start registers the sweep on the given cron schedule and starts the
// scheduler.
func (r *Refiller) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish.
func (r *Refiller) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep credits every balance whose last refill is older than the period.
func (r *Refiller) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	due, err := r.ledger.ListRefillDue(ctx, now.Add(-refillPeriod), 500)
	if err != nil {
		r.log.Error("refill sweep failed", "error", err)
		return
	}

	for _, b := range due {
		newBalance, err := r.ledger.CreditBalance(ctx, b.UserID, r.amountCents, now)
		if err != nil {
			r.log.Error("refill credit failed", "user_id", b.UserID, "error", err)
			continue
		}
		r.log.Info("balance refilled",
			"user_id", b.UserID, "credit_cents", r.amountCents, "balance_cents", newBalance)
	}
}
