package dialer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/rupeeline/collectbot/internal/engine"
	"github.com/rupeeline/collectbot/internal/store"
)

// Initiator is the engine surface the dialer drives.
type Initiator interface {
	Initiate(ctx context.Context, borrowerID string) (*store.CallSession, error)
}

// Options bound the outbound campaign.
type Options struct {
	Interval        time.Duration
	BatchSize       int
	CallingStart    int
	CallingEnd      int
	MaxCallAttempts int
	Location        *time.Location
}

// Dialer periodically initiates outbound collection calls to overdue
// borrowers inside calling hours, and runs a daily pass marking expired
// payment promises broken.
type Dialer struct {
	store     store.Store
	initiator Initiator
	opts      Options

	now            func() time.Time
	lastCleanupDay string
}

func New(st store.Store, initiator Initiator, opts Options) *Dialer {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxCallAttempts <= 0 {
		opts.MaxCallAttempts = 3
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Dialer{
		store:     st,
		initiator: initiator,
		opts:      opts,
		now:       time.Now,
	}
}

// Start launches the campaign loop; it stops when ctx is canceled.
func (d *Dialer) Start(ctx context.Context) {
	ticker := time.NewTicker(d.opts.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()
}

func (d *Dialer) tick(ctx context.Context) {
	now := d.now().In(d.opts.Location)
	d.maybeCleanup(ctx, now)
	if !d.withinCallingHours(now) {
		return
	}
	if n := d.runBatch(ctx); n > 0 {
		log.Printf("[dialer] initiated %d outbound calls", n)
	}
}

// runBatch initiates calls for one batch of eligible borrowers and reports
// how many were started.
func (d *Dialer) runBatch(ctx context.Context) int {
	borrowers, err := d.store.OverdueBorrowers(ctx, d.opts.MaxCallAttempts, d.opts.BatchSize)
	if err != nil {
		log.Printf("[dialer] overdue borrower query failed: %v", err)
		return 0
	}
	started := 0
	for _, b := range borrowers {
		if ctx.Err() != nil {
			return started
		}
		if _, err := d.initiator.Initiate(ctx, b.ID); err != nil {
			// A borrower opting out between the query and the call is expected.
			if !errors.Is(err, engine.ErrBorrowerDNC) {
				log.Printf("[dialer] initiate for borrower %s failed: %v", b.ID, err)
			}
			continue
		}
		started++
	}
	return started
}

// maybeCleanup runs the promise expiry pass at most once per calendar day.
func (d *Dialer) maybeCleanup(ctx context.Context, now time.Time) {
	day := now.Format("2006-01-02")
	if day == d.lastCleanupDay {
		return
	}
	n, err := d.store.MarkExpiredPromisesBroken(ctx, now)
	if err != nil {
		log.Printf("[dialer] promise cleanup failed: %v", err)
		return
	}
	d.lastCleanupDay = day
	if n > 0 {
		log.Printf("[dialer] marked %d expired promises broken", n)
	}
}

func (d *Dialer) withinCallingHours(now time.Time) bool {
	h := now.Hour()
	return h >= d.opts.CallingStart && h < d.opts.CallingEnd
}
