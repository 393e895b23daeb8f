package briefing

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
	"github.com/zhouzirui/briefing/backend/internal/service/session"
)

// Sweeper abandons sessions without inbound activity for longer than the
// inactivity window. It is just another CAS writer.
type Sweeper struct {
	orch *Orchestrator
}

// NewSweeper binds a sweeper to the orchestrator.
func NewSweeper(orch *Orchestrator) *Sweeper {
	return &Sweeper{orch: orch}
}

// SweepOnce abandons idle sessions and returns how many were closed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	o := s.orch
	cutoff := o.now().Add(-o.cfg.InactivityWindow)
	idle, err := o.store.List(ctx, session.Filter{
		Statuses:   []briefing.Status{briefing.StatusCreated, briefing.StatusAwaitingAnswer},
		IdleBefore: cutoff,
		Limit:      o.cfg.SweepBatch,
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, sess := range idle {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		committed, err := o.close(ctx, sess.ID, "inactive since "+session.LastActivity(sess).Format(time.RFC3339),
			sess.ID+":timeout", inactiveMessage, func(current briefing.Session) bool {
				return session.LastActivity(current).Before(cutoff)
			})

		var deliveryErr *MessagingDeliveryError
		switch {
		case err == nil, errors.As(err, &deliveryErr):
			if committed.Status == briefing.StatusAbandoned {
				closed++
			}
		case errors.Is(err, ErrAlreadyTerminal):
		default:
			log.Printf("[sweeper] session=%s not closed: %v", sess.ID, err)
		}
	}
	return closed, nil
}

// Run sweeps every SweepInterval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.orch.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				log.Printf("[sweeper] sweep failed: %v", err)
			}
			if n > 0 {
				log.Printf("[sweeper] abandoned %d idle session(s)", n)
			}
		}
	}
}
