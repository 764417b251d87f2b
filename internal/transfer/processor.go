package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/atomex-api/internal/chain"
	"github.com/ksred/atomex-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Finalizer closes a route when its self-addressed finalize instruction
// comes back around. Implemented by the route service; injected to keep the
// dispatcher free of route semantics.
type Finalizer interface {
	FinalizeRoute(self, routeID string) error
}

// Processor drains the outbox: transfers go out through the client, the
// self-addressed finalize check is delivered back into the route service.
// Each cycle advances the logical height by one.
type Processor struct {
	db            *Database
	gorm          *gorm.DB
	client        Client
	finalizer     Finalizer
	self          string
	dispatchDelay time.Duration
}

func NewProcessor(gormDB *gorm.DB, client Client, finalizer Finalizer, self string, delay time.Duration) *Processor {
	return &Processor{
		db:            NewDatabase(gormDB),
		gorm:          gormDB,
		client:        client,
		finalizer:     finalizer,
		self:          self,
		dispatchDelay: delay,
	}
}

// Start begins the dispatch loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "transfer_processor").Logger()
	logger.Info().Msg("starting transfer processor")

	ticker := time.NewTicker(p.dispatchDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down transfer processor")
			return
		case <-ticker.C:
			if err := p.ProcessPending(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to process pending instructions")
			}
		}
	}
}

// ProcessPending dispatches every pending instruction once and advances the
// logical height. Exposed so tests and the simulation can drive cycles
// without the ticker.
func (p *Processor) ProcessPending(ctx context.Context) error {
	logger := log.With().Str("component", "transfer_processor").Logger()

	if _, err := chain.Advance(p.gorm); err != nil {
		return err
	}

	instructions, err := p.db.GetPendingInstructions()
	if err != nil {
		return err
	}
	if len(instructions) > 0 {
		logger.Info().Int("pending_count", len(instructions)).Msg("dispatching pending instructions")
	}

	for i := range instructions {
		instr := &instructions[i]

		var dispatchErr error
		if instr.Kind == KindFinalize {
			dispatchErr = p.finalizer.FinalizeRoute(p.self, instr.RouteID)
			if errors.Is(dispatchErr, types.ErrInvalidState) {
				// The route has not drained yet: the instruction was
				// scheduled at route begin, often in the same cycle as the
				// borrow transfer. Leave it pending so it retries until the
				// callbacks have unwound the chain.
				logger.Debug().
					Str("route_id", instr.RouteID).
					Msg("route not ready to finalize, will retry")
				continue
			}
		} else {
			dispatchErr = p.client.Transfer(ctx, instr)
		}

		if dispatchErr != nil {
			instr.Status = StatusFailed
			logger.Error().
				Err(dispatchErr).
				Str("transfer_id", instr.TransferID).
				Str("kind", instr.Kind).
				Msg("instruction dispatch failed")
		} else {
			instr.Status = StatusSent
		}

		if err := p.db.UpdateInstruction(instr); err != nil {
			logger.Error().
				Err(err).
				Str("transfer_id", instr.TransferID).
				Msg("failed to update instruction status")
		}
	}

	return nil
}
