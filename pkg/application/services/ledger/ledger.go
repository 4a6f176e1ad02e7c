// Package ledger stores allocation edges and enforces their invariants:
// no overconsumption of a position or budget, exclusive binary claims, and
// protection of affected dependents against retraction.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vsinha/affect/pkg/application/services/shared"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
	"github.com/vsinha/affect/pkg/infrastructure/events"
)

// Config holds the collaborators of a Ledger
type Config struct {
	Logger   logrus.FieldLogger
	Registry *shared.Registry
	// Events receives edge changes after each successful commit. Optional.
	Events events.EventStore
}

// DefaultConfig returns a config logging to the standard logrus logger
func DefaultConfig() Config {
	return Config{
		Logger:   logrus.StandardLogger(),
		Registry: shared.NewRegistry(),
	}
}

// Ledger runs edge operations in transactions
type Ledger struct {
	store      repositories.Store
	registry   *shared.Registry
	strategies map[entities.Mode]Strategy
	log        logrus.FieldLogger
	events     events.EventStore
}

// NewLedger creates a ledger with the default configuration
func NewLedger(store repositories.Store) *Ledger {
	return NewLedgerWithConfig(store, DefaultConfig())
}

// NewLedgerWithConfig creates a ledger with custom collaborators
func NewLedgerWithConfig(store repositories.Store, config Config) *Ledger {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Registry == nil {
		config.Registry = shared.NewRegistry()
	}
	return &Ledger{
		store:    store,
		registry: config.Registry,
		strategies: map[entities.Mode]Strategy{
			entities.ModePhase:       &phaseStrategy{},
			entities.ModeLaunch:      &launchStrategy{},
			entities.ModeReservation: &reservationStrategy{},
		},
		log:    config.Logger,
		events: config.Events,
	}
}

// Registry returns the entity registry used for mirrors
func (l *Ledger) Registry() *shared.Registry { return l.registry }

// Logger returns the ledger logger
func (l *Ledger) Logger() logrus.FieldLogger { return l.log }

// Strategy returns the strategy handling a mode
func (l *Ledger) Strategy(mode entities.Mode) (Strategy, error) {
	s, ok := l.strategies[mode]
	if !ok {
		return nil, domainerr.Newf(domainerr.CodeInvalidArgument, "no strategy for %s edges", mode)
	}
	return s, nil
}

// StrategyForOwner returns the strategy of the mode whose edges kind owns
func (l *Ledger) StrategyForOwner(kind entities.Kind) (Strategy, error) {
	for mode, s := range l.strategies {
		if mode.OwnerKind() == kind {
			return s, nil
		}
	}
	return nil, domainerr.Newf(domainerr.CodeInvalidArgument, "%s does not own allocation edges", kind)
}

// Run executes fn in one transaction. Each writer operation is checked as it
// is applied.
func (l *Ledger) Run(ctx context.Context, fn func(ctx context.Context, w *Writer) error) error {
	return l.run(ctx, false, fn)
}

// Bulk executes fn in one transaction with invariant checks deferred until fn
// returns. The touched scope is validated once before commit; any violation
// rolls back every write.
func (l *Ledger) Bulk(ctx context.Context, fn func(ctx context.Context, w *Writer) error) error {
	return l.run(ctx, true, fn)
}

// View executes a read-only fn. Writes made by fn are discarded.
func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, w *Writer) error) error {
	errDiscard := errors.New("discard view transaction")
	var fnErr error
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		fnErr = fn(ctx, newWriter(l, tx, false))
		return errDiscard
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil && !errors.Is(err, errDiscard) {
		return err
	}
	return nil
}

func (l *Ledger) run(ctx context.Context, deferred bool, fn func(ctx context.Context, w *Writer) error) error {
	var pending []events.Event
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		w := newWriter(l, tx, deferred)
		if err := fn(ctx, w); err != nil {
			return err
		}
		if err := w.Validate(ctx); err != nil {
			if deferred {
				l.log.WithError(err).Warn("bulk validation failed, rolling back")
			}
			return err
		}
		pending = w.pending
		return nil
	})
	if err != nil {
		return err
	}
	l.publish(pending)
	return nil
}

func (l *Ledger) publish(pending []events.Event) {
	if l.events == nil {
		return
	}
	for _, e := range pending {
		if err := l.events.AppendEvent(e.StreamID(), e); err != nil {
			l.log.WithFields(logrus.Fields{"event": e.Type(), "stream": e.StreamID()}).
				WithError(err).Warn("event handler failed")
		}
	}
}

// WriteQuantity sets the quantity of a quantitative edge
func (l *Ledger) WriteQuantity(ctx context.Context, edgeID int64, quantity decimal.Decimal) (*entities.AllocationEdge, error) {
	var result *entities.AllocationEdge
	err := l.Run(ctx, func(ctx context.Context, w *Writer) error {
		edge, err := w.WriteQuantity(ctx, edgeID, quantity)
		result = edge
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ToggleAffected sets the affected flag of a binary edge
func (l *Ledger) ToggleAffected(ctx context.Context, edgeID int64, value bool) (*entities.AllocationEdge, error) {
	var result *entities.AllocationEdge
	err := l.Run(ctx, func(ctx context.Context, w *Writer) error {
		edge, err := w.ToggleAffected(ctx, edgeID, value)
		result = edge
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// IsAffectable reports whether an edge may still receive an allocation
func (l *Ledger) IsAffectable(ctx context.Context, edgeID int64) (bool, error) {
	var affectable bool
	err := l.View(ctx, func(ctx context.Context, w *Writer) error {
		var err error
		affectable, err = w.IsAffectable(ctx, edgeID)
		return err
	})
	return affectable, err
}

// Delete retracts an edge and its non-affected dependents
func (l *Ledger) Delete(ctx context.Context, edgeID int64) error {
	return l.Run(ctx, func(ctx context.Context, w *Writer) error {
		return w.Delete(ctx, edgeID)
	})
}

// Get returns an edge
func (l *Ledger) Get(ctx context.Context, edgeID int64) (*entities.AllocationEdge, error) {
	var edge *entities.AllocationEdge
	err := l.View(ctx, func(ctx context.Context, w *Writer) error {
		var err error
		edge, err = w.Load(ctx, edgeID)
		return err
	})
	return edge, err
}

// State returns the lifecycle state of an edge
func (l *Ledger) State(ctx context.Context, edgeID int64) (entities.EdgeState, error) {
	state := entities.StateRetracted
	err := l.View(ctx, func(ctx context.Context, w *Writer) error {
		edge, err := w.Load(ctx, edgeID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		state, err = w.State(ctx, edge)
		return err
	})
	return state, err
}
