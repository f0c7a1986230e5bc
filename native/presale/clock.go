package presale

import (
	"context"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// PhaseAt derives the sale phase from the window and the current time. A zero
// start time means the sale was never started; Start refuses a clock at or
// before zero so a started sale never records one.
func PhaseAt(startTime, endTime, now int64) Phase {
	if startTime == 0 {
		return PhaseNotStarted
	}
	if now < endTime {
		return PhaseActive
	}
	return PhaseEnded
}

// Phase reports the current phase of the sale.
func (e *Engine) Phase() (Phase, error) {
	sale, err := e.loadSale()
	if err != nil {
		return PhaseNotStarted, err
	}
	return PhaseAt(sale.StartTime, sale.EndTime, e.now()), nil
}

// Start opens the sale window for the configured duration. It fails with
// ErrClockOutOfRange when the clock reads zero or earlier, or when the window
// end would overflow.
func (e *Engine) Start(ctx context.Context, caller common.Address) (*Sale, error) {
	_, release := e.enter(ctx)
	defer release()

	if err := e.requireRole(RoleOperator, caller); err != nil {
		return nil, err
	}
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	if sale.StartTime != 0 {
		return nil, ErrAlreadyStarted
	}
	now := e.now()
	if now <= 0 || now > math.MaxInt64-e.cfg.Duration {
		return nil, ErrClockOutOfRange
	}
	sale.StartTime = now
	sale.EndTime = now + e.cfg.Duration
	if err := e.store.PresaleCommit(&Batch{Sale: sale}); err != nil {
		return nil, err
	}
	e.emit(newStartedEvent(caller, sale))
	return sale.Clone(), nil
}

// IncreaseEndTime pushes the end of an active sale further out. The extension
// must be positive and must not overflow the end time.
func (e *Engine) IncreaseEndTime(ctx context.Context, caller common.Address, extraSeconds int64) (*Sale, error) {
	_, release := e.enter(ctx)
	defer release()

	if err := e.requireRole(RoleOperator, caller); err != nil {
		return nil, err
	}
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	if PhaseAt(sale.StartTime, sale.EndTime, e.now()) != PhaseActive {
		return nil, ErrSaleNotActive
	}
	if extraSeconds <= 0 || extraSeconds > math.MaxInt64-sale.EndTime {
		return nil, ErrInvalidExtension
	}
	previous := sale.EndTime
	sale.EndTime += extraSeconds
	if err := e.store.PresaleCommit(&Batch{Sale: sale}); err != nil {
		return nil, err
	}
	e.emit(newEndExtendedEvent(caller, previous, sale.EndTime))
	return sale.Clone(), nil
}
