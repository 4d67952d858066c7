package worker

import (
	"context"
	"errors"
	"fmt"

	"grinpay/internal/clock"
	"grinpay/internal/models"
	"grinpay/internal/repository"
	"grinpay/pkg/utils"
)

// DefaultSweepBatch - сколько заказов истекает за один проход
const DefaultSweepBatch = 500

// Sweeper переводит неоплаченные заказы с истекшим сроком в EXPIRED.
// Заказ с живым захватом (слейт сейчас у кошелька) не трогается.
type Sweeper struct {
	store     SweepStore
	lifecycle Transitioner
	clock     clock.Clock
	batch     int
	log       *utils.Logger
}

// NewSweeper создает задачу истечения
func NewSweeper(store SweepStore, lifecycle Transitioner, clk clock.Clock, batch int) *Sweeper {
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Sweeper{
		store:     store,
		lifecycle: lifecycle,
		clock:     clk,
		batch:     batch,
		log:       utils.L().WithComponent("sweeper"),
	}
}

// Name - имя задачи
func (s *Sweeper) Name() string { return "sweeper" }

// RunCycle истекает просроченные заказы
func (s *Sweeper) RunCycle(ctx context.Context) error {
	now := s.clock.Now()
	orders, err := s.store.ListExpirable(ctx, now, s.batch)
	if err != nil {
		return fmt.Errorf("list expirable orders: %w", err)
	}

	expired := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}

		_, err := s.lifecycle.Apply(ctx, repository.Transition{
			Key:                o.Key(),
			From:               models.OrderStatusUnpaid,
			Steps:              []models.OrderStatus{models.OrderStatusExpired},
			RequireNoLiveClaim: true,
			At:                 now,
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, repository.ErrStatusConflict):
			// Оплата пришла в тот же момент
			s.log.Debug("order changed before expiry, skipping",
				utils.MerchantID(o.MerchantID), utils.OrderID(o.OrderID))
		default:
			s.log.Error("failed to expire order",
				utils.MerchantID(o.MerchantID), utils.OrderID(o.OrderID), utils.Err(err))
		}
	}

	if expired > 0 {
		s.log.Info("orders expired", utils.Int("count", expired))
	}
	return nil
}
