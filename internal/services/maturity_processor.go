package services

import (
	"context"
	"fmt"
	"time"

	"piggybank/internal/core"
	"piggybank/internal/deposits"
	"piggybank/internal/log"
)

// MaturityProcessor runs the reconciliation pass: every active deposit whose
// term has ended is credited exactly once. Running it again for the same
// instant changes nothing.
type MaturityProcessor struct {
	logger *log.Logger
}

func NewMaturityProcessor(logger *log.Logger) *MaturityProcessor {
	if logger == nil {
		logger = log.Discard()
	}
	return &MaturityProcessor{logger: logger.WithComponent(log.ComponentMaturity)}
}

// ProcessDue settles due deposits in engine and returns the ones that moved
// to matured during this call. A deposit that fails to settle is logged and
// skipped; it stays active and is retried on the next pass.
func (p *MaturityProcessor) ProcessDue(ctx context.Context, engine *deposits.Engine, now time.Time) ([]core.Deposit, error) {
	if engine == nil {
		return nil, fmt.Errorf("maturity processor: no deposit engine")
	}

	due := engine.Due(now)
	if len(due) == 0 {
		return nil, nil
	}

	matured := make([]core.Deposit, 0, len(due))
	for _, id := range due {
		d, credited, err := engine.CreditMaturity(id, now)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to settle matured deposit",
				log.FieldDepositID, id,
				log.FieldError, err)
			continue
		}
		if d.Status != core.DepositMatured {
			continue
		}
		matured = append(matured, d)
		p.logger.InfoContext(ctx, "Deposit matured",
			log.FieldDepositID, d.ID,
			log.FieldAmount, d.TotalReturn.String(),
			log.FieldMaturityAt, d.MaturityAt.Format(time.RFC3339),
			"credited", credited)
	}

	p.logger.DebugContext(ctx, "Maturity pass complete",
		"checked", len(due),
		log.FieldMatured, len(matured))
	return matured, nil
}
