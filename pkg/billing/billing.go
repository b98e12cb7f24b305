// Package billing estimates what a user's token usage costs.
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Estimator prices tokens at a flat rate per 1000 tokens.
type Estimator struct {
	pricePer1K decimal.Decimal
}

func NewEstimator(pricePer1K float64) Estimator {
	return Estimator{pricePer1K: decimal.NewFromFloat(pricePer1K)}
}

func (e Estimator) PricePer1K() decimal.Decimal {
	return e.pricePer1K
}

// Cost returns the estimated spend for tokens.
func (e Estimator) Cost(tokens int64) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(tokens).Mul(e.pricePer1K).Div(thousand)
}

// Summary renders the balance reply.
func (e Estimator) Summary(tokens int64) string {
	return fmt.Sprintf("You spent <b>%s$</b>\nYou used <b>%d</b> tokens <i>(price: %s$ per 1000 tokens)</i>\n",
		e.Cost(tokens).StringFixed(3), tokens, e.pricePer1K.String())
}
