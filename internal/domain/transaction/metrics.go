package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metrics summarizes stored transactions for the dashboard.
type Metrics struct {
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
	Income           decimal.Decimal `json:"income"`
	Spending         decimal.Decimal `json:"spending"`
	Savings          decimal.Decimal `json:"savings"`
	TransactionCount int             `json:"transactionCount"`
	Month            string          `json:"month,omitempty"`
}

// ErrInvalidMonth is returned for a month filter not in YYYY-MM form.
var ErrInvalidMonth = errors.New("invalid month, expected YYYY-MM")

// ParseMonth validates a YYYY-MM month filter. An empty string means all time.
func ParseMonth(month string) (string, error) {
	if month == "" {
		return "", nil
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	return month, nil
}

// ComputeMetrics folds transactions into balance, income, spending and savings.
// Negative amounts are income, positive amounts are spending, and every
// amount moves the running balance in the opposite direction of its sign.
// When month is set only transactions dated in that month are counted.
func ComputeMetrics(txns []*Transaction, month string) Metrics {
	m := Metrics{
		CurrentBalance: decimal.Zero,
		Income:         decimal.Zero,
		Spending:       decimal.Zero,
		Month:          month,
	}

	for _, t := range txns {
		if month != "" && !strings.HasPrefix(t.Date, month+"-") {
			continue
		}

		amount := decimal.NewFromFloat(t.Amount)
		m.CurrentBalance = m.CurrentBalance.Sub(amount)
		if amount.IsNegative() {
			m.Income = m.Income.Add(amount.Neg())
		} else {
			m.Spending = m.Spending.Add(amount)
		}
		m.TransactionCount++
	}

	m.CurrentBalance = m.CurrentBalance.Round(2)
	m.Income = m.Income.Round(2)
	m.Spending = m.Spending.Round(2)
	m.Savings = m.Income.Sub(m.Spending)
	return m
}
