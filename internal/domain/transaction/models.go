package transaction

import (
	"time"
)

// Transaction is a provider transaction as stored for one user. Amount is
// signed: positive means money left the account, negative means money came in.
type Transaction struct {
	TransactionID   string   `firestore:"transaction_id" json:"transaction_id"`
	AccountID       string   `firestore:"account_id" json:"account_id"`
	Amount          float64  `firestore:"amount" json:"amount"`
	IsoCurrencyCode *string  `firestore:"iso_currency_code" json:"iso_currency_code"`
	Category        []string `firestore:"category" json:"category"`
	Date            string   `firestore:"date" json:"date"` // YYYY-MM-DD as the provider returns it
	Name            string   `firestore:"name" json:"name"`
	Pending         bool     `firestore:"pending" json:"pending"`
}

// PrimaryCategory returns the first category, or "" when uncategorized.
func (t *Transaction) PrimaryCategory() string {
	if len(t.Category) == 0 {
		return ""
	}
	return t.Category[0]
}

// ParsedDate parses Date as a calendar day in UTC.
func (t *Transaction) ParsedDate() (time.Time, error) {
	return time.Parse(time.DateOnly, t.Date)
}

// CursorAdvance moves the stored sync cursor from From to To. A nil From
// means the account had never been synced.
type CursorAdvance struct {
	From *string
	To   string
}

// Batch is the set of writes produced by reconciling one provider page.
// Upserts and Deletes never name the same id twice.
type Batch struct {
	Upserts []*Transaction
	Deletes []string
	Cursor  *CursorAdvance
}

// Empty reports whether the batch carries no transaction writes.
func (b *Batch) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Deletes) == 0
}
