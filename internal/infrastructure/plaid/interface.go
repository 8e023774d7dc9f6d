package plaid

import (
	"context"
)

// ClientInterface defines the methods required from the Plaid API client
type ClientInterface interface {
	SyncTransactions(ctx context.Context, accessToken string, cursor *string, count int) (*SyncResponse, error)
	CreateLinkToken(ctx context.Context, userID string) (*LinkTokenResponse, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResponse, error)
	GetItem(ctx context.Context, accessToken string) (*ItemResponse, error)
	GetInstitutionByID(ctx context.Context, institutionID string) (*InstitutionResponse, error)
	RemoveItem(ctx context.Context, accessToken string) error
}
