package plaid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	plaidsdk "github.com/plaid/plaid-go/v20/plaid"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultClientName   = "Juggle"
	defaultLanguage     = "en"
	transactionsSync    = "/transactions/sync"
	linkTokenCreate     = "/link/token/create"
	publicTokenExchange = "/item/public_token/exchange"
	itemGet             = "/item/get"
	itemRemove          = "/item/remove"
	institutionsGet     = "/institutions/get_by_id"
)

var environments = map[string]plaidsdk.Environment{
	"sandbox":     plaidsdk.Sandbox,
	"development": plaidsdk.Environment("https://development.plaid.com"),
	"production":  plaidsdk.Production,
}

// Config holds the credentials and Link defaults for the Plaid client.
type Config struct {
	ClientID     string
	Secret       string
	Environment  string
	ClientName   string
	WebhookURL   string
	CountryCodes []string
	// BaseURL overrides the environment URL when set
	BaseURL string
}

// Client adapts the Plaid SDK to ClientInterface and maps every SDK failure
// into *ProviderSyncError.
type Client struct {
	api          *plaidsdk.PlaidApiService
	baseURL      string
	clientName   string
	webhookURL   string
	countryCodes []plaidsdk.CountryCode
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new Plaid API client
func NewClient(cfg Config) (*Client, error) {
	env := plaidsdk.Environment(cfg.BaseURL)
	if cfg.BaseURL == "" {
		e, ok := environments[cfg.Environment]
		if !ok {
			return nil, fmt.Errorf("unknown plaid environment %q", cfg.Environment)
		}
		env = e
	}
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("plaid client id and secret are required")
	}

	clientName := cfg.ClientName
	if clientName == "" {
		clientName = defaultClientName
	}
	codes := cfg.CountryCodes
	if len(codes) == 0 {
		codes = []string{"US"}
	}
	countryCodes := make([]plaidsdk.CountryCode, 0, len(codes))
	for _, c := range codes {
		countryCodes = append(countryCodes, plaidsdk.CountryCode(c))
	}

	sdkCfg := plaidsdk.NewConfiguration()
	sdkCfg.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	sdkCfg.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	sdkCfg.UseEnvironment(env)
	sdkCfg.HTTPClient = &http.Client{Timeout: defaultTimeout}

	return &Client{
		api:          plaidsdk.NewAPIClient(sdkCfg).PlaidApi,
		baseURL:      string(env),
		clientName:   clientName,
		webhookURL:   cfg.WebhookURL,
		countryCodes: countryCodes,
	}, nil
}

// Transaction is the subset of a Plaid transaction the service stores.
type Transaction struct {
	TransactionID           string                   `json:"transaction_id"`
	AccountID               string                   `json:"account_id"`
	Amount                  float64                  `json:"amount"`
	IsoCurrencyCode         *string                  `json:"iso_currency_code"`
	Category                []string                 `json:"category"`
	PersonalFinanceCategory *PersonalFinanceCategory `json:"personal_finance_category,omitempty"`
	Date                    string                   `json:"date"`
	Name                    string                   `json:"name"`
	MerchantName            *string                  `json:"merchant_name,omitempty"`
	Pending                 bool                     `json:"pending"`
}

// PersonalFinanceCategory is Plaid's newer taxonomy, present when the legacy
// category list is not.
type PersonalFinanceCategory struct {
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
}

// RemovedTransaction identifies a transaction deleted upstream
type RemovedTransaction struct {
	TransactionID string `json:"transaction_id"`
}

// SyncResponse is one page of the /transactions/sync delta stream
type SyncResponse struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
	RequestID  string               `json:"request_id"`
}

// LinkTokenResponse carries the short-lived token the Link UI starts with
type LinkTokenResponse struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration"`
	RequestID  string `json:"request_id"`
}

// ExchangeResponse carries the long-lived access token for an item
type ExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
	RequestID   string `json:"request_id"`
}

// Item is a single login at a financial institution
type Item struct {
	ItemID        string  `json:"item_id"`
	InstitutionID *string `json:"institution_id"`
}

// ItemResponse is the answer of /item/get
type ItemResponse struct {
	Item      Item   `json:"item"`
	RequestID string `json:"request_id"`
}

// Institution is a bank known to Plaid
type Institution struct {
	InstitutionID string `json:"institution_id"`
	Name          string `json:"name"`
}

// InstitutionResponse is the answer of /institutions/get_by_id
type InstitutionResponse struct {
	Institution Institution `json:"institution"`
	RequestID   string      `json:"request_id"`
}

// SyncTransactions fetches one page of transaction deltas after cursor.
// A nil cursor starts from the beginning of the item's history.
func (c *Client) SyncTransactions(ctx context.Context, accessToken string, cursor *string, count int) (*SyncResponse, error) {
	req := plaidsdk.NewTransactionsSyncRequest(accessToken)
	if cursor != nil {
		req.SetCursor(*cursor)
	}
	if count > 0 {
		req.SetCount(int32(count))
	}

	resp, httpResp, err := c.api.TransactionsSync(ctx).TransactionsSyncRequest(*req).Execute()
	if err != nil {
		return nil, providerError(transactionsSync, httpResp, err)
	}

	out := &SyncResponse{
		Added:      make([]Transaction, 0, len(resp.GetAdded())),
		Modified:   make([]Transaction, 0, len(resp.GetModified())),
		Removed:    make([]RemovedTransaction, 0, len(resp.GetRemoved())),
		NextCursor: resp.GetNextCursor(),
		HasMore:    resp.GetHasMore(),
		RequestID:  resp.GetRequestId(),
	}
	for _, t := range resp.GetAdded() {
		out.Added = append(out.Added, fromSDKTransaction(t))
	}
	for _, t := range resp.GetModified() {
		out.Modified = append(out.Modified, fromSDKTransaction(t))
	}
	for _, r := range resp.GetRemoved() {
		out.Removed = append(out.Removed, RemovedTransaction{TransactionID: r.GetTransactionId()})
	}
	return out, nil
}

// CreateLinkToken creates a Link token bound to the user for the transactions product
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (*LinkTokenResponse, error) {
	user := plaidsdk.NewLinkTokenCreateRequestUser(userID)
	req := plaidsdk.NewLinkTokenCreateRequest(c.clientName, defaultLanguage, c.countryCodes, *user)
	req.SetProducts([]plaidsdk.Products{plaidsdk.PRODUCTS_TRANSACTIONS})
	if c.webhookURL != "" {
		req.SetWebhook(c.webhookURL)
	}

	resp, httpResp, err := c.api.LinkTokenCreate(ctx).LinkTokenCreateRequest(*req).Execute()
	if err != nil {
		return nil, providerError(linkTokenCreate, httpResp, err)
	}
	return &LinkTokenResponse{
		LinkToken:  resp.GetLinkToken(),
		Expiration: resp.GetExpiration().UTC().Format(time.RFC3339),
		RequestID:  resp.GetRequestId(),
	}, nil
}

// ExchangePublicToken trades a Link public token for an access token
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResponse, error) {
	req := plaidsdk.NewItemPublicTokenExchangeRequest(publicToken)

	resp, httpResp, err := c.api.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*req).Execute()
	if err != nil {
		return nil, providerError(publicTokenExchange, httpResp, err)
	}
	return &ExchangeResponse{
		AccessToken: resp.GetAccessToken(),
		ItemID:      resp.GetItemId(),
		RequestID:   resp.GetRequestId(),
	}, nil
}

// GetItem returns item metadata, including its institution id
func (c *Client) GetItem(ctx context.Context, accessToken string) (*ItemResponse, error) {
	req := plaidsdk.NewItemGetRequest(accessToken)

	resp, httpResp, err := c.api.ItemGet(ctx).ItemGetRequest(*req).Execute()
	if err != nil {
		return nil, providerError(itemGet, httpResp, err)
	}

	item := resp.GetItem()
	out := &ItemResponse{
		Item:      Item{ItemID: item.GetItemId()},
		RequestID: resp.GetRequestId(),
	}
	if id, ok := item.GetInstitutionIdOk(); ok && id != nil && *id != "" {
		institutionID := *id
		out.Item.InstitutionID = &institutionID
	}
	return out, nil
}

// GetInstitutionByID returns the institution display data
func (c *Client) GetInstitutionByID(ctx context.Context, institutionID string) (*InstitutionResponse, error) {
	req := plaidsdk.NewInstitutionsGetByIdRequest(institutionID, c.countryCodes)

	resp, httpResp, err := c.api.InstitutionsGetById(ctx).InstitutionsGetByIdRequest(*req).Execute()
	if err != nil {
		return nil, providerError(institutionsGet, httpResp, err)
	}

	inst := resp.GetInstitution()
	return &InstitutionResponse{
		Institution: Institution{InstitutionID: inst.GetInstitutionId(), Name: inst.GetName()},
		RequestID:   resp.GetRequestId(),
	}, nil
}

// RemoveItem revokes the access token and deletes the item upstream
func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	req := plaidsdk.NewItemRemoveRequest(accessToken)

	if _, httpResp, err := c.api.ItemRemove(ctx).ItemRemoveRequest(*req).Execute(); err != nil {
		return providerError(itemRemove, httpResp, err)
	}
	return nil
}

func fromSDKTransaction(t plaidsdk.Transaction) Transaction {
	out := Transaction{
		TransactionID: t.GetTransactionId(),
		AccountID:     t.GetAccountId(),
		Amount:        t.GetAmount(),
		Category:      t.GetCategory(),
		Date:          t.GetDate(),
		Name:          t.GetName(),
		Pending:       t.GetPending(),
	}
	if code, ok := t.GetIsoCurrencyCodeOk(); ok && code != nil {
		v := *code
		out.IsoCurrencyCode = &v
	}
	if name, ok := t.GetMerchantNameOk(); ok && name != nil {
		v := *name
		out.MerchantName = &v
	}
	if pfc, ok := t.GetPersonalFinanceCategoryOk(); ok && pfc != nil {
		out.PersonalFinanceCategory = &PersonalFinanceCategory{
			Primary:  pfc.GetPrimary(),
			Detailed: pfc.GetDetailed(),
		}
	}
	return out
}

// openAPIError is satisfied by the SDK's generated error type, which keeps
// the raw response body.
type openAPIError interface {
	error
	Body() []byte
}

// providerError maps an SDK failure onto *ProviderSyncError. A nil httpResp
// means the request never got an answer (StatusCode 0).
func providerError(endpoint string, httpResp *http.Response, err error) *ProviderSyncError {
	perr := &ProviderSyncError{Endpoint: endpoint}
	if httpResp == nil {
		perr.Err = fmt.Errorf("failed to execute request: %w", err)
		return perr
	}
	perr.StatusCode = httpResp.StatusCode

	var apiErr openAPIError
	if errors.As(err, &apiErr) {
		perr.Raw = string(apiErr.Body())
	}

	plaidErr, convErr := plaidsdk.ToPlaidError(err)
	if convErr != nil || plaidErr.GetErrorCode() == "" {
		if httpResp.StatusCode < http.StatusBadRequest {
			perr.Err = fmt.Errorf("failed to decode response: %w", err)
		}
		return perr
	}
	perr.ErrorType = string(plaidErr.GetErrorType())
	perr.ErrorCode = plaidErr.GetErrorCode()
	perr.Message = plaidErr.GetErrorMessage()
	perr.DisplayMessage = plaidErr.GetDisplayMessage()
	perr.RequestID = plaidErr.GetRequestId()
	return perr
}
