package plaid

import (
	"errors"
	"fmt"
)

// ProviderSyncError is returned for every failed provider call: a non-200
// answer, an undecodable body or a transport failure (StatusCode 0).
type ProviderSyncError struct {
	Endpoint       string `json:"endpoint"`
	StatusCode     int    `json:"status_code"`
	ErrorType      string `json:"error_type,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	Message        string `json:"error_message,omitempty"`
	DisplayMessage string `json:"display_message,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	Raw            string `json:"-"`
	Err            error  `json:"-"`
}

func (e *ProviderSyncError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("plaid %s request failed: %v", e.Endpoint, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("plaid %s returned status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("plaid %s returned %d %s/%s: %s", e.Endpoint, e.StatusCode, e.ErrorType, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("plaid %s returned status %d", e.Endpoint, e.StatusCode)
}

func (e *ProviderSyncError) Unwrap() error {
	return e.Err
}

// Error codes the service reacts to.
const (
	ErrorCodeItemLoginRequired  = "ITEM_LOGIN_REQUIRED"
	ErrorCodeMutationDuringSync = "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"
	ErrorCodeInvalidAccessToken = "INVALID_ACCESS_TOKEN"
	ErrorCodeItemNotFound       = "ITEM_NOT_FOUND"
)

// HasErrorCode reports whether err is a provider error with the given code.
func HasErrorCode(err error, code string) bool {
	var pe *ProviderSyncError
	return errors.As(err, &pe) && pe.ErrorCode == code
}
