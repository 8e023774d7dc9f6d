package linkedaccount

import (
	"errors"
	"time"
)

// Validation errors
var (
	ErrInvalidInput = errors.New("invalid input")
)

// LinkedAccount is a user's single connection to the transaction provider.
// AccessToken is the decrypted provider secret; it is never serialized.
type LinkedAccount struct {
	UserID          string     `json:"userId"`
	AccessToken     string     `json:"-"`
	ItemID          string     `json:"itemId"`
	Cursor          *string    `json:"cursor"`
	InstitutionName *string    `json:"institutionName"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt"`
}

// Institution returns the institution display name or a placeholder.
func (a *LinkedAccount) Institution() string {
	if a.InstitutionName == nil || *a.InstitutionName == "" {
		return UnknownInstitution
	}
	return *a.InstitutionName
}

// UnknownInstitution is shown when the provider cannot name the bank.
const UnknownInstitution = "Unknown Bank"

// SaveParams contains the fields written when a user connects an account.
// Saving overwrites any previous connection and resets the cursor.
type SaveParams struct {
	UserID          string
	AccessToken     string
	ItemID          string
	InstitutionName *string
}

// Validate checks that the connection carries every required field.
func (p SaveParams) Validate() error {
	if p.UserID == "" {
		return errors.Join(ErrInvalidInput, errors.New("user id is required"))
	}
	if p.AccessToken == "" {
		return errors.Join(ErrInvalidInput, errors.New("access token is required"))
	}
	if p.ItemID == "" {
		return errors.Join(ErrInvalidInput, errors.New("item id is required"))
	}
	return nil
}
