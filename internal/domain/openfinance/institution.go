package openfinance

import (
	"context"
	"fmt"

	"juggle/internal/infrastructure/plaid"
)

// lookupInstitutionName resolves the display name of the bank behind an
// access token. It returns nil without error when the item has no
// institution attached.
func lookupInstitutionName(ctx context.Context, client plaid.ClientInterface, accessToken string) (*string, error) {
	item, err := client.GetItem(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if item.Item.InstitutionID == nil || *item.Item.InstitutionID == "" {
		return nil, nil
	}

	inst, err := client.GetInstitutionByID(ctx, *item.Item.InstitutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get institution %s: %w", *item.Item.InstitutionID, err)
	}
	if inst.Institution.Name == "" {
		return nil, nil
	}
	name := inst.Institution.Name
	return &name, nil
}
