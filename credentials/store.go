package credentials

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/space-symphony/internal/errors"
	"github.com/jrsteele09/space-symphony/token"
)

// Store persists one token record per application id.
//
// Load returns (nil, nil) when nothing has ever been saved for appID; an error
// always means the store itself failed and never stands in for "logged out".
// Save replaces the whole record atomically, so concurrent readers observe
// either the previous or the new record.
type Store interface {
	Load(ctx context.Context, appID string) (*token.Record, error)
	Save(ctx context.Context, appID string, record token.Record) error
}

// ValidateAppID rejects ids that cannot safely name a file or row.
func ValidateAppID(appID string) error {
	if strings.TrimSpace(appID) == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidAppID, "empty")
	}
	if strings.ContainsAny(appID, `/\`) || appID == "." || appID == ".." {
		return apperrors.Wrapf(apperrors.ErrInvalidAppID, "%q", appID)
	}
	return nil
}

// StoreError marks err as a persistence failure while keeping it unwrappable.
func StoreError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperrors.ErrStore, op, err)
}
