package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecwu/openbook/pkg/auth"
	"github.com/ecwu/openbook/pkg/observability"
)

// MembershipSynchronizer ensures membership records exist for every group a
// sign-in assertion names. Sync is strictly additive: memberships granted
// by earlier assertions are never removed here.
type MembershipSynchronizer struct {
	resolver *GroupResolver
	store    *Store
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewMembershipSynchronizer creates a membership synchronizer. metrics may be nil.
func NewMembershipSynchronizer(store *Store, resolver *GroupResolver, logger *observability.Logger, metrics *observability.Metrics) *MembershipSynchronizer {
	return &MembershipSynchronizer{
		resolver: resolver,
		store:    store,
		logger:   logger,
		metrics:  metrics,
	}
}

// SyncResult summarizes one membership sync pass
type SyncResult struct {
	// Synced counts group names processed without error
	Synced int
	// Created counts memberships created by this pass
	Created int
	// Errors holds one entry per group name that failed; failures never
	// abort the remaining names
	Errors []error
}

// SyncMemberships resolves each asserted group name and links the user to
// it with the member role when no membership exists. Existing memberships
// keep their in-group role untouched. Each name's resolve-then-link
// sequence is isolated: a failure is logged and recorded, and the remaining
// names still process.
func (s *MembershipSynchronizer) SyncMemberships(ctx context.Context, user *auth.User, groupNames []string) *SyncResult {
	result := &SyncResult{}

	for _, name := range groupNames {
		if name == "" {
			continue
		}
		created, err := s.syncOne(ctx, user, name)
		if err != nil {
			s.logger.WithFields(map[string]interface{}{
				"user_id": user.ID,
				"group":   name,
				"step":    "membership_sync",
			}).WithError(err).Warn("group membership sync failed")
			if s.metrics != nil {
				s.metrics.ReconciliationErrors.WithLabelValues("membership_sync").Inc()
			}
			result.Errors = append(result.Errors, fmt.Errorf("group %q: %w", name, err))
			continue
		}
		result.Synced++
		if created {
			result.Created++
		}
	}

	return result
}

func (s *MembershipSynchronizer) syncOne(ctx context.Context, user *auth.User, name string) (bool, error) {
	group, err := s.resolver.ResolveOrCreate(ctx, name)
	if err != nil {
		return false, err
	}

	_, err = s.store.FindMembership(ctx, user.ID, group.ID)
	if err == nil {
		// Already a member; the assertion never edits an existing
		// membership's in-group role.
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("membership lookup failed: %w", err)
	}

	if _, err := s.store.InsertMembership(ctx, user.ID, group.ID, auth.GroupRoleMember); err != nil {
		if IsUniqueViolation(err) {
			// Concurrent sign-in linked this pair first.
			return false, nil
		}
		return false, fmt.Errorf("membership create failed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.MembershipsCreatedTotal.Inc()
	}
	return true, nil
}
