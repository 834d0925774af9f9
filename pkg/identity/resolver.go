package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecwu/openbook/pkg/auth"
	"github.com/ecwu/openbook/pkg/observability"
)

// autoCreatedDescription marks groups created lazily from an SSO assertion
const autoCreatedDescription = "auto-created from SSO"

// GroupResolver maps asserted group names to group records, creating
// previously-unseen groups on first sight.
type GroupResolver struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewGroupResolver creates a group resolver. metrics may be nil.
func NewGroupResolver(store *Store, logger *observability.Logger, metrics *observability.Metrics) *GroupResolver {
	return &GroupResolver{store: store, logger: logger, metrics: metrics}
}

// ResolveOrCreate returns the group with the given name, creating it if it
// does not exist. Two concurrent sign-ins asserting the same new name may
// both attempt the insert; the loser's uniqueness violation is resolved by
// re-reading the winner's row, so at most one group exists per name.
func (r *GroupResolver) ResolveOrCreate(ctx context.Context, name string) (*auth.Group, error) {
	if name == "" {
		return nil, errors.New("group name must not be empty")
	}

	group, err := r.store.FindGroupByName(ctx, name)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("group lookup failed: %w", err)
	}

	group, err = r.store.InsertGroup(ctx, name, autoCreatedDescription)
	if err == nil {
		r.logger.WithField("group", name).Info("created group from SSO assertion")
		if r.metrics != nil {
			r.metrics.GroupsAutoCreatedTotal.Inc()
		}
		return group, nil
	}
	if !IsUniqueViolation(err) {
		return nil, fmt.Errorf("group create failed: %w", err)
	}

	// Lost the creation race; the group exists now.
	group, err = r.store.FindGroupByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("group re-read after conflict failed: %w", err)
	}
	return group, nil
}
