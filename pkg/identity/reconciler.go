package identity

import (
	"context"
	"time"

	"github.com/ecwu/openbook/pkg/auth"
	"github.com/ecwu/openbook/pkg/observability"
)

// Reconciler orchestrates one sign-in reconciliation: bootstrap promotion
// first, then membership sync against the full asserted group set.
type Reconciler struct {
	promoter     *BootstrapPromoter
	synchronizer *MembershipSynchronizer
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// NewReconciler wires the pipeline over one store. metrics may be nil.
func NewReconciler(store *Store, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	resolver := NewGroupResolver(store, logger, metrics)
	return &Reconciler{
		promoter:     NewBootstrapPromoter(store, logger, metrics),
		synchronizer: NewMembershipSynchronizer(store, resolver, logger, metrics),
		logger:       logger,
		metrics:      metrics,
	}
}

// Result reports what one reconciliation did. Errors are informational:
// they were logged and swallowed, never surfaced to the sign-in.
type Result struct {
	// Promoted reports whether the user was bootstrap-promoted to admin.
	// When true the caller must refresh the session role immediately.
	Promoted bool
	// GroupsSynced counts asserted group names processed without error
	GroupsSynced int
	// MembershipsCreated counts new memberships from this pass
	MembershipsCreated int
	// Errors holds every failure that was isolated during this pass
	Errors []error
}

// Reconcile brings group and role state into agreement with one assertion.
// It never fails the sign-in: a promotion error leaves the user with their
// prior role, a sync error leaves that group unlinked until the next
// sign-in, and both are logged with enough context to diagnose later.
func (r *Reconciler) Reconcile(ctx context.Context, user *auth.User, groupNames []string) *Result {
	start := time.Now()
	result := &Result{}

	// Role must be settled before membership decisions.
	promoted, err := r.promoter.MaybePromoteFirstUser(ctx, user)
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"user_id": user.ID,
			"step":    "promotion",
		}).WithError(err).Warn("bootstrap promotion failed, continuing sign-in")
		if r.metrics != nil {
			r.metrics.ReconciliationErrors.WithLabelValues("promotion").Inc()
		}
		result.Errors = append(result.Errors, err)
	}
	result.Promoted = promoted

	sync := r.synchronizer.SyncMemberships(ctx, user, FilterGroupNames(groupNames))
	result.GroupsSynced = sync.Synced
	result.MembershipsCreated = sync.Created
	result.Errors = append(result.Errors, sync.Errors...)

	if r.metrics != nil {
		r.metrics.ReconciliationDuration.Observe(time.Since(start).Seconds())
	}
	r.logger.WithFields(map[string]interface{}{
		"user_id":  user.ID,
		"promoted": result.Promoted,
		"synced":   result.GroupsSynced,
		"created":  result.MembershipsCreated,
		"failures": len(result.Errors),
	}).Debug("sign-in reconciliation complete")

	return result
}

// CoerceGroupNames extracts group names from an untyped assertion payload.
// Absent values and non-list shapes yield an empty set; non-string or empty
// entries are dropped. Malformed upstream data is never an error.
func CoerceGroupNames(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		if typed, ok := raw.([]string); ok {
			return FilterGroupNames(typed)
		}
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item.(string)
		if !ok || name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// FilterGroupNames drops empty entries, preserving order
func FilterGroupNames(names []string) []string {
	filtered := names[:0:0]
	for _, name := range names {
		if name != "" {
			filtered = append(filtered, name)
		}
	}
	return filtered
}
