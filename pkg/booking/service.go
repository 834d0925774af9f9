package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ecwu/openbook/pkg/observability"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("booking: not found")
	// ErrConflict is returned when a booking window overlaps an
	// existing confirmed booking for the same resource
	ErrConflict = errors.New("booking: time window conflicts with an existing booking")
	// ErrInvalidWindow is returned when ends_at is not after starts_at
	ErrInvalidWindow = errors.New("booking: ends_at must be after starts_at")
)

// Service manages resources and bookings. metrics may be nil.
type Service struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates a booking service over an open database handle
func NewService(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{db: db, logger: logger, metrics: metrics}
}

// CreateResource inserts a new active resource
func (s *Service) CreateResource(ctx context.Context, resource *Resource) error {
	now := time.Now().UTC()
	resource.IsActive = true
	resource.CreatedAt = now
	resource.UpdatedAt = now
	if resource.Capacity <= 0 {
		resource.Capacity = 1
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO resources (name, description, location, capacity, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, resource.Name, resource.Description, resource.Location, resource.Capacity,
		true, now, now).Scan(&resource.ID)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

// GetResource retrieves a resource by id
func (s *Service) GetResource(ctx context.Context, id int64) (*Resource, error) {
	resource := &Resource{}
	var description, location sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, location, capacity, is_active, created_at, updated_at
		FROM resources WHERE id = $1
	`, id).Scan(&resource.ID, &resource.Name, &description, &location,
		&resource.Capacity, &resource.IsActive, &resource.CreatedAt, &resource.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	resource.Description = description.String
	resource.Location = location.String
	return resource, nil
}

// ListResources lists resources, optionally only active ones
func (s *Service) ListResources(ctx context.Context, activeOnly bool) ([]*Resource, error) {
	query := `
		SELECT id, name, description, location, capacity, is_active, created_at, updated_at
		FROM resources
	`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var resources []*Resource
	for rows.Next() {
		resource := &Resource{}
		var description, location sql.NullString
		err := rows.Scan(&resource.ID, &resource.Name, &description, &location,
			&resource.Capacity, &resource.IsActive, &resource.CreatedAt, &resource.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resource.Description = description.String
		resource.Location = location.String
		resources = append(resources, resource)
	}
	return resources, rows.Err()
}

// UpdateResource updates a resource's mutable fields
func (s *Service) UpdateResource(ctx context.Context, resource *Resource) error {
	resource.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources
		SET name = $1, description = $2, location = $3, capacity = $4, is_active = $5, updated_at = $6
		WHERE id = $7
	`, resource.Name, resource.Description, resource.Location, resource.Capacity,
		resource.IsActive, resource.UpdatedAt, resource.ID)
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateResource marks a resource inactive; existing bookings stay
func (s *Service) DeactivateResource(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources SET is_active = false, updated_at = $1 WHERE id = $2
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate resource: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateBooking validates the window, checks for conflicts, and inserts
// a confirmed booking.
func (s *Service) CreateBooking(ctx context.Context, b *Booking) error {
	if !b.EndsAt.After(b.StartsAt) {
		return ErrInvalidWindow
	}

	conflict, err := s.hasConflict(ctx, b.ResourceID, b.StartsAt, b.EndsAt, 0)
	if err != nil {
		return err
	}
	if conflict {
		s.observeConflict()
		return ErrConflict
	}

	now := time.Now().UTC()
	b.Status = StatusConfirmed
	b.CreatedAt = now
	b.UpdatedAt = now
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO bookings (resource_id, user_id, title, starts_at, ends_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, b.ResourceID, b.UserID, b.Title, b.StartsAt.UTC(), b.EndsAt.UTC(),
		b.Status, now, now).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	if s.metrics != nil {
		s.metrics.BookingsCreatedTotal.Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"booking_id":  b.ID,
		"resource_id": b.ResourceID,
		"user_id":     b.UserID,
	}).Debug("booking created")
	return nil
}

// GetBooking retrieves a booking by id
func (s *Service) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	b := &Booking{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, user_id, title, starts_at, ends_at, status, created_at, updated_at
		FROM bookings WHERE id = $1
	`, id).Scan(&b.ID, &b.ResourceID, &b.UserID, &b.Title, &b.StartsAt, &b.EndsAt,
		&b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// ListBookings lists confirmed bookings for a resource intersecting the
// given window, ordered by start time.
func (s *Service) ListBookings(ctx context.Context, resourceID int64, from, to time.Time) ([]*Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, user_id, title, starts_at, ends_at, status, created_at, updated_at
		FROM bookings
		WHERE resource_id = $1 AND status = $2 AND starts_at < $3 AND ends_at > $4
		ORDER BY starts_at
	`, resourceID, StatusConfirmed, to.UTC(), from.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		b := &Booking{}
		err := rows.Scan(&b.ID, &b.ResourceID, &b.UserID, &b.Title, &b.StartsAt,
			&b.EndsAt, &b.Status, &b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// ListUserBookings lists a user's confirmed bookings from now on
func (s *Service) ListUserBookings(ctx context.Context, userID int64) ([]*Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, user_id, title, starts_at, ends_at, status, created_at, updated_at
		FROM bookings
		WHERE user_id = $1 AND status = $2 AND ends_at > $3
		ORDER BY starts_at
	`, userID, StatusConfirmed, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list user bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		b := &Booking{}
		err := rows.Scan(&b.ID, &b.ResourceID, &b.UserID, &b.Title, &b.StartsAt,
			&b.EndsAt, &b.Status, &b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// MoveBooking changes a booking's window, re-checking conflicts. The
// booking itself is excluded from the conflict check.
func (s *Service) MoveBooking(ctx context.Context, id int64, startsAt, endsAt time.Time) error {
	if !endsAt.After(startsAt) {
		return ErrInvalidWindow
	}

	existing, err := s.GetBooking(ctx, id)
	if err != nil {
		return err
	}

	conflict, err := s.hasConflict(ctx, existing.ResourceID, startsAt, endsAt, id)
	if err != nil {
		return err
	}
	if conflict {
		s.observeConflict()
		return ErrConflict
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE bookings SET starts_at = $1, ends_at = $2, updated_at = $3 WHERE id = $4
	`, startsAt.UTC(), endsAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to move booking: %w", err)
	}
	return nil
}

// CancelBooking marks a booking cancelled
func (s *Service) CancelBooking(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4
	`, StatusCancelled, time.Now().UTC(), id, StatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// hasConflict checks whether [startsAt, endsAt) intersects a confirmed
// booking for the resource, excluding excludeID when non-zero.
func (s *Service) hasConflict(ctx context.Context, resourceID int64, startsAt, endsAt time.Time, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE resource_id = $1 AND status = $2
				AND starts_at < $3 AND ends_at > $4
				AND id != $5
		)
	`, resourceID, StatusConfirmed, endsAt.UTC(), startsAt.UTC(), excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check booking conflicts: %w", err)
	}
	return exists, nil
}

func (s *Service) observeConflict() {
	if s.metrics != nil {
		s.metrics.BookingConflictsTotal.Inc()
	}
}
