// Package booking implements resource and booking management.
//
// Resources are the bookable things (rooms, equipment). Bookings hold a
// half-open [starts_at, ends_at) window on one resource; creating or
// moving a booking is rejected with ErrConflict when the window overlaps
// an existing confirmed booking for the same resource.
package booking
