package domain

import "errors"

var (
	// ErrParse marks a frame that claims to be market data but is malformed.
	ErrParse = errors.New("malformed market data")

	// ErrSequenceGap is returned when a delta does not continue the
	// book's update-id chain. The session reacts by resyncing.
	ErrSequenceGap = errors.New("update sequence gap")

	// ErrNotReady is returned when a book is read before its first
	// snapshot has been applied.
	ErrNotReady = errors.New("order book not ready")

	// ErrBookNotFound is returned when a book has never been touched.
	ErrBookNotFound = errors.New("order book not found")
)
