package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fx-ledger/pkg/db"
)

// OrderIDs allocates <prefix><zero-padded n> identifiers inside the creating unit.
type OrderIDs struct {
	Prefix string
	Digits int
}

// Next locks the sequence row, takes the larger of the stored counter and the
// highest existing id, and returns the following id. Deleted trades leave gaps.
func (g OrderIDs) Next(ctx context.Context, q *db.Queries) (string, error) {
	last, err := q.LockSequence(ctx, g.Prefix)
	if err != nil {
		return "", err
	}
	maxID, err := q.MaxOrderID(ctx, g.Prefix)
	if err != nil {
		return "", err
	}
	if maxID != "" {
		n, err := strconv.ParseInt(strings.TrimPrefix(maxID, g.Prefix), 10, 64)
		if err != nil {
			return "", fmt.Errorf("parse order id %q: %w", maxID, err)
		}
		if n > last {
			last = n
		}
	}
	next := last + 1
	if err := q.SetSequence(ctx, g.Prefix, next); err != nil {
		return "", err
	}
	return g.Format(next), nil
}

// Format renders n with the configured prefix and width.
func (g OrderIDs) Format(n int64) string {
	return fmt.Sprintf("%s%0*d", g.Prefix, g.Digits, n)
}
