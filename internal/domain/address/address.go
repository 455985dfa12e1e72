package address

import (
	"context"

	"github.com/google/uuid"
)

// Address is a buyer's delivery address.
type Address struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Line    string
	Deleted bool
}

// OwnedBy reports whether the address belongs to userID and is still active.
func (a *Address) OwnedBy(userID uuid.UUID) bool {
	return a.UserID == userID && !a.Deleted
}

// Book looks up addresses. Get returns a fault.NotFound error when the
// address does not exist.
type Book interface {
	Get(ctx context.Context, id uuid.UUID) (*Address, error)
}
