package authz

import (
	"context"

	"github.com/google/uuid"
)

// Caller is the resolved identity of a request.
type Caller struct {
	UserID       uuid.UUID
	Role         Role
	FacilityID   *uuid.UUID
	Capabilities CapabilitySet
	IPAddress    string
	RequestID    string
}

func NewCaller(userID uuid.UUID, role Role, facilityID *uuid.UUID) Caller {
	return Caller{
		UserID:       userID,
		Role:         role,
		FacilityID:   facilityID,
		Capabilities: role.Capabilities(),
	}
}

// System is the caller used by workers.
func System() Caller {
	return NewCaller(uuid.Nil, RoleAdmin, nil)
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// InFacility reports whether the caller belongs to one of ids.
func (c Caller) InFacility(ids ...uuid.UUID) bool {
	if c.FacilityID == nil {
		return false
	}
	for _, id := range ids {
		if id == *c.FacilityID {
			return true
		}
	}
	return false
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
