package authz

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/pkg/errors"
)

// Resource describes what an action touches and who owns it.
type Resource struct {
	Kind string
	ID   uuid.UUID
	// Facilities owning the resource for this action. Empty means any facility.
	Facilities []uuid.UUID
	// Users granted the action regardless of facility, e.g. the named receiving doctor.
	Users []uuid.UUID
}

type Authorizer interface {
	Can(caller Caller, action Capability, resource Resource) bool
}

// Policy grants an action when the role carries the capability and the caller
// owns the resource through its facility or is named on it. Admins own everything.
type Policy struct{}

func NewPolicy() *Policy {
	return &Policy{}
}

func (p *Policy) Can(caller Caller, action Capability, res Resource) bool {
	if !caller.Capabilities.Has(action) {
		return false
	}
	if caller.IsAdmin() || (len(res.Facilities) == 0 && len(res.Users) == 0) {
		return true
	}
	if caller.InFacility(res.Facilities...) {
		return true
	}
	for _, id := range res.Users {
		if id == caller.UserID {
			return true
		}
	}
	return false
}

// DenialRecorder appends security events.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, caller Caller, action Capability, res Resource)
}

// Guard checks permissions and records denials.
type Guard struct {
	authorizer Authorizer
	recorder   DenialRecorder
}

func NewGuard(authorizer Authorizer, recorder DenialRecorder) *Guard {
	return &Guard{authorizer: authorizer, recorder: recorder}
}

// Scope checks action for a list query and returns the facility the query is
// confined to. Admins get nil and see every facility.
func (g *Guard) Scope(ctx context.Context, caller Caller, action Capability, kind string) (*uuid.UUID, error) {
	res := Resource{Kind: kind}
	if err := g.Check(ctx, caller, action, res); err != nil {
		return nil, err
	}
	if caller.IsAdmin() {
		return nil, nil
	}
	if caller.FacilityID == nil {
		return nil, g.deny(ctx, caller, action, res)
	}
	facility := *caller.FacilityID
	return &facility, nil
}

// Check returns a PermissionDenied error when the caller may not act.
func (g *Guard) Check(ctx context.Context, caller Caller, action Capability, res Resource) error {
	if g.authorizer.Can(caller, action, res) {
		return nil
	}
	return g.deny(ctx, caller, action, res)
}

func (g *Guard) deny(ctx context.Context, caller Caller, action Capability, res Resource) error {
	if g.recorder != nil {
		g.recorder.RecordDenial(ctx, caller, action, res)
	}
	return errors.PermissionDenied(string(action), res.Kind)
}
