package booking

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/core/user"
	"github.com/chuoapp/chuo/storage/store"
)

// CreateFacility registers a facility in the catalog. Admins only.
func (svc *Service) CreateFacility(ctx context.Context, actor user.User, nf NewFacility) (Facility, error) {
	if !actor.IsAdmin() {
		return Facility{}, core.NewPermissionError("only admins may manage facilities")
	}
	if err := nf.Validate(); err != nil {
		return Facility{}, err
	}

	fac := Facility{
		ID:       newID(),
		Name:     nf.Name,
		Category: nf.Category,
		Location: nf.Location,
		Capacity: nf.Capacity,
		IsActive: true,
	}
	if err := svc.db.Create(ctx, FacilityCollection, fac.ID, fac); err != nil {
		return Facility{}, errors.Wrap(err, "creating facility")
	}
	return fac, nil
}

// SetFacilityActive toggles a facility's availability. Admins only.
// Deactivating leaves existing bookings untouched but blocks new requests.
func (svc *Service) SetFacilityActive(ctx context.Context, actor user.User, id string, active bool) (Facility, error) {
	if !actor.IsAdmin() {
		return Facility{}, core.NewPermissionError("only admins may manage facilities")
	}

	fac, err := svc.GetFacility(ctx, id)
	if err != nil {
		return Facility{}, err
	}
	fac.IsActive = active
	if err = svc.db.Update(ctx, FacilityCollection, id, map[string]interface{}{"is_active": active}); err != nil {
		return Facility{}, errors.Wrap(err, "updating facility")
	}
	return fac, nil
}

func (svc *Service) GetFacility(ctx context.Context, id string) (Facility, error) {
	raw, err := svc.db.Get(ctx, FacilityCollection, id)
	if err != nil {
		return Facility{}, errors.Wrap(err, "getting facility")
	}
	var fac Facility
	if err = json.Unmarshal(raw, &fac); err != nil {
		return Facility{}, errors.Wrap(err, "unmarshalling facility")
	}
	return fac, nil
}

// QueryFacilities lists the catalog, optionally narrowed to one category.
func (svc *Service) QueryFacilities(ctx context.Context, category string) ([]Facility, error) {
	where := store.Where{}
	if category != "" {
		where["category"] = category
	}

	raws, err := svc.db.Find(ctx, store.Query{Collection: FacilityCollection, Where: where})
	if err != nil {
		return nil, errors.Wrap(err, "querying facilities")
	}
	facilities := make([]Facility, 0, len(raws))
	for _, raw := range raws {
		var fac Facility
		if err = json.Unmarshal(raw, &fac); err != nil {
			return nil, errors.Wrap(err, "unmarshalling facility")
		}
		facilities = append(facilities, fac)
	}
	return facilities, nil
}
