// Package memory is an in-process implementation of the repository interfaces.
// Transactions are serialised and roll back by restoring a snapshot; status
// updates are compare-and-set like the postgres implementation.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/errors"
)

type txKey struct{}

type dataset struct {
	referrals    map[uuid.UUID]model.Referral
	dispatches   map[uuid.UUID]model.Dispatch
	updates      []model.DispatchStatusUpdate
	ambulances   map[uuid.UUID]model.Ambulance
	appointments map[uuid.UUID]model.Appointment
	equipment    map[uuid.UUID]model.Equipment
	maintenance  map[uuid.UUID]model.MaintenanceRecord
	beds         map[uuid.UUID]model.Bed
	reservations map[uuid.UUID]model.BedReservation
	audit        []model.AuditLog
	outbox       map[uuid.UUID]model.OutboxEvent
}

func newDataset() *dataset {
	return &dataset{
		referrals:    make(map[uuid.UUID]model.Referral),
		dispatches:   make(map[uuid.UUID]model.Dispatch),
		ambulances:   make(map[uuid.UUID]model.Ambulance),
		appointments: make(map[uuid.UUID]model.Appointment),
		equipment:    make(map[uuid.UUID]model.Equipment),
		maintenance:  make(map[uuid.UUID]model.MaintenanceRecord),
		beds:         make(map[uuid.UUID]model.Bed),
		reservations: make(map[uuid.UUID]model.BedReservation),
		outbox:       make(map[uuid.UUID]model.OutboxEvent),
	}
}

func (d *dataset) clone() *dataset {
	return &dataset{
		referrals:    maps.Clone(d.referrals),
		dispatches:   maps.Clone(d.dispatches),
		updates:      slices.Clone(d.updates),
		ambulances:   maps.Clone(d.ambulances),
		appointments: maps.Clone(d.appointments),
		equipment:    maps.Clone(d.equipment),
		maintenance:  maps.Clone(d.maintenance),
		beds:         maps.Clone(d.beds),
		reservations: maps.Clone(d.reservations),
		audit:        slices.Clone(d.audit),
		outbox:       maps.Clone(d.outbox),
	}
}

type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *dataset

	patients    map[uuid.UUID]bool
	facilities  map[uuid.UUID]bool
	specialties map[uuid.UUID]bool
	doctors     map[uuid.UUID]bool
	contacts    []model.Contact

	failures map[string]error
}

func NewStore() *Store {
	return &Store{
		data:        newDataset(),
		patients:    make(map[uuid.UUID]bool),
		facilities:  make(map[uuid.UUID]bool),
		specialties: make(map[uuid.UUID]bool),
		doctors:     make(map[uuid.UUID]bool),
		failures:    make(map[string]error),
	}
}

// WithinTx serialises transactions. When fn fails every write made through
// the store since the transaction began is discarded.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// FailOn makes the next call to op return err, e.g. FailOn("audit.create", err).
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// fail must be called with s.mu held.
func (s *Store) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *Store) AddPatients(ids ...uuid.UUID)    { s.addRefs(s.patients, ids) }
func (s *Store) AddFacilities(ids ...uuid.UUID)  { s.addRefs(s.facilities, ids) }
func (s *Store) AddSpecialties(ids ...uuid.UUID) { s.addRefs(s.specialties, ids) }
func (s *Store) AddDoctors(ids ...uuid.UUID)     { s.addRefs(s.doctors, ids) }

func (s *Store) addRefs(set map[uuid.UUID]bool, ids []uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		set[id] = true
	}
}

func (s *Store) AddContacts(contacts ...model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append(s.contacts, contacts...)
}

// AuditLogs returns a copy of every audit entry in insertion order.
func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.audit)
}

// OutboxEvents returns every outbox event ordered by creation.
func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.data.outbox))
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Transactor() repository.Transactor              { return s }
func (s *Store) References() repository.ReferenceChecker        { return &referenceChecker{s} }
func (s *Store) Contacts() repository.ContactRepository         { return &contactRepository{s} }
func (s *Store) Referrals() repository.ReferralRepository       { return &referralRepository{s} }
func (s *Store) Dispatches() repository.DispatchRepository      { return &dispatchRepository{s} }
func (s *Store) Ambulances() repository.AmbulanceRepository     { return &ambulanceRepository{s} }
func (s *Store) Appointments() repository.AppointmentRepository { return &appointmentRepository{s} }
func (s *Store) Equipment() repository.EquipmentRepository      { return &equipmentRepository{s} }
func (s *Store) Maintenance() repository.MaintenanceRepository  { return &maintenanceRepository{s} }
func (s *Store) Beds() repository.BedRepository                 { return &bedRepository{s} }
func (s *Store) Audit() repository.AuditRepository              { return &auditRepository{s} }
func (s *Store) Outbox() repository.OutboxRepository            { return &outboxRepository{s} }

// page sorts items with less and returns the requested page and the total.
func page[T any](items []T, p model.Pagination, less func(a, b T) bool) ([]*T, int) {
	sort.Slice(items, func(i, j int) bool { return less(items[i], items[j]) })
	total := len(items)
	p = p.Normalize()
	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}
	out := make([]*T, 0, end-start)
	for i := start; i < end; i++ {
		item := items[i]
		out = append(out, &item)
	}
	return out, total
}

func notFound(resource string) error {
	return errors.NotFound(resource, nil)
}

func lostRace(resource string) error {
	return errors.Conflict(resource, fmt.Errorf("no rows updated"))
}

type referenceChecker struct{ s *Store }

func (r *referenceChecker) exists(set map[uuid.UUID]bool, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("references.exists"); err != nil {
		return false, err
	}
	return set[id], nil
}

func (r *referenceChecker) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return r.exists(r.s.patients, id)
}

func (r *referenceChecker) FacilityExists(_ context.Context, id uuid.UUID) (bool, error) {
	return r.exists(r.s.facilities, id)
}

func (r *referenceChecker) SpecialtyExists(_ context.Context, id uuid.UUID) (bool, error) {
	return r.exists(r.s.specialties, id)
}

func (r *referenceChecker) DoctorExists(_ context.Context, id uuid.UUID) (bool, error) {
	return r.exists(r.s.doctors, id)
}

type contactRepository struct{ s *Store }

func (r *contactRepository) ListByFacility(_ context.Context, facilityID uuid.UUID) ([]*model.Contact, error) {
	return r.list(func(c model.Contact) bool { return c.FacilityID == facilityID })
}

func (r *contactRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]*model.Contact, error) {
	return r.list(func(c model.Contact) bool { return c.UserID != nil && *c.UserID == userID })
}

func (r *contactRepository) list(match func(model.Contact) bool) ([]*model.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Contact
	for _, c := range r.s.contacts {
		if match(c) {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}
