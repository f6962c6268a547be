package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
)

// All repository interfaces in one file
type (
	// Transactor runs fn in one database transaction carried by ctx. Repository
	// calls made with that ctx join the transaction. Nested calls reuse it.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	// ReferenceChecker validates foreign references owned by other systems.
	ReferenceChecker interface {
		PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
		FacilityExists(ctx context.Context, id uuid.UUID) (bool, error)
		SpecialtyExists(ctx context.Context, id uuid.UUID) (bool, error)
		DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
	}

	ReferralRepository interface {
		Create(ctx context.Context, referral *model.Referral) error
		Get(ctx context.Context, id uuid.UUID) (*model.Referral, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Referral, error)
		// Update writes the referral only if its stored status still equals expected.
		Update(ctx context.Context, referral *model.Referral, expected model.ReferralStatus) error
		List(ctx context.Context, filter *model.ReferralFilter) ([]*model.Referral, int, error)
		Summary(ctx context.Context, facilityID uuid.UUID, from, to time.Time) ([]model.ReferralSummaryRow, error)
	}

	DispatchRepository interface {
		Create(ctx context.Context, dispatch *model.Dispatch) error
		Get(ctx context.Context, id uuid.UUID) (*model.Dispatch, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Dispatch, error)
		Update(ctx context.Context, dispatch *model.Dispatch, expected model.DispatchStatus) error
		// SetEstimate writes only the route estimate columns.
		SetEstimate(ctx context.Context, id uuid.UUID, distanceKM, durationMin float64) error
		List(ctx context.Context, filter *model.DispatchFilter) ([]*model.Dispatch, int, error)
		// ActiveForAmbulance returns nil when the ambulance has no non-terminal dispatch.
		ActiveForAmbulance(ctx context.Context, ambulanceID uuid.UUID) (*model.Dispatch, error)
		AddStatusUpdate(ctx context.Context, update *model.DispatchStatusUpdate) error
		History(ctx context.Context, dispatchID uuid.UUID) ([]*model.DispatchStatusUpdate, error)
	}

	AmbulanceRepository interface {
		Create(ctx context.Context, ambulance *model.Ambulance) error
		Get(ctx context.Context, id uuid.UUID) (*model.Ambulance, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Ambulance, error)
		Update(ctx context.Context, ambulance *model.Ambulance) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter *model.AmbulanceFilter) ([]*model.Ambulance, int, error)
		UpdatePosition(ctx context.Context, id uuid.UUID, pos *model.PositionUpdate) error
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, appointment *model.Appointment, expected model.AppointmentStatus) error
		List(ctx context.Context, filter *model.AppointmentFilter) ([]*model.Appointment, int, error)
		// LockDoctorSchedule serialises bookings for one doctor until the transaction ends.
		LockDoctorSchedule(ctx context.Context, doctorID uuid.UUID) error
		FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]*model.Appointment, error)
		DoctorSchedule(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*model.Appointment, error)
	}

	EquipmentRepository interface {
		Create(ctx context.Context, equipment *model.Equipment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Equipment, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Equipment, error)
		Update(ctx context.Context, equipment *model.Equipment) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter *model.EquipmentFilter) ([]*model.Equipment, int, error)
	}

	MaintenanceRepository interface {
		Create(ctx context.Context, record *model.MaintenanceRecord) error
		Get(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error)
		Update(ctx context.Context, record *model.MaintenanceRecord, expected model.MaintenanceStatus) error
		// ActiveForEquipment returns the scheduled or in-progress record, or nil.
		ActiveForEquipment(ctx context.Context, equipmentID uuid.UUID) (*model.MaintenanceRecord, error)
		ListByEquipment(ctx context.Context, equipmentID uuid.UUID) ([]*model.MaintenanceRecord, error)
	}

	BedRepository interface {
		Create(ctx context.Context, bed *model.Bed) error
		Get(ctx context.Context, id uuid.UUID) (*model.Bed, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Bed, error)
		Update(ctx context.Context, bed *model.Bed) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter *model.BedFilter) ([]*model.Bed, int, error)

		CreateReservation(ctx context.Context, reservation *model.BedReservation) error
		GetReservation(ctx context.Context, id uuid.UUID) (*model.BedReservation, error)
		GetReservationForUpdate(ctx context.Context, id uuid.UUID) (*model.BedReservation, error)
		UpdateReservation(ctx context.Context, reservation *model.BedReservation, expected model.ReservationStatus) error
		// ActiveReservation returns the bed's unexpired active reservation, or nil.
		ActiveReservation(ctx context.Context, bedID uuid.UUID, now time.Time) (*model.BedReservation, error)
		ExpireReservations(ctx context.Context, now time.Time) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		List(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLog, int, error)
		DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending moves up to limit pending events to PROCESSING and returns them.
		// Concurrent relays never claim the same row.
		ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
		// Requeue returns a claimed event to PENDING and bumps its retry count.
		Requeue(ctx context.Context, id uuid.UUID, reason string) error
		// RecoverStale requeues PROCESSING rows claimed before olderThan.
		RecoverStale(ctx context.Context, olderThan time.Time) (int64, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	ContactRepository interface {
		ListByFacility(ctx context.Context, facilityID uuid.UUID) ([]*model.Contact, error)
		ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Contact, error)
	}
)
