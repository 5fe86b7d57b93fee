package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/identity"
)

// Participants resolves the patient and doctor an appointment refers to.
// Satisfied by *identity.Service.
type Participants interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
}

type Service struct {
	appts  AppointmentRepository
	people Participants
}

func NewService(appts AppointmentRepository, people Participants) *Service {
	return &Service{appts: appts, people: people}
}

func (s *Service) checkParticipants(ctx context.Context, patientID, doctorID uuid.UUID) error {
	if _, err := s.people.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("patient: %w", ErrNotFound)
		}
		return err
	}
	d, err := s.people.GetDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("doctor: %w", ErrNotFound)
		}
		return err
	}
	if !d.IsActive {
		return fmt.Errorf("%w: doctor is not active", ErrInvalid)
	}
	return nil
}

func parseRef(field, v string) (uuid.UUID, error) {
	if strings.TrimSpace(v) == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", ErrInvalid, field)
	}
	return id, nil
}

// CreateAppointment books an appointment. Type defaults to OUTPATIENT and
// status is always SCHEDULED.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	patientID, err := parseRef("patient_id", req.PatientID)
	if err != nil {
		return nil, err
	}
	doctorID, err := parseRef("doctor_id", req.DoctorID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ScheduleTime) == "" {
		return nil, fmt.Errorf("%w: schedule_time is required", ErrInvalid)
	}
	at, err := ParseISOTime(req.ScheduleTime)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schedule_time format", ErrInvalid)
	}

	a := &Appointment{
		PatientID:       patientID,
		DoctorID:        doctorID,
		DeptID:          req.DeptID,
		DeptName:        req.DeptName,
		ScheduleTime:    at,
		AppointmentType: req.AppointmentType,
		Status:          StatusScheduled,
		Reason:          req.Reason,
		Notes:           req.Notes,
		Fee:             req.Fee,
	}
	if a.AppointmentType == "" {
		a.AppointmentType = TypeOutpatient
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkParticipants(ctx, patientID, doctorID); err != nil {
		return nil, err
	}
	if err := s.appts.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, u Update) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.Apply(a); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.appts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CancelAppointment sets the status to CANCELLED. Cancelling twice is a no-op.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) error {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == StatusCancelled {
		return nil
	}
	a.Status = StatusCancelled
	return s.appts.Update(ctx, a)
}

func (s *Service) ListAppointments(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrInvalid, f.Status)
	}
	return s.appts.List(ctx, f, limit, offset)
}
