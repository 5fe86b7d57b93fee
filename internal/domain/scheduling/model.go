package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid input")
)

// Appointment types.
const (
	TypeOutpatient = "OUTPATIENT"
	TypeFollowUp   = "FOLLOW_UP"
	TypeEmergency  = "EMERGENCY"
)

// Appointment statuses.
const (
	StatusScheduled = "SCHEDULED"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusCompleted = "COMPLETED"
)

var validTypes = map[string]bool{TypeOutpatient: true, TypeFollowUp: true, TypeEmergency: true}

var validStatuses = map[string]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusCancelled: true, StatusCompleted: true,
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	DeptID          string    `json:"dept_id"`
	DeptName        string    `json:"dept_name"`
	ScheduleTime    time.Time `json:"schedule_time"`
	AppointmentType string    `json:"appointment_type"`
	Status          string    `json:"status"`
	Reason          *string   `json:"reason"`
	Notes           *string   `json:"notes"`
	Fee             float64   `json:"fee"`
	IsPaid          bool      `json:"is_paid"`
	PaymentMethod   *string   `json:"payment_method"`
	PaymentTxHash   *string   `json:"payment_tx_hash"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateRequest is the body of POST /appointments. schedule_time is ISO 8601.
type CreateRequest struct {
	PatientID       string  `json:"patient_id"`
	DoctorID        string  `json:"doctor_id"`
	DeptID          string  `json:"dept_id"`
	DeptName        string  `json:"dept_name"`
	ScheduleTime    string  `json:"schedule_time"`
	AppointmentType string  `json:"appointment_type"`
	Reason          *string `json:"reason"`
	Notes           *string `json:"notes"`
	Fee             float64 `json:"fee"`
}

// Update is a partial update; nil fields are left unchanged.
type Update struct {
	ScheduleTime    *string  `json:"schedule_time"`
	AppointmentType *string  `json:"appointment_type"`
	Status          *string  `json:"status"`
	Reason          *string  `json:"reason"`
	Notes           *string  `json:"notes"`
	Fee             *float64 `json:"fee"`
	IsPaid          *bool    `json:"is_paid"`
	PaymentMethod   *string  `json:"payment_method"`
	PaymentTxHash   *string  `json:"payment_tx_hash"`
}

// Filter narrows appointment listings. Zero values are ignored.
type Filter struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    string
	From      *time.Time
	To        *time.Time
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseISOTime accepts RFC 3339 and the offset-less ISO forms. Times without
// an offset are taken as UTC.
func ParseISOTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not an ISO 8601 time", ErrInvalid, s)
}

// Apply merges u into a. Invalid values leave a partially updated; callers
// must discard a on error.
func (u Update) Apply(a *Appointment) error {
	if u.ScheduleTime != nil {
		t, err := ParseISOTime(*u.ScheduleTime)
		if err != nil {
			return fmt.Errorf("%w: invalid schedule_time format", ErrInvalid)
		}
		a.ScheduleTime = t
	}
	if u.AppointmentType != nil {
		a.AppointmentType = *u.AppointmentType
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Reason != nil {
		a.Reason = u.Reason
	}
	if u.Notes != nil {
		a.Notes = u.Notes
	}
	if u.Fee != nil {
		a.Fee = *u.Fee
	}
	if u.IsPaid != nil {
		a.IsPaid = *u.IsPaid
	}
	if u.PaymentMethod != nil {
		a.PaymentMethod = u.PaymentMethod
	}
	if u.PaymentTxHash != nil {
		a.PaymentTxHash = u.PaymentTxHash
	}
	return nil
}

func (a *Appointment) Validate() error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalid)
	}
	if a.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrInvalid)
	}
	if strings.TrimSpace(a.DeptID) == "" || strings.TrimSpace(a.DeptName) == "" {
		return fmt.Errorf("%w: dept_id and dept_name are required", ErrInvalid)
	}
	if a.ScheduleTime.IsZero() {
		return fmt.Errorf("%w: schedule_time is required", ErrInvalid)
	}
	if !validTypes[a.AppointmentType] {
		return fmt.Errorf("%w: invalid appointment_type %q", ErrInvalid, a.AppointmentType)
	}
	if !validStatuses[a.Status] {
		return fmt.Errorf("%w: invalid status %q", ErrInvalid, a.Status)
	}
	if a.Fee < 0 {
		return fmt.Errorf("%w: fee must not be negative", ErrInvalid)
	}
	if a.PaymentTxHash != nil && *a.PaymentTxHash != "" {
		b, err := hexutil.Decode(*a.PaymentTxHash)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("%w: payment_tx_hash must be a 0x-prefixed 32-byte hash", ErrInvalid)
		}
	}
	return nil
}
