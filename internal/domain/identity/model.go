package identity

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Patient maps to the patients table.
type Patient struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	IDCard           string    `json:"id_card"`
	Phone            *string   `json:"phone"`
	Email            *string   `json:"email"`
	Address          *string   `json:"address"`
	BirthDate        *string   `json:"birth_date"`
	Gender           *string   `json:"gender"`
	EmergencyContact *string   `json:"emergency_contact"`
	EmergencyPhone   *string   `json:"emergency_phone"`
	MedicalCardID    *string   `json:"medical_card_id"`
	BlockchainAddr   *string   `json:"blockchain_addr"`
	InsuranceType    *string   `json:"insurance_type"`
	InsuranceNumber  *string   `json:"insurance_number"`
	Allergies        *string   `json:"allergies"`
	MedicalHistory   *string   `json:"medical_history"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PatientUpdate is a partial update; nil fields are left unchanged. The ID
// card is immutable once registered.
type PatientUpdate struct {
	Name             *string `json:"name"`
	Phone            *string `json:"phone"`
	Email            *string `json:"email"`
	Address          *string `json:"address"`
	BirthDate        *string `json:"birth_date"`
	Gender           *string `json:"gender"`
	EmergencyContact *string `json:"emergency_contact"`
	EmergencyPhone   *string `json:"emergency_phone"`
	MedicalCardID    *string `json:"medical_card_id"`
	BlockchainAddr   *string `json:"blockchain_addr"`
	InsuranceType    *string `json:"insurance_type"`
	InsuranceNumber  *string `json:"insurance_number"`
	Allergies        *string `json:"allergies"`
	MedicalHistory   *string `json:"medical_history"`
}

func (u PatientUpdate) Apply(p *Patient) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	set(&p.Phone, u.Phone)
	set(&p.Email, u.Email)
	set(&p.Address, u.Address)
	set(&p.BirthDate, u.BirthDate)
	set(&p.Gender, u.Gender)
	set(&p.EmergencyContact, u.EmergencyContact)
	set(&p.EmergencyPhone, u.EmergencyPhone)
	set(&p.MedicalCardID, u.MedicalCardID)
	set(&p.BlockchainAddr, u.BlockchainAddr)
	set(&p.InsuranceType, u.InsuranceType)
	set(&p.InsuranceNumber, u.InsuranceNumber)
	set(&p.Allergies, u.Allergies)
	set(&p.MedicalHistory, u.MedicalHistory)
}

func (p *Patient) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if strings.TrimSpace(p.IDCard) == "" {
		return fmt.Errorf("%w: id_card is required", ErrInvalid)
	}
	if utf8.RuneCountInString(p.IDCard) > 18 {
		return fmt.Errorf("%w: id_card must be at most 18 characters", ErrInvalid)
	}
	if p.BirthDate != nil && *p.BirthDate != "" {
		if _, err := time.Parse("2006-01-02", *p.BirthDate); err != nil {
			return fmt.Errorf("%w: birth_date must be YYYY-MM-DD", ErrInvalid)
		}
	}
	return validateAddr(p.BlockchainAddr)
}

// PatientFilter narrows patient listings. Search matches name, ID card or
// medical card number.
type PatientFilter struct {
	Search string
}

// Doctor maps to the doctors table.
type Doctor struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Title          string    `json:"title"`
	DeptID         string    `json:"dept_id"`
	DeptName       string    `json:"dept_name"`
	LicenseNo      string    `json:"license_no"`
	Phone          *string   `json:"phone"`
	Email          *string   `json:"email"`
	Specialization *string   `json:"specialization"`
	Education      *string   `json:"education"`
	Experience     *string   `json:"experience"`
	BlockchainAddr *string   `json:"blockchain_addr"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type DoctorUpdate struct {
	Name           *string `json:"name"`
	Title          *string `json:"title"`
	DeptID         *string `json:"dept_id"`
	DeptName       *string `json:"dept_name"`
	Phone          *string `json:"phone"`
	Email          *string `json:"email"`
	Specialization *string `json:"specialization"`
	Education      *string `json:"education"`
	Experience     *string `json:"experience"`
	BlockchainAddr *string `json:"blockchain_addr"`
}

func (u DoctorUpdate) Apply(d *Doctor) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Title != nil {
		d.Title = *u.Title
	}
	if u.DeptID != nil {
		d.DeptID = *u.DeptID
	}
	if u.DeptName != nil {
		d.DeptName = *u.DeptName
	}
	set(&d.Phone, u.Phone)
	set(&d.Email, u.Email)
	set(&d.Specialization, u.Specialization)
	set(&d.Education, u.Education)
	set(&d.Experience, u.Experience)
	set(&d.BlockchainAddr, u.BlockchainAddr)
}

func (d *Doctor) Validate() error {
	required := []struct{ field, value string }{
		{"name", d.Name},
		{"title", d.Title},
		{"dept_id", d.DeptID},
		{"dept_name", d.DeptName},
		{"license_no", d.LicenseNo},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalid, r.field)
		}
	}
	return validateAddr(d.BlockchainAddr)
}

// DoctorFilter narrows doctor listings. Search matches name, license number
// or specialization.
type DoctorFilter struct {
	Search string
	DeptID string
}

func set(dst **string, v *string) {
	if v != nil {
		*dst = v
	}
}

func validateAddr(addr *string) error {
	if addr == nil || *addr == "" {
		return nil
	}
	if !common.IsHexAddress(*addr) {
		return fmt.Errorf("%w: blockchain_addr is not a valid address", ErrInvalid)
	}
	return nil
}
