package emr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/integrity"
)

// -- Mock Record Repository --

type mockRecordRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*MedicalRecord
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[uuid.UUID]*MedicalRecord)}
}

func (m *mockRecordRepo) Create(_ context.Context, r *MedicalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*MedicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRecordRepo) Update(_ context.Context, r *MedicalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[r.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *r
	cp.BlockchainTxHash = stored.BlockchainTxHash
	cp.BlockNumber = stored.BlockNumber
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRecordRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.IsActive = false
	return nil
}

func (m *mockRecordRepo) List(_ context.Context, f Filter, limit, offset int) ([]*MedicalRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*MedicalRecord
	for _, r := range m.records {
		if !r.IsActive {
			continue
		}
		if f.PatientID != uuid.Nil && r.PatientID != f.PatientID {
			continue
		}
		if f.RecordType != "" && r.RecordType != f.RecordType {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(r.Title+r.Content), strings.ToLower(f.Search)) {
			continue
		}
		result = append(result, r)
	}
	return result, len(result), nil
}

func (m *mockRecordRepo) GetRecord(ctx context.Context, id uuid.UUID) (*integrity.Record, error) {
	r, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, integrity.ErrNotFound
	}
	return toIntegrity(r), nil
}

func (m *mockRecordRepo) SaveAnchor(_ context.Context, id uuid.UUID, scheme integrity.Scheme, fp, txRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return integrity.ErrNotFound
	}
	if scheme.Compute(r.ClinicalFields()) != fp {
		return integrity.ErrRecordChanged
	}
	r.BlockchainHash = fp
	r.FingerprintScheme = string(scheme)
	r.BlockchainTxHash = &txRef
	r.BlockNumber = nil
	return nil
}

func (m *mockRecordRepo) SetAnchorBlock(_ context.Context, id uuid.UUID, block int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return integrity.ErrNotFound
	}
	r.BlockNumber = &block
	return nil
}

// -- Fake Ledger --

type fakeLedger struct {
	mu        sync.Mutex
	confirmed map[string]int64
	writeErr  error
	readErr   error
	// beforeReturn runs inside SubmitRecordHash after the hash was accepted.
	beforeReturn func()
	submitted    []integrity.AnchorRequest
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{confirmed: make(map[string]int64)}
}

func (l *fakeLedger) SubmitRecordHash(_ context.Context, req integrity.AnchorRequest) (string, error) {
	l.mu.Lock()
	if l.writeErr != nil {
		l.mu.Unlock()
		return "", l.writeErr
	}
	l.submitted = append(l.submitted, req)
	tx := "0x" + strings.Repeat("0", 62) + "01"
	hook := l.beforeReturn
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return tx, nil
}

func (l *fakeLedger) Receipt(_ context.Context, txRef string) (*integrity.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	block, ok := l.confirmed[txRef]
	if !ok {
		return nil, integrity.ErrTxNotFound
	}
	return &integrity.Receipt{TxRef: txRef, Confirmed: true, BlockNumber: block}, nil
}

// -- Mock Participants --

type mockParticipants struct {
	patients map[uuid.UUID]bool
	doctors  map[uuid.UUID]bool
}

func (m *mockParticipants) GetPatient(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	if !m.patients[id] {
		return nil, identity.ErrNotFound
	}
	return &identity.Patient{ID: id, IsActive: true}, nil
}

func (m *mockParticipants) GetDoctor(_ context.Context, id uuid.UUID) (*identity.Doctor, error) {
	if !m.doctors[id] {
		return nil, identity.ErrNotFound
	}
	return &identity.Doctor{ID: id, IsActive: true}, nil
}

type fixture struct {
	svc       *Service
	repo      *mockRecordRepo
	ledger    *fakeLedger
	patientID uuid.UUID
	doctorID  uuid.UUID
}

func newFixture(scheme integrity.Scheme) *fixture {
	patientID, doctorID := uuid.New(), uuid.New()
	repo := newMockRecordRepo()
	ledger := newFakeLedger()
	binder := integrity.NewBinder(repo, ledger, ledger, integrity.WithScheme(scheme))
	people := &mockParticipants{
		patients: map[uuid.UUID]bool{patientID: true},
		doctors:  map[uuid.UUID]bool{doctorID: true},
	}
	return &fixture{
		svc:       NewService(repo, people, binder),
		repo:      repo,
		ledger:    ledger,
		patientID: patientID,
		doctorID:  doctorID,
	}
}

// rebind returns a service over the same records whose binder uses scheme,
// as after a configuration change and restart.
func (f *fixture) rebind(scheme integrity.Scheme) *Service {
	binder := integrity.NewBinder(f.repo, f.ledger, f.ledger, integrity.WithScheme(scheme))
	return NewService(f.repo, f.svc.people, binder)
}

func (f *fixture) newRecord() *MedicalRecord {
	return &MedicalRecord{
		PatientID:  f.patientID,
		DoctorID:   f.doctorID,
		RecordType: TypeEMR,
		Title:      "Flu",
		Content:    "Patient has flu",
	}
}

func (f *fixture) create(t *testing.T) *MedicalRecord {
	t.Helper()
	r := f.newRecord()
	require.NoError(t, f.svc.CreateRecord(context.Background(), r))
	return r
}

func strPtr(s string) *string { return &s }

const fluFingerprint = "029c70576819e149fe36aba08d2d9f73bd9d31149f0622e283cd2d89bae0e3c7"

func TestCreateRecord_Fingerprint(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.newRecord()
	r.BlockchainTxHash = strPtr("0xforged")
	r.BlockNumber = func() *int64 { v := int64(9); return &v }()

	require.NoError(t, f.svc.CreateRecord(context.Background(), r))
	assert.Equal(t, fluFingerprint, r.BlockchainHash)
	assert.True(t, r.IsActive)
	assert.Nil(t, r.BlockchainTxHash, "caller supplied anchor must be dropped")
	assert.Nil(t, r.BlockNumber)
}

func TestCreateRecord_Validation(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	cases := map[string]func(r *MedicalRecord){
		"no title":     func(r *MedicalRecord) { r.Title = " " },
		"no content":   func(r *MedicalRecord) { r.Content = "" },
		"bad type":     func(r *MedicalRecord) { r.RecordType = "NOTE" },
		"no patient":   func(r *MedicalRecord) { r.PatientID = uuid.Nil },
		"long title":   func(r *MedicalRecord) { r.Title = strings.Repeat("x", 201) },
		"long CJK":     func(r *MedicalRecord) { r.Title = strings.Repeat("流", 201) },
		"missing type": func(r *MedicalRecord) { r.RecordType = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := f.newRecord()
			mutate(r)
			assert.ErrorIs(t, f.svc.CreateRecord(context.Background(), r), ErrInvalid)
		})
	}
}

func TestCreateRecord_TitleLengthCountsCharacters(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)

	// 200 characters, 600 bytes.
	r := f.newRecord()
	r.Title = strings.Repeat("流", 200)
	require.NoError(t, f.svc.CreateRecord(context.Background(), r))

	r = f.newRecord()
	r.Title = "Grippe " + strings.Repeat("é", 193)
	require.NoError(t, f.svc.CreateRecord(context.Background(), r))
}

func TestCreateRecord_UnknownParticipants(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)

	r := f.newRecord()
	r.PatientID = uuid.New()
	err := f.svc.CreateRecord(context.Background(), r)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "patient")

	r = f.newRecord()
	r.DoctorID = uuid.New()
	err = f.svc.CreateRecord(context.Background(), r)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "doctor")

	assert.Empty(t, f.repo.records)
}

func TestUpdateRecord_NonClinicalKeepsFingerprint(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)

	confidential := true
	updated, err := f.svc.UpdateRecord(context.Background(), r.ID, Update{
		Notes:          strPtr("call back friday"),
		IsConfidential: &confidential,
	})
	require.NoError(t, err)
	assert.Equal(t, fluFingerprint, updated.BlockchainHash)
	assert.True(t, updated.IsConfidential)
}

func TestUpdateRecord_ClinicalRecomputes(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)

	updated, err := f.svc.UpdateRecord(context.Background(), r.ID, Update{Diagnosis: strPtr("Influenza A")})
	require.NoError(t, err)
	assert.NotEqual(t, fluFingerprint, updated.BlockchainHash)
	assert.Equal(t, integrity.Fingerprint(updated.ClinicalFields()), updated.BlockchainHash)

	// Writing back the same value keeps the digest stable.
	again, err := f.svc.UpdateRecord(context.Background(), r.ID, Update{Diagnosis: strPtr("Influenza A")})
	require.NoError(t, err)
	assert.Equal(t, updated.BlockchainHash, again.BlockchainHash)
}

func TestUpdateRecord_InvalidLeavesStoredRecord(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)

	_, err := f.svc.UpdateRecord(context.Background(), r.ID, Update{Title: strPtr("")})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, "Flu", f.repo.records[r.ID].Title)

	_, err = f.svc.UpdateRecord(context.Background(), uuid.New(), Update{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateApply_ChangedFields(t *testing.T) {
	r := &MedicalRecord{Title: "a", Content: "b"}
	flag := false
	changed := Update{
		Title:          strPtr("t"),
		Prescription:   strPtr("rest"),
		IPFSCID:        strPtr("bafy"),
		IsConfidential: &flag,
	}.Apply(r)
	assert.Equal(t, []string{"title", "prescription", "ipfs_cid", "is_confidential"}, changed)
	assert.Empty(t, Update{}.Apply(r))
}

func TestVerifyRecord_Unanchored(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)

	res, err := f.svc.VerifyRecord(context.Background(), r.ID, fluFingerprint)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.BlockchainVerified)

	res, err = f.svc.VerifyRecord(context.Background(), r.ID, strings.Repeat("f", 64))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.BlockchainVerified)
}

func TestVerifyRecord_ClaimComparedAsSent(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)

	padded := "  " + strings.ToUpper(fluFingerprint) + "\n"
	res, err := f.svc.VerifyRecord(context.Background(), r.ID, padded)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, padded, res.ProvidedHash)
	assert.Equal(t, fluFingerprint, res.CurrentHash)

	res, err = f.svc.VerifyRecord(context.Background(), r.ID, "")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Empty(t, res.ProvidedHash)
}

func TestVerifyRecord_NotFound(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	_, err := f.svc.VerifyRecord(context.Background(), uuid.New(), fluFingerprint)
	assert.ErrorIs(t, err, integrity.ErrNotFound)
}

func TestAnchorThenVerify_Confirmed(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)

	res, err := f.svc.AnchorRecord(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, fluFingerprint, res.Fingerprint)
	require.Len(t, f.ledger.submitted, 1)
	assert.Equal(t, f.patientID, f.ledger.submitted[0].PatientID)
	assert.Equal(t, TypeEMR, f.ledger.submitted[0].RecordType)

	f.ledger.confirmed[res.TxRef] = 12345

	v, err := f.svc.VerifyRecord(context.Background(), r.ID, fluFingerprint)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.True(t, v.BlockchainVerified)
	require.NotNil(t, v.AnchorBlockRef)
	assert.Equal(t, int64(12345), *v.AnchorBlockRef)

	stored := f.repo.records[r.ID]
	require.NotNil(t, stored.BlockNumber)
	assert.Equal(t, int64(12345), *stored.BlockNumber)
}

func TestVerifyRecord_DeactivatedStillVerifiable(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)
	require.NoError(t, f.svc.DeactivateRecord(context.Background(), r.ID))

	res, err := f.svc.VerifyRecord(context.Background(), r.ID, fluFingerprint)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	list, total, err := f.svc.ListRecords(context.Background(), Filter{}, 20, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

func TestVerifyRecord_LedgerDownDegrades(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)
	_, err := f.svc.AnchorRecord(context.Background(), r.ID)
	require.NoError(t, err)

	f.ledger.readErr = integrity.ErrLedgerUnavailable
	res, err := f.svc.VerifyRecord(context.Background(), r.ID, fluFingerprint)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.BlockchainVerified)
	assert.Nil(t, res.AnchorBlockRef)
}

func TestAnchorRecord_WriteFailureLeavesRecord(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)
	f.ledger.writeErr = errors.New("nonce too low")

	_, err := f.svc.AnchorRecord(context.Background(), r.ID)
	assert.ErrorIs(t, err, integrity.ErrLedgerWriteFailed)

	stored := f.repo.records[r.ID]
	assert.Nil(t, stored.BlockchainTxHash)
	assert.Equal(t, fluFingerprint, stored.BlockchainHash)
}

func TestAnchorRecord_ContentChangedMidAnchor(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)

	f.ledger.beforeReturn = func() {
		f.ledger.beforeReturn = nil
		_, err := f.svc.UpdateRecord(context.Background(), r.ID, Update{Treatment: strPtr("oseltamivir")})
		require.NoError(t, err)
	}

	_, err := f.svc.AnchorRecord(context.Background(), r.ID)
	assert.ErrorIs(t, err, integrity.ErrRecordChanged)

	stored := f.repo.records[r.ID]
	assert.Nil(t, stored.BlockchainTxHash)
	assert.Equal(t, integrity.Fingerprint(stored.ClinicalFields()), stored.BlockchainHash)
}

func TestSchemeV2(t *testing.T) {
	f := newFixture(integrity.SchemeV2)
	r := f.create(t)
	assert.Equal(t, integrity.FingerprintV2(r.ClinicalFields()), r.BlockchainHash)
	assert.NotEqual(t, fluFingerprint, r.BlockchainHash)

	_, err := f.svc.AnchorRecord(context.Background(), r.ID)
	require.NoError(t, err)
}

func TestSchemeSwitch_ExistingRecordsStayValid(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)
	assert.Equal(t, string(integrity.SchemeLegacy), r.FingerprintScheme)

	svc := f.rebind(integrity.SchemeV2)
	ctx := context.Background()

	res, err := svc.VerifyRecord(ctx, r.ID, fluFingerprint)
	require.NoError(t, err)
	assert.True(t, res.Valid, "legacy fingerprint must verify after the switch")

	// A non-clinical edit keeps the stored hash and the scheme it was made with.
	updated, err := svc.UpdateRecord(ctx, r.ID, Update{Notes: strPtr("follow up in a week")})
	require.NoError(t, err)
	assert.Equal(t, fluFingerprint, updated.BlockchainHash)
	assert.Equal(t, string(integrity.SchemeLegacy), updated.FingerprintScheme)
	res, err = svc.VerifyRecord(ctx, r.ID, updated.BlockchainHash)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// A clinical edit moves the record to the configured scheme.
	updated, err = svc.UpdateRecord(ctx, r.ID, Update{Diagnosis: strPtr("Influenza B")})
	require.NoError(t, err)
	assert.Equal(t, string(integrity.SchemeV2), updated.FingerprintScheme)
	assert.Equal(t, integrity.FingerprintV2(updated.ClinicalFields()), updated.BlockchainHash)
	res, err = svc.VerifyRecord(ctx, r.ID, updated.BlockchainHash)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestSchemeSwitch_AnchorUpgradesRecord(t *testing.T) {
	f := newFixture(integrity.SchemeLegacy)
	r := f.create(t)

	svc := f.rebind(integrity.SchemeV2)
	anchored, err := svc.AnchorRecord(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, integrity.SchemeV2, anchored.Scheme)

	stored := f.repo.records[r.ID]
	assert.Equal(t, string(integrity.SchemeV2), stored.FingerprintScheme)
	assert.Equal(t, integrity.FingerprintV2(stored.ClinicalFields()), stored.BlockchainHash)

	res, err := svc.VerifyRecord(context.Background(), r.ID, stored.BlockchainHash)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
