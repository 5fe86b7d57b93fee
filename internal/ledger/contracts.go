package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hms/hms/internal/integrity"
)

// Contract names as stored in the contract registry.
const (
	ContractMedicalRecord = "MedicalRecordHash"
	ContractAccessControl = "AccessControl"
	ContractDrugTrace     = "DrugTrace"
)

const medicalRecordABI = `[
 {"type":"function","name":"createRecord","stateMutability":"nonpayable","outputs":[],
  "inputs":[{"name":"recordId","type":"string"},{"name":"patientId","type":"string"},
            {"name":"doctorId","type":"string"},{"name":"recordType","type":"string"},
            {"name":"dataHash","type":"string"}]},
 {"type":"function","name":"getRecordHash","stateMutability":"view",
  "inputs":[{"name":"recordId","type":"string"}],"outputs":[{"name":"","type":"string"}]}
]`

const accessControlABI = `[
 {"type":"function","name":"grantAccess","stateMutability":"nonpayable","outputs":[],
  "inputs":[{"name":"grantId","type":"string"},{"name":"grantee","type":"address"},
            {"name":"dataId","type":"string"},{"name":"dataType","type":"string"},
            {"name":"duration","type":"uint256"}]},
 {"type":"function","name":"revokeAccess","stateMutability":"nonpayable","outputs":[],
  "inputs":[{"name":"grantId","type":"string"}]}
]`

const drugTraceABI = `[
 {"type":"function","name":"createItem","stateMutability":"nonpayable","outputs":[],
  "inputs":[{"name":"itemId","type":"string"},{"name":"name","type":"string"},
            {"name":"specification","type":"string"},{"name":"manufacturer","type":"string"},
            {"name":"batchNumber","type":"string"},{"name":"productionDate","type":"uint256"},
            {"name":"expiryDate","type":"uint256"},{"name":"category","type":"string"}]}
]`

// DefaultABIs returns the built-in ABI JSON keyed by contract name.
func DefaultABIs() map[string]string {
	return map[string]string{
		ContractMedicalRecord: medicalRecordABI,
		ContractAccessControl: accessControlABI,
		ContractDrugTrace:     drugTraceABI,
	}
}

// Contracts holds the parsed ABIs used to encode contract calls.
type Contracts struct {
	MedicalRecord abi.ABI
	AccessControl abi.ABI
	DrugTrace     abi.ABI
}

// ParseABI validates an ABI JSON document.
func ParseABI(raw string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

// LoadContracts parses the built-in ABIs, replacing any named in overrides.
// Each contract must still expose the methods the service calls.
func LoadContracts(overrides map[string]string) (*Contracts, error) {
	src := DefaultABIs()
	for name, raw := range overrides {
		if _, known := src[name]; known && strings.TrimSpace(raw) != "" {
			src[name] = raw
		}
	}

	parsed := make(map[string]abi.ABI, len(src))
	for name, raw := range src {
		a, err := ParseABI(raw)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", name, err)
		}
		parsed[name] = a
	}

	required := map[string][]string{
		ContractMedicalRecord: {"createRecord"},
		ContractAccessControl: {"grantAccess", "revokeAccess"},
		ContractDrugTrace:     {"createItem"},
	}
	for name, methods := range required {
		for _, m := range methods {
			if _, ok := parsed[name].Methods[m]; !ok {
				return nil, fmt.Errorf("contract %s: abi has no method %s", name, m)
			}
		}
	}

	return &Contracts{
		MedicalRecord: parsed[ContractMedicalRecord],
		AccessControl: parsed[ContractAccessControl],
		DrugTrace:     parsed[ContractDrugTrace],
	}, nil
}

// call is an encoded contract invocation.
type call struct {
	Contract string
	Method   string
	Data     []byte
}

func (c *Contracts) createRecord(req integrity.AnchorRequest) (call, error) {
	data, err := c.MedicalRecord.Pack("createRecord",
		req.RecordID.String(), req.PatientID.String(), req.DoctorID.String(),
		req.RecordType, req.Fingerprint)
	if err != nil {
		return call{}, fmt.Errorf("pack createRecord: %w", err)
	}
	return call{Contract: ContractMedicalRecord, Method: "createRecord", Data: data}, nil
}

func (c *Contracts) grantAccess(req GrantRequest) (call, error) {
	if !common.IsHexAddress(req.Grantee) {
		return call{}, fmt.Errorf("invalid grantee address %q", req.Grantee)
	}
	d := req.Duration
	if d <= 0 {
		d = DefaultGrantDuration
	}
	data, err := c.AccessControl.Pack("grantAccess",
		req.GrantID, common.HexToAddress(req.Grantee), req.DataID, req.DataType,
		big.NewInt(int64(d.Seconds())))
	if err != nil {
		return call{}, fmt.Errorf("pack grantAccess: %w", err)
	}
	return call{Contract: ContractAccessControl, Method: "grantAccess", Data: data}, nil
}

func (c *Contracts) revokeAccess(grantID string) (call, error) {
	data, err := c.AccessControl.Pack("revokeAccess", grantID)
	if err != nil {
		return call{}, fmt.Errorf("pack revokeAccess: %w", err)
	}
	return call{Contract: ContractAccessControl, Method: "revokeAccess", Data: data}, nil
}

func (c *Contracts) createItem(item TraceItem) (call, error) {
	data, err := c.DrugTrace.Pack("createItem",
		item.ItemID, item.Name, item.Specification, item.Manufacturer, item.BatchNumber,
		big.NewInt(item.ProductionDate), big.NewInt(item.ExpiryDate), item.Category)
	if err != nil {
		return call{}, fmt.Errorf("pack createItem: %w", err)
	}
	return call{Contract: ContractDrugTrace, Method: "createItem", Data: data}, nil
}
