package budget

import (
	"fmt"
	"math/bits"
)

// CostType names a metered operation. Every charge declares one.
type CostType int

const (
	InsnExec CostType = iota
	MemAlloc
	MemCpy
	MemCmp
	HostObjAlloc
	DispatchHostFunction
	EngineValConvert
	VisitObject
	ValSer
	ValDeser
	ComputeSha256Hash
	ComputeKeccak256Hash
	ComputeBlake2bHash
	VerifyEd25519Sig
	RecoverEcdsaSecp256k1Key
	Bls12381G1Add
	Bls12381G1Mul
	Bls12381Pairing
	Int256AddSub
	Int256Mul
	Int256Div
	Int256Pow
	Int256Shift
	BigIntArith
	ChaCha20DrawBytes
	MapEntry
	VecEntry
	StorageRead
	StorageWrite
	GuardFrame
	InstantiateContract
	NumCostTypes
)

var costTypeNames = [NumCostTypes]string{
	InsnExec:                 "InsnExec",
	MemAlloc:                 "MemAlloc",
	MemCpy:                   "MemCpy",
	MemCmp:                   "MemCmp",
	HostObjAlloc:             "HostObjAlloc",
	DispatchHostFunction:     "DispatchHostFunction",
	EngineValConvert:         "EngineValConvert",
	VisitObject:              "VisitObject",
	ValSer:                   "ValSer",
	ValDeser:                 "ValDeser",
	ComputeSha256Hash:        "ComputeSha256Hash",
	ComputeKeccak256Hash:     "ComputeKeccak256Hash",
	ComputeBlake2bHash:       "ComputeBlake2bHash",
	VerifyEd25519Sig:         "VerifyEd25519Sig",
	RecoverEcdsaSecp256k1Key: "RecoverEcdsaSecp256k1Key",
	Bls12381G1Add:            "Bls12381G1Add",
	Bls12381G1Mul:            "Bls12381G1Mul",
	Bls12381Pairing:          "Bls12381Pairing",
	Int256AddSub:             "Int256AddSub",
	Int256Mul:                "Int256Mul",
	Int256Div:                "Int256Div",
	Int256Pow:                "Int256Pow",
	Int256Shift:              "Int256Shift",
	BigIntArith:              "BigIntArith",
	ChaCha20DrawBytes:        "ChaCha20DrawBytes",
	MapEntry:                 "MapEntry",
	VecEntry:                 "VecEntry",
	StorageRead:              "StorageRead",
	StorageWrite:             "StorageWrite",
	GuardFrame:               "GuardFrame",
	InstantiateContract:      "InstantiateContract",
}

func (c CostType) String() string {
	if c >= 0 && c < NumCostTypes {
		return costTypeNames[c]
	}
	return fmt.Sprintf("CostType(%d)", int(c))
}

// ParseCostType is the inverse of String.
func ParseCostType(s string) (CostType, error) {
	for i, n := range costTypeNames {
		if n == s {
			return CostType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cost type %q", s)
}

// LinearScaleBits is the fixed-point shift applied to linear terms, so a
// linear coefficient of 128 means one unit per input unit.
const LinearScaleBits = 7

// CostModel is const + (linear*size)>>LinearScaleBits, saturating.
type CostModel struct {
	Const  uint64 `toml:"const"`
	Linear uint64 `toml:"linear"`
}

func (m CostModel) Evaluate(size uint64) uint64 {
	hi, lo := bits.Mul64(m.Linear, size)
	var lin uint64
	if hi>>LinearScaleBits != 0 {
		lin = ^uint64(0)
	} else {
		lin = hi<<(64-LinearScaleBits) | lo>>LinearScaleBits
	}
	sum, carry := bits.Add64(m.Const, lin, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

// maxInput is the largest size whose cost fits in avail.
func (m CostModel) maxInput(avail uint64) uint64 {
	if m.Const > avail {
		return 0
	}
	if m.Linear == 0 {
		return ^uint64(0)
	}
	r := avail - m.Const
	hi := r >> (64 - LinearScaleBits)
	lo := r<<LinearScaleBits | (1<<LinearScaleBits - 1)
	if hi >= m.Linear {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, m.Linear)
	return q
}

// CostParams holds one model per cost type for each dimension.
type CostParams struct {
	CPU [NumCostTypes]CostModel
	Mem [NumCostTypes]CostModel
}

// DefaultCostParams are calibrated relative to one interpreted instruction
// costing 4 CPU units.
func DefaultCostParams() CostParams {
	var p CostParams
	set := func(c CostType, cpuConst, cpuLin, memConst, memLin uint64) {
		p.CPU[c] = CostModel{Const: cpuConst, Linear: cpuLin}
		p.Mem[c] = CostModel{Const: memConst, Linear: memLin}
	}
	set(InsnExec, 0, 512, 0, 0)
	set(MemAlloc, 16, 16, 16, 128)
	set(MemCpy, 16, 16, 0, 0)
	set(MemCmp, 16, 12, 0, 0)
	set(HostObjAlloc, 40, 0, 48, 0)
	set(DispatchHostFunction, 260, 0, 0, 0)
	set(EngineValConvert, 10, 0, 0, 0)
	set(VisitObject, 30, 0, 0, 0)
	set(ValSer, 230, 29, 240, 384)
	set(ValDeser, 1000, 120, 16, 384)
	set(ComputeSha256Hash, 3700, 4200, 0, 0)
	set(ComputeKeccak256Hash, 3300, 3600, 0, 0)
	set(ComputeBlake2bHash, 2800, 2600, 0, 0)
	set(VerifyEd25519Sig, 377000, 2600, 0, 0)
	set(RecoverEcdsaSecp256k1Key, 2300000, 0, 180, 0)
	set(Bls12381G1Add, 7700, 0, 0, 0)
	set(Bls12381G1Mul, 2450000, 0, 0, 0)
	set(Bls12381Pairing, 5000000, 270000000, 30000, 1300000)
	set(Int256AddSub, 1700, 0, 120, 0)
	set(Int256Mul, 2200, 0, 120, 0)
	set(Int256Div, 2300, 0, 120, 0)
	set(Int256Pow, 4300, 0, 120, 0)
	set(Int256Shift, 400, 0, 120, 0)
	set(BigIntArith, 500, 64, 64, 128)
	set(ChaCha20DrawBytes, 1100, 32, 0, 0)
	set(MapEntry, 60, 0, 0, 0)
	set(VecEntry, 20, 0, 0, 0)
	set(StorageRead, 1500, 64, 0, 128)
	set(StorageWrite, 2500, 128, 0, 128)
	set(GuardFrame, 4000, 0, 280, 0)
	set(InstantiateContract, 10000, 2500, 130000, 5000)
	return p
}
