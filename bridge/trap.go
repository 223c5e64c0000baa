package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/contracthost/hosterrors"
)

type TrapKind uint8

const (
	TrapUnknown TrapKind = iota
	TrapUnreachable
	TrapOutOfBounds
	TrapStackOverflow
	TrapDivisionByZero
	TrapIntegerOverflow
	TrapIllegalInstruction
)

var trapNames = map[TrapKind]string{
	TrapUnknown:            "unknown",
	TrapUnreachable:        "unreachable",
	TrapOutOfBounds:        "out of bounds",
	TrapStackOverflow:      "stack overflow",
	TrapDivisionByZero:     "division by zero",
	TrapIntegerOverflow:    "integer overflow",
	TrapIllegalInstruction: "illegal instruction",
}

func (k TrapKind) String() string {
	if n, ok := trapNames[k]; ok {
		return n
	}
	return fmt.Sprintf("trap(%d)", uint8(k))
}

var trapCodes = map[TrapKind]hosterrors.Code{
	TrapUnknown:            hosterrors.CodeInternalError,
	TrapUnreachable:        hosterrors.CodeInvalidAction,
	TrapOutOfBounds:        hosterrors.CodeIndexBounds,
	TrapStackOverflow:      hosterrors.CodeExceededLimit,
	TrapDivisionByZero:     hosterrors.CodeArithDomain,
	TrapIntegerOverflow:    hosterrors.CodeArithDomain,
	TrapIllegalInstruction: hosterrors.CodeInvalidValue,
}

// Trap is a guest fault raised by an engine.
type Trap struct {
	Kind TrapKind
	PC   uint64
	Msg  string
}

func (t *Trap) Error() string {
	if t.Msg == "" {
		return fmt.Sprintf("trap: %s at %d", t.Kind, t.PC)
	}
	return fmt.Sprintf("trap: %s at %d: %s", t.Kind, t.PC, t.Msg)
}

// TranslateTrap maps whatever an engine returned onto the host taxonomy.
// Host errors that travelled through the engine pass through unchanged;
// guest traps become EngineTrap; anything else is an engine failure.
func TranslateTrap(err error) error {
	if err == nil {
		return nil
	}
	var abort *hosterrors.Abort
	if errors.As(err, &abort) {
		return abort
	}
	var he *hosterrors.HostError
	if errors.As(err, &he) {
		return he
	}
	var trap *Trap
	if errors.As(err, &trap) {
		return hosterrors.New(hosterrors.KindEngineTrap, trapCodes[trap.Kind], "%s", trap.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return hosterrors.Invariant("execution cancelled: %v", err)
	}
	return hosterrors.Invariant("engine failure: %v", err)
}
