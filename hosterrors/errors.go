package hosterrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the coarse failure class. It travels in the minor bits of a
// Status Val and is stable across releases.
type Kind uint32

const (
	KindContract Kind = iota
	KindInvalidInput
	KindObjectTypeMismatch
	KindConversion
	KindMissingFunction
	KindStorage
	KindEngineTrap
	KindBudgetExceeded
	KindInvariantViolation
	numKinds
)

var kindNames = [numKinds]string{
	KindContract:           "Contract",
	KindInvalidInput:       "InvalidInput",
	KindObjectTypeMismatch: "ObjectTypeMismatch",
	KindConversion:         "ConversionError",
	KindMissingFunction:    "MissingFunction",
	KindStorage:            "StorageError",
	KindEngineTrap:         "EngineTrap",
	KindBudgetExceeded:     "BudgetExceeded",
	KindInvariantViolation: "InvariantViolation",
}

var kindCodes = [numKinds]string{"C", "I", "O", "V", "M", "S", "E", "B", "X"}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return k < numKinds }

// Fatal kinds abort the whole invocation and can never be caught by a frame.
func (k Kind) Fatal() bool {
	return k == KindBudgetExceeded || k == KindInvariantViolation
}

// Code refines a Kind. Contract failures carry a guest-chosen code instead.
type Code uint32

const (
	CodeNone Code = iota
	CodeArithDomain
	CodeIndexBounds
	CodeInvalidValue
	CodeMissingValue
	CodeExistingValue
	CodeExceededLimit
	CodeInvalidAction
	CodeInternalError
	CodeUnexpectedType
	CodeUnexpectedSize
	CodeAccessDenied
)

var codeNames = map[Code]string{
	CodeNone:           "None",
	CodeArithDomain:    "ArithDomain",
	CodeIndexBounds:    "IndexBounds",
	CodeInvalidValue:   "InvalidValue",
	CodeMissingValue:   "MissingValue",
	CodeExistingValue:  "ExistingValue",
	CodeExceededLimit:  "ExceededLimit",
	CodeInvalidAction:  "InvalidAction",
	CodeInternalError:  "InternalError",
	CodeUnexpectedType: "UnexpectedType",
	CodeUnexpectedSize: "UnexpectedSize",
	CodeAccessDenied:   "AccessDenied",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// HostError is a recoverable failure. Frame and host-call boundaries turn
// it into a Status Val for the caller.
type HostError struct {
	Kind Kind
	Code Code
	Msg  string
}

func (e *HostError) Error() string {
	code := e.Code.String()
	if e.Kind == KindContract {
		code = fmt.Sprintf("%d", uint32(e.Code))
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s%d|%s: %s", kindCodes[e.Kind%numKinds], uint32(e.Code), e.Kind, code)
	}
	return fmt.Sprintf("%s%d|%s: %s: %s", kindCodes[e.Kind%numKinds], uint32(e.Code), e.Kind, code, e.Msg)
}

// Is matches on Kind and Code, so sentinel values work with errors.Is.
func (e *HostError) Is(target error) bool {
	t, ok := target.(*HostError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == CodeNone || t.Code == e.Code)
}

// Abort is the fatal channel. It is a distinct type so no code path that
// handles *HostError can swallow it by accident.
type Abort struct {
	Kind Kind
	Code Code
	Msg  string
}

func (a *Abort) Error() string {
	return fmt.Sprintf("%s%d|%s: abort: %s", kindCodes[a.Kind%numKinds], uint32(a.Code), a.Kind, a.Msg)
}

func (a *Abort) Is(target error) bool {
	t, ok := target.(*Abort)
	return ok && t.Kind == a.Kind
}

// New builds a recoverable error. Fatal kinds are routed to NewAbort so the
// two channels stay disjoint.
func New(kind Kind, code Code, format string, args ...any) error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if kind.Fatal() {
		return &Abort{Kind: kind, Code: code, Msg: msg}
	}
	return &HostError{Kind: kind, Code: code, Msg: msg}
}

func NewAbort(kind Kind, code Code, format string, args ...any) *Abort {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Abort{Kind: kind, Code: code, Msg: msg}
}

func InvalidInput(code Code, format string, args ...any) error {
	return New(KindInvalidInput, code, format, args...)
}

func TypeMismatch(format string, args ...any) error {
	return New(KindObjectTypeMismatch, CodeUnexpectedType, format, args...)
}

func Conversion(code Code, format string, args ...any) error {
	return New(KindConversion, code, format, args...)
}

func Storage(code Code, format string, args ...any) error {
	return New(KindStorage, code, format, args...)
}

func Invariant(format string, args ...any) *Abort {
	return NewAbort(KindInvariantViolation, CodeInternalError, format, args...)
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput       = &HostError{Kind: KindInvalidInput}
	ErrObjectTypeMismatch = &HostError{Kind: KindObjectTypeMismatch}
	ErrConversion         = &HostError{Kind: KindConversion}
	ErrMissingFunction    = &HostError{Kind: KindMissingFunction}
	ErrStorage            = &HostError{Kind: KindStorage}
	ErrEngineTrap         = &HostError{Kind: KindEngineTrap}
	ErrContract           = &HostError{Kind: KindContract}
	ErrBudgetExceeded     = &Abort{Kind: KindBudgetExceeded}
	ErrInvariantViolation = &Abort{Kind: KindInvariantViolation}
)

// IsFatal reports whether err carries an Abort anywhere in its chain.
func IsFatal(err error) bool {
	var a *Abort
	return errors.As(err, &a)
}

// Classify splits err into its recoverable or fatal part. An
// error that is neither a HostError nor an Abort is reported as an
// InvariantViolation: every failure inside the host must be classified.
func Classify(err error) (*HostError, *Abort) {
	if err == nil {
		return nil, nil
	}
	var a *Abort
	if errors.As(err, &a) {
		return nil, a
	}
	var he *HostError
	if errors.As(err, &he) {
		return he, nil
	}
	return nil, Invariant("unclassified error: %v", err)
}

// KindOf returns the kind carried by err, or false for foreign errors.
func KindOf(err error) (Kind, bool) {
	var a *Abort
	if errors.As(err, &a) {
		return a.Kind, true
	}
	var he *HostError
	if errors.As(err, &he) {
		return he.Kind, true
	}
	return 0, false
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
