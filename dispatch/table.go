package dispatch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/log"
	"github.com/colorfulnotion/contracthost/val"
)

// Identifier names a host function. Versions start at 1.
type Identifier struct {
	Module   string
	Function string
	Version  uint32
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s.%s@%d", id.Module, id.Function, id.Version)
}

func (id Identifier) less(o Identifier) bool {
	if id.Module != o.Module {
		return id.Module < o.Module
	}
	if id.Function != o.Function {
		return id.Function < o.Function
	}
	return id.Version < o.Version
}

// ParseIdentifier accepts "module.function" and "module.function@N".
func ParseIdentifier(s string) (Identifier, error) {
	mod, rest, ok := strings.Cut(s, ".")
	if !ok || mod == "" || rest == "" {
		return Identifier{}, fmt.Errorf("host function %q: want module.function[@version]", s)
	}
	fn, version, err := SplitVersion(rest)
	if err != nil {
		return Identifier{}, fmt.Errorf("host function %q: %w", s, err)
	}
	return Identifier{Module: mod, Function: fn, Version: version}, nil
}

// SplitVersion splits an import name of the form "name" or "name@N".
func SplitVersion(name string) (string, uint32, error) {
	fn, v, ok := strings.Cut(name, "@")
	if !ok {
		return name, 1, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 {
		return "", 0, fmt.Errorf("bad version %q", v)
	}
	return fn, uint32(n), nil
}

// Env is what a handler environment must provide for the table to meter
// dispatch overhead.
type Env interface {
	Charge(ty budget.CostType, size uint64) error
}

type Handler[E Env] func(env E, args []val.Val) (val.Val, error)

type Entry[E Env] struct {
	ID      Identifier
	Args    []Shape
	Ret     Shape
	Handler Handler[E]
}

func (e Entry[E]) Arity() int { return len(e.Args) }

// Signature renders the entry for tooling, e.g. "vec.push_back@1(vec, any) -> vec".
func (e Entry[E]) Signature() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s) -> %s", e.ID, strings.Join(parts, ", "), e.Ret)
}

// Table is immutable once built and safe for concurrent lookups.
type Table[E Env] struct {
	entries []Entry[E]
	index   map[Identifier]int
}

// NewTable sorts entries by identifier and rejects duplicates.
func NewTable[E Env](entries []Entry[E]) (*Table[E], error) {
	sorted := make([]Entry[E], len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.less(sorted[j].ID) })

	index := make(map[Identifier]int, len(sorted))
	for i, e := range sorted {
		if e.Handler == nil {
			return nil, fmt.Errorf("dispatch entry %s has no handler", e.ID)
		}
		if e.ID.Version == 0 {
			return nil, fmt.Errorf("dispatch entry %s has version 0", e.ID)
		}
		if _, dup := index[e.ID]; dup {
			return nil, fmt.Errorf("duplicate dispatch entry %s", e.ID)
		}
		index[e.ID] = i
	}
	return &Table[E]{entries: sorted, index: index}, nil
}

func (t *Table[E]) Len() int { return len(t.entries) }

// Lookup returns the entry and its stable index.
func (t *Table[E]) Lookup(module, function string, version uint32) (Entry[E], int, bool) {
	i, ok := t.index[Identifier{Module: module, Function: function, Version: version}]
	if !ok {
		return Entry[E]{}, -1, false
	}
	return t.entries[i], i, true
}

func (t *Table[E]) At(i int) (Entry[E], bool) {
	if i < 0 || i >= len(t.entries) {
		return Entry[E]{}, false
	}
	return t.entries[i], true
}

// Entries returns a sorted copy.
func (t *Table[E]) Entries() []Entry[E] {
	out := make([]Entry[E], len(t.entries))
	copy(out, t.entries)
	return out
}

// Dispatch resolves id, checks arity and shapes, charges the fixed
// dispatch overhead and runs the handler.
func (t *Table[E]) Dispatch(env E, id Identifier, args []val.Val) (val.Val, error) {
	i, ok := t.index[id]
	if !ok {
		return 0, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "no host function %s", id)
	}
	return t.DispatchIndex(env, i, args)
}

// DispatchIndex is Dispatch for an index previously returned by Lookup.
func (t *Table[E]) DispatchIndex(env E, i int, args []val.Val) (val.Val, error) {
	if i < 0 || i >= len(t.entries) {
		return 0, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "no host function at index %d", i)
	}
	e := &t.entries[i]
	if len(args) != len(e.Args) {
		return 0, hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "%s takes %d arguments, got %d", e.ID, len(e.Args), len(args))
	}
	for j, s := range e.Args {
		if !s.Matches(args[j]) {
			return 0, hosterrors.InvalidInput(hosterrors.CodeUnexpectedType, "%s argument %d: want %s, got %s", e.ID, j, s, args[j].Tag())
		}
	}
	if err := env.Charge(budget.DispatchHostFunction, 0); err != nil {
		return 0, err
	}
	log.Trace(log.DispatchMonitoring, "dispatch", "fn", e.ID, "args", len(args))
	ret, err := e.Handler(env, args)
	if err != nil {
		return 0, err
	}
	if !e.Ret.Matches(ret) {
		return 0, hosterrors.Invariant("%s returned %s, declared %s", e.ID, ret.Tag(), e.Ret)
	}
	return ret, nil
}
