// Package host runs contract invocations. A Host holds the configuration,
// the registered contracts and the host function table; each Invoke gets
// a private Env with a fresh budget, object store and storage overlay, so
// a Host may serve concurrent invocations.
package host

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/log"
	"github.com/colorfulnotion/contracthost/storage"
)

type Host struct {
	cfg       Config
	table     *dispatch.Table[*Frame]
	contracts map[storage.ContractID]Contract
	tracer    trace.Tracer
	hook      LifecycleHook
}

type Option func(*Host)

func WithContract(id storage.ContractID, c Contract) Option {
	return func(h *Host) { h.contracts[id] = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(h *Host) { h.tracer = t }
}

func WithLifecycleHook(hook LifecycleHook) Option {
	return func(h *Host) { h.hook = hook }
}

func New(cfg Config, opts ...Option) (*Host, error) {
	table, err := DefaultTable()
	if err != nil {
		return nil, err
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	h := &Host{
		cfg:       cfg,
		table:     table,
		contracts: make(map[storage.ContractID]Contract),
		tracer:    noop.NewTracerProvider().Tracer("contracthost"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Host) Config() Config                          { return h.cfg }
func (h *Host) Table() *dispatch.Table[*Frame]          { return h.table }
func (h *Host) Contract(id storage.ContractID) Contract { return h.contracts[id] }

// Contracts lists registered contract ids in byte order.
func (h *Host) Contracts() []storage.ContractID {
	ids := make([]storage.ContractID, 0, len(h.contracts))
	for id := range h.contracts {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b storage.ContractID) int {
		return slices.Compare(a[:], b[:])
	})
	return ids
}

type Invocation struct {
	Contract storage.ContractID
	Function string
	Args     []codec.Value
	// Snapshot is read-only ledger state. nil means empty.
	Snapshot storage.SnapshotSource
	// Footprint declares the keys the invocation may touch when the host
	// runs in enforcing mode. In recording mode it is filled in.
	Footprint *storage.Footprint
}

type Result struct {
	ID          uuid.UUID
	Value       codec.Value
	Writes      storage.WriteSet
	Events      []Event
	Diagnostics []Event
	Budget      budget.Report
	Footprint   []storage.FootprintEntry
	Trace       *FrameTrace
	Elapsed     time.Duration
}

// Invoke runs one top-level call. On failure the error is returned along
// with a Result carrying only the budget report, diagnostics and trace;
// no writes or contract events escape a failed invocation.
func (h *Host) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	start := time.Now()
	env := h.newEnv(inv)
	ctx, span := h.tracer.Start(ctx, "invoke "+inv.Function, trace.WithAttributes(
		attribute.String("invocation", env.id.String()),
		attribute.String("contract", inv.Contract.String()),
	))
	defer span.End()

	value, err := env.invoke(ctx, inv)
	res := &Result{
		ID:          env.id,
		Diagnostics: env.diagnostics,
		Budget:      env.budget.Report(),
		Trace:       env.root,
		Elapsed:     time.Since(start),
	}
	span.SetAttributes(
		attribute.Int64("cpu", int64(res.Budget.CPUConsumed)),
		attribute.Int64("mem", int64(res.Budget.MemConsumed)),
	)
	spanStatus(span, err)
	if err != nil {
		env.log.Info(log.HostMonitoring, "invocation failed", "fn", inv.Function,
			"kind", hosterrors.GetErrorName(err), "code", hosterrors.GetErrorCode(err), "cpu", res.Budget.CPUConsumed)
		return res, err
	}
	res.Value = value
	res.Writes = env.storage.WriteSet()
	res.Events = env.events
	res.Footprint = env.storage.Footprint().Entries()
	env.log.Debug(log.HostMonitoring, "invocation done", "fn", inv.Function,
		"writes", len(res.Writes), "events", len(res.Events), "cpu", res.Budget.CPUConsumed, "elapsed", res.Elapsed)
	return res, nil
}
