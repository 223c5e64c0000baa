package budget

import (
	"fmt"
	"math"
	"strings"

	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/log"
)

// Limits are fixed for the lifetime of a Budget.
type Limits struct {
	CPU uint64 `toml:"cpu_insns" yaml:"cpu_insns"`
	Mem uint64 `toml:"mem_bytes" yaml:"mem_bytes"`
}

// DefaultLimits mirror a typical single-transaction allowance.
func DefaultLimits() Limits {
	return Limits{CPU: 100_000_000, Mem: 40 << 20}
}

// Tally is the per-cost-type breakdown kept for reporting.
type Tally struct {
	Count uint64
	Input uint64
	CPU   uint64
	Mem   uint64
}

// Budget meters one invocation. Charge is its only mutator; consumed
// counters only grow and a breach latches the budget for good.
type Budget struct {
	limits   Limits
	params   CostParams
	cpu      uint64
	mem      uint64
	tallies  [NumCostTypes]Tally
	exceeded *hosterrors.Abort
}

func New(limits Limits, params CostParams) *Budget {
	return &Budget{limits: limits, params: params}
}

// Unlimited is for tooling that only wants the tallies.
func Unlimited() *Budget {
	return New(Limits{CPU: math.MaxUint64, Mem: math.MaxUint64}, DefaultCostParams())
}

// Charge applies the cost of one operation with the given input size. On
// breach nothing is applied and the same Abort is returned from then on.
func (b *Budget) Charge(ty CostType, size uint64) error {
	if b.exceeded != nil {
		return b.exceeded
	}
	if ty < 0 || ty >= NumCostTypes {
		b.exceeded = hosterrors.Invariant("unknown cost type %d", int(ty))
		return b.exceeded
	}
	cpuCost := b.params.CPU[ty].Evaluate(size)
	memCost := b.params.Mem[ty].Evaluate(size)

	if cpuCost > b.limits.CPU-b.cpu {
		b.exceeded = hosterrors.NewAbort(hosterrors.KindBudgetExceeded, hosterrors.CodeExceededLimit,
			"cpu limit %d exceeded by %s(%d)", b.limits.CPU, ty, size)
		log.Debug(log.BudgetMonitoring, "cpu limit exceeded", "cost_type", ty, "size", size, "consumed", b.cpu, "limit", b.limits.CPU)
		return b.exceeded
	}
	if memCost > b.limits.Mem-b.mem {
		b.exceeded = hosterrors.NewAbort(hosterrors.KindBudgetExceeded, hosterrors.CodeExceededLimit,
			"mem limit %d exceeded by %s(%d)", b.limits.Mem, ty, size)
		log.Debug(log.BudgetMonitoring, "mem limit exceeded", "cost_type", ty, "size", size, "consumed", b.mem, "limit", b.limits.Mem)
		return b.exceeded
	}
	b.cpu += cpuCost
	b.mem += memCost
	t := &b.tallies[ty]
	t.Count++
	t.Input = satAdd(t.Input, size)
	t.CPU += cpuCost
	t.Mem += memCost
	return nil
}

func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func (b *Budget) CPUConsumed() uint64 { return b.cpu }
func (b *Budget) MemConsumed() uint64 { return b.mem }
func (b *Budget) CPULimit() uint64    { return b.limits.CPU }
func (b *Budget) MemLimit() uint64    { return b.limits.Mem }
func (b *Budget) Limits() Limits      { return b.limits }

func (b *Budget) CPURemaining() uint64 { return b.limits.CPU - b.cpu }
func (b *Budget) MemRemaining() uint64 { return b.limits.Mem - b.mem }

// Headroom is the largest input size a charge of ty can take without
// breaching either limit.
func (b *Budget) Headroom(ty CostType) uint64 {
	if b.exceeded != nil || ty < 0 || ty >= NumCostTypes {
		return 0
	}
	return min(b.params.CPU[ty].maxInput(b.limits.CPU-b.cpu), b.params.Mem[ty].maxInput(b.limits.Mem-b.mem))
}

// Exceeded returns the latched breach, if any.
func (b *Budget) Exceeded() *hosterrors.Abort { return b.exceeded }

func (b *Budget) Tally(ty CostType) Tally {
	if ty < 0 || ty >= NumCostTypes {
		return Tally{}
	}
	return b.tallies[ty]
}

// Report is a read-only snapshot of the budget.
type Report struct {
	CPUConsumed uint64
	MemConsumed uint64
	CPULimit    uint64
	MemLimit    uint64
	Tallies     map[CostType]Tally
}

func (b *Budget) Report() Report {
	r := Report{
		CPUConsumed: b.cpu,
		MemConsumed: b.mem,
		CPULimit:    b.limits.CPU,
		MemLimit:    b.limits.Mem,
		Tallies:     make(map[CostType]Tally),
	}
	for i, t := range b.tallies {
		if t.Count > 0 {
			r.Tallies[CostType(i)] = t
		}
	}
	return r
}

func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cpu %d/%d mem %d/%d\n", r.CPUConsumed, r.CPULimit, r.MemConsumed, r.MemLimit)
	for ty := CostType(0); ty < NumCostTypes; ty++ {
		t, ok := r.Tallies[ty]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "  %-26s n=%-6d in=%-8d cpu=%-10d mem=%d\n", ty, t.Count, t.Input, t.CPU, t.Mem)
	}
	return sb.String()
}
