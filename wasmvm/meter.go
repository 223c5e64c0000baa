package wasmvm

import (
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
)

// fuelExport names the i64 global injected into every contract. It holds
// the InsnExec units the guest may still spend; the injected code traps
// with unreachable once it goes negative.
const fuelExport = "__contracthost_fuel"

// Section ids, and their position in the mandated section order.
const (
	secCustom = 0
	secImport = 2
	secGlobal = 6
	secExport = 7
	secCode   = 10
)

var sectionRank = map[byte]int{1: 1, 2: 2, 3: 3, 4: 4, 5: 5, 13: 6, 6: 7, 7: 8, 8: 9, 9: 10, 12: 11, 10: 12, 11: 13}

type wasmSection struct {
	id   byte
	body []byte
}

func malformed(format string, args ...any) error {
	return hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "wasm: "+format, args...)
}

// reader walks a byte slice; the first overrun sticks in err.
type reader struct {
	b   []byte
	pos int
	err error
}

func (r *reader) done() bool { return r.err != nil || r.pos >= len(r.b) }

func (r *reader) next() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.b) {
		r.err = malformed("unexpected end at %d", r.pos)
		return 0
	}
	c := r.b[r.pos]
	r.pos++
	return c
}

func (r *reader) take(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.b)-r.pos) {
		r.err = malformed("%d bytes past end at %d", n, r.pos)
		return nil
	}
	out := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out
}

func (r *reader) uleb() uint64 {
	var x uint64
	for shift := uint(0); ; shift += 7 {
		c := r.next()
		if r.err != nil {
			return 0
		}
		if shift >= 64 {
			r.err = malformed("leb128 too long at %d", r.pos)
			return 0
		}
		x |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return x
		}
	}
}

// skipLeb steps over a signed or unsigned leb128 without decoding it.
func (r *reader) skipLeb() {
	for i := 0; i < 10; i++ {
		if r.next()&0x80 == 0 {
			return
		}
	}
	if r.err == nil {
		r.err = malformed("leb128 too long at %d", r.pos)
	}
}

func appendUleb(b []byte, x uint64) []byte {
	for {
		c := byte(x & 0x7f)
		x >>= 7
		if x == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func appendSleb(b []byte, x int64) []byte {
	for {
		c := byte(x & 0x7f)
		x >>= 7
		if (x == 0 && c&0x40 == 0) || (x == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func splitSections(code []byte) ([]wasmSection, error) {
	if len(code) < 8 || string(code[:4]) != "\x00asm" {
		return nil, malformed("bad magic")
	}
	r := &reader{b: code, pos: 8}
	var out []wasmSection
	for !r.done() {
		id := r.next()
		body := r.take(r.uleb())
		out = append(out, wasmSection{id: id, body: body})
	}
	return out, r.err
}

// instrument rewrites code so every function entry and loop header
// subtracts the instruction count of the straight-line region it opens
// from the fuel global. Instructions inside blocks and ifs are counted
// with their enclosing region, so a region's charge bounds what one
// pass through it can execute. The global starts at fuel.
func instrument(code []byte, fuel int64) ([]byte, error) {
	sections, err := splitSections(code)
	if err != nil {
		return nil, err
	}
	var globalIdx uint64
	for _, s := range sections {
		switch s.id {
		case secImport:
			n, err := countImportedGlobals(s.body)
			if err != nil {
				return nil, err
			}
			globalIdx += n
		case secGlobal:
			r := &reader{b: s.body}
			globalIdx += r.uleb()
			if r.err != nil {
				return nil, r.err
			}
		}
	}

	global := appendSleb([]byte{byte(api.ValueTypeI64), 0x01, 0x42}, fuel)
	global = append(global, 0x0b)
	export := appendUleb(nil, uint64(len(fuelExport)))
	export = append(export, fuelExport...)
	export = appendUleb(append(export, 0x03), globalIdx)

	out := append([]byte(nil), code[:8]...)
	emit := func(id byte, body []byte) {
		out = append(out, id)
		out = appendUleb(out, uint64(len(body)))
		out = append(out, body...)
	}
	var haveGlobal, haveExport bool
	for _, s := range sections {
		rank := sectionRank[s.id]
		if s.id != secCustom {
			if !haveGlobal && rank > sectionRank[secGlobal] {
				emit(secGlobal, vecWith(0, nil, global))
				haveGlobal = true
			}
			if !haveExport && rank > sectionRank[secExport] {
				emit(secExport, vecWith(0, nil, export))
				haveExport = true
			}
		}
		switch s.id {
		case secGlobal:
			body, err := extendVec(s.body, global)
			if err != nil {
				return nil, err
			}
			emit(s.id, body)
			haveGlobal = true
		case secExport:
			if err := checkExportNames(s.body); err != nil {
				return nil, err
			}
			body, err := extendVec(s.body, export)
			if err != nil {
				return nil, err
			}
			emit(s.id, body)
			haveExport = true
		case secCode:
			body, err := instrumentCode(s.body, uint32(globalIdx))
			if err != nil {
				return nil, err
			}
			emit(s.id, body)
		default:
			emit(s.id, s.body)
		}
	}
	if !haveGlobal {
		emit(secGlobal, vecWith(0, nil, global))
	}
	if !haveExport {
		emit(secExport, vecWith(0, nil, export))
	}
	return out, nil
}

// vecWith encodes a vector of n existing raw items followed by item.
func vecWith(n uint64, existing, item []byte) []byte {
	b := appendUleb(nil, n+1)
	b = append(b, existing...)
	return append(b, item...)
}

// extendVec appends one raw item to an encoded vector.
func extendVec(body, item []byte) ([]byte, error) {
	r := &reader{b: body}
	n := r.uleb()
	if r.err != nil {
		return nil, r.err
	}
	return vecWith(n, body[r.pos:], item), nil
}

func countImportedGlobals(body []byte) (uint64, error) {
	r := &reader{b: body}
	var globals uint64
	for n := r.uleb(); n > 0 && r.err == nil; n-- {
		r.take(r.uleb()) // module
		r.take(r.uleb()) // field
		switch kind := r.next(); kind {
		case 0x00: // func
			r.uleb()
		case 0x01: // table
			r.next()
			skipLimits(r)
		case 0x02: // memory
			skipLimits(r)
		case 0x03: // global
			r.next()
			r.next()
			globals++
		case 0x04: // tag
			r.next()
			r.uleb()
		default:
			if r.err == nil {
				r.err = malformed("import kind 0x%x", kind)
			}
		}
	}
	return globals, r.err
}

func skipLimits(r *reader) {
	flags := r.next()
	r.uleb()
	if flags&0x01 != 0 {
		r.uleb()
	}
}

func checkExportNames(body []byte) error {
	r := &reader{b: body}
	for n := r.uleb(); n > 0 && r.err == nil; n-- {
		if string(r.take(r.uleb())) == fuelExport {
			return malformed("export %q is reserved", fuelExport)
		}
		r.next()
		r.uleb()
	}
	return r.err
}

func instrumentCode(body []byte, fuelGlobal uint32) ([]byte, error) {
	r := &reader{b: body}
	n := r.uleb()
	out := appendUleb(nil, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		fn := r.take(r.uleb())
		if r.err != nil {
			break
		}
		rewritten, err := instrumentFunc(fn, fuelGlobal)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		out = appendUleb(out, uint64(len(rewritten)))
		out = append(out, rewritten...)
	}
	return out, r.err
}

// chargeSeq is global.get; i64.const cost; i64.sub; global.set; and a
// trap once the global is negative.
func chargeSeq(b []byte, g uint32, cost uint64) []byte {
	b = appendUleb(append(b, 0x23), uint64(g))
	b = appendSleb(append(b, 0x42), int64(cost))
	b = append(b, 0x7d)
	b = appendUleb(append(b, 0x24), uint64(g))
	b = appendUleb(append(b, 0x23), uint64(g))
	return append(b, 0x42, 0x00, 0x53, 0x04, 0x40, 0x00, 0x0b)
}

func instrumentFunc(fn []byte, g uint32) ([]byte, error) {
	r := &reader{b: fn}
	for groups := r.uleb(); groups > 0 && r.err == nil; groups-- {
		r.uleb()
		r.next()
	}
	if r.err != nil {
		return nil, r.err
	}
	start := r.pos

	// costs[0] is the function body; loops get the following slots.
	costs := []uint64{0}
	var loopAt []int // offset just past each loop's block type
	regions := []int{0}
	var blocks []bool // true for loop
	var ended bool
	for !r.done() {
		op := r.next()
		costs[regions[len(regions)-1]]++
		switch op {
		case 0x02, 0x04: // block, if
			skipBlockType(r)
			blocks = append(blocks, false)
		case 0x03: // loop
			skipBlockType(r)
			blocks = append(blocks, true)
			loopAt = append(loopAt, r.pos)
			regions = append(regions, len(costs))
			costs = append(costs, 0)
		case 0x0b: // end
			if len(blocks) == 0 {
				if r.pos != len(fn) {
					return nil, malformed("code after function end")
				}
				ended = true
				continue
			}
			if blocks[len(blocks)-1] {
				regions = regions[:len(regions)-1]
			}
			blocks = blocks[:len(blocks)-1]
		case 0x23, 0x24: // global.get, global.set
			// the fuel global does not exist in the original module
			if idx := r.uleb(); idx == uint64(g) {
				return nil, malformed("global %d out of range", idx)
			}
		default:
			if err := skipImmediates(r, op); err != nil {
				return nil, err
			}
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if !ended {
		return nil, malformed("function body without end")
	}

	out := append([]byte(nil), fn[:start]...)
	out = chargeSeq(out, g, costs[0])
	prev := start
	for i, at := range loopAt {
		out = append(out, fn[prev:at]...)
		out = chargeSeq(out, g, costs[i+1])
		prev = at
	}
	return append(out, fn[prev:]...), nil
}

func skipBlockType(r *reader) {
	if r.pos < len(r.b) {
		if c := r.b[r.pos]; c == 0x40 || (c >= 0x6f && c <= 0x7f) {
			r.pos++
			return
		}
	}
	r.skipLeb()
}

func skipMemarg(r *reader) {
	if align := r.uleb(); align&0x40 != 0 {
		r.uleb()
	}
	r.uleb()
}

func skipImmediates(r *reader, op byte) error {
	switch {
	case op == 0x00, op == 0x01, op == 0x05, op == 0x0f, op == 0x1a, op == 0x1b,
		op >= 0x45 && op <= 0xc4, op == 0xd1:
	case op == 0x0c, op == 0x0d, op == 0x10, op == 0x12, op == 0xd2,
		op >= 0x20 && op <= 0x26, op == 0x3f, op == 0x40:
		r.uleb()
	case op == 0x0e: // br_table
		for n := r.uleb(); n > 0 && r.err == nil; n-- {
			r.uleb()
		}
		r.uleb()
	case op == 0x11, op == 0x13:
		r.uleb()
		r.uleb()
	case op == 0x1c: // select t*
		r.take(r.uleb())
	case op >= 0x28 && op <= 0x3e:
		skipMemarg(r)
	case op == 0x41, op == 0x42:
		r.skipLeb()
	case op == 0x43:
		r.take(4)
	case op == 0x44:
		r.take(8)
	case op == 0xd0:
		r.next()
	case op == 0xfc:
		switch sub := r.uleb(); {
		case sub <= 7:
		case sub == 8, sub == 10, sub == 12, sub == 14:
			r.uleb()
			r.uleb()
		case sub <= 17:
			r.uleb()
		default:
			return malformed("unsupported instruction 0xfc %d", sub)
		}
	default:
		return malformed("unsupported instruction 0x%02x", op)
	}
	return nil
}

// fuelMeter settles guest fuel and memory growth against the invocation
// budget at every host call and at the end of every export call.
type fuelMeter struct {
	linker bridge.Linker
	fuel   api.MutableGlobal
	memory api.Memory

	issued     int64
	memCharged uint64
}

// bind picks up the fuel global and memory once the module exists. Host
// calls made by a start function arrive before InstantiateModule returns.
func (m *fuelMeter) bind(mod api.Module) error {
	if m.fuel != nil {
		return nil
	}
	g, ok := mod.ExportedGlobal(fuelExport).(api.MutableGlobal)
	if !ok {
		return hosterrors.Invariant("fuel global missing")
	}
	m.fuel = g
	m.memory = mod.Memory()
	return nil
}

func (m *fuelMeter) refill() {
	n := m.linker.Headroom(budget.InsnExec)
	if n > math.MaxInt64 {
		n = math.MaxInt64
	}
	m.issued = int64(n)
	m.fuel.Set(api.EncodeI64(m.issued))
}

// settle charges the fuel burnt and the memory grown since the last
// refill. A negative fuel global always breaches: the guest spent more
// than Headroom allowed.
func (m *fuelMeter) settle() error {
	left := int64(m.fuel.Get())
	used := uint64(m.issued) - uint64(left)
	m.issued = left
	if used > 0 {
		if err := m.linker.Charge(budget.InsnExec, used); err != nil {
			return err
		}
	}
	if m.memory == nil {
		return nil
	}
	if size := uint64(m.memory.Size()); size > m.memCharged {
		grown := size - m.memCharged
		m.memCharged = size
		return m.linker.Charge(budget.MemAlloc, grown)
	}
	return nil
}
