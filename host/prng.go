package host

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
)

// PRNG is a ChaCha20 keystream. It is only as unpredictable as its seed,
// which the embedder chooses; contracts must not use it for secrets.
type PRNG struct {
	c     *chacha20.Cipher
	meter bridge.Meter
}

var zeroNonce [chacha20.NonceSize]byte

func NewPRNG(seed [32]byte, meter bridge.Meter) *PRNG {
	c, err := chacha20.NewUnauthenticatedCipher(seed[:], zeroNonce[:])
	if err != nil {
		// key and nonce sizes are fixed above
		panic(err)
	}
	return &PRNG{c: c, meter: meter}
}

// Fill overwrites b with keystream bytes.
func (p *PRNG) Fill(b []byte) error {
	if err := p.meter.Charge(budget.ChaCha20DrawBytes, uint64(len(b))); err != nil {
		return err
	}
	clear(b)
	p.c.XORKeyStream(b, b)
	return nil
}

func (p *PRNG) Uint64() (uint64, error) {
	var b [8]byte
	if err := p.Fill(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Uint64InRange draws uniformly from [lo, hi] by rejection sampling.
func (p *PRNG) Uint64InRange(lo, hi uint64) (uint64, error) {
	if lo > hi {
		return 0, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "empty range [%d, %d]", lo, hi)
	}
	span := hi - lo + 1
	if span == 0 {
		return p.Uint64()
	}
	limit := ^uint64(0) - (^uint64(0)%span+1)%span
	for {
		x, err := p.Uint64()
		if err != nil {
			return 0, err
		}
		if x <= limit {
			return lo + x%span, nil
		}
	}
}

// SubSeed draws a seed for a child generator.
func (p *PRNG) SubSeed() ([32]byte, error) {
	var seed [32]byte
	err := p.Fill(seed[:])
	return seed, err
}
