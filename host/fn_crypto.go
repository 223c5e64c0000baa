package host

import (
	"crypto/ed25519"
	"crypto/sha256"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/val"
)

const (
	g1Size = 96
	g2Size = 192
)

func sizedBytes(f *Frame, v val.Val, size int, what string) ([]byte, error) {
	b, err := f.Store().Bytes(v)
	if err != nil {
		return nil, err
	}
	if size >= 0 && len(b) != size {
		return nil, hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "%s: want %d bytes, got %d", what, size, len(b))
	}
	return b, nil
}

func hashFn(ty budget.CostType, sum func([]byte) []byte) dispatch.Handler[*Frame] {
	return func(f *Frame, a []val.Val) (val.Val, error) {
		b, err := f.Store().Bytes(a[0])
		if err != nil {
			return 0, err
		}
		if err := f.Charge(ty, uint64(len(b))); err != nil {
			return 0, err
		}
		return f.Store().Add(object.Bytes(sum(b)))
	}
}

func keccak256(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return h.Sum(nil)
}

func g1Point(f *Frame, v val.Val) (*bls12381.G1Affine, error) {
	b, err := sizedBytes(f, v, g1Size, "g1 point")
	if err != nil {
		return nil, err
	}
	var p bls12381.G1Affine
	if _, err := p.SetBytes(b); err != nil {
		return nil, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "g1 point: %v", err)
	}
	return &p, nil
}

func g1Val(f *Frame, p *bls12381.G1Affine) (val.Val, error) {
	raw := p.RawBytes()
	return f.Store().Add(object.Bytes(raw[:]))
}

func cryptoEntries() []entry {
	const m = "crypto"
	return []entry{
		hostfn(m, "compute_hash_sha256", hashFn(budget.ComputeSha256Hash, func(b []byte) []byte {
			h := sha256.Sum256(b)
			return h[:]
		}), dispatch.Bytes, dispatch.Bytes),
		hostfn(m, "compute_hash_keccak256", hashFn(budget.ComputeKeccak256Hash, keccak256),
			dispatch.Bytes, dispatch.Bytes),
		hostfn(m, "compute_hash_blake2b", hashFn(budget.ComputeBlake2bHash, func(b []byte) []byte {
			h := blake2b.Sum256(b)
			return h[:]
		}), dispatch.Bytes, dispatch.Bytes),
		hostfn(m, "verify_sig_ed25519", func(f *Frame, a []val.Val) (val.Val, error) {
			pk, err := sizedBytes(f, a[0], ed25519.PublicKeySize, "ed25519 public key")
			if err != nil {
				return 0, err
			}
			msg, err := sizedBytes(f, a[1], -1, "message")
			if err != nil {
				return 0, err
			}
			sig, err := sizedBytes(f, a[2], ed25519.SignatureSize, "ed25519 signature")
			if err != nil {
				return 0, err
			}
			if err := f.Charge(budget.VerifyEd25519Sig, uint64(len(msg))); err != nil {
				return 0, err
			}
			return val.FromBool(ed25519.Verify(ed25519.PublicKey(pk), msg, sig)), nil
		}, dispatch.Bool, dispatch.Bytes, dispatch.Bytes, dispatch.Bytes),
		// recover_key_ecdsa_secp256k1 returns the 65-byte uncompressed key
		// that produced sig over a 32-byte digest.
		hostfn(m, "recover_key_ecdsa_secp256k1", func(f *Frame, a []val.Val) (val.Val, error) {
			digest, err := sizedBytes(f, a[0], 32, "digest")
			if err != nil {
				return 0, err
			}
			sig, err := sizedBytes(f, a[1], 64, "secp256k1 signature")
			if err != nil {
				return 0, err
			}
			rid := u32Arg(a[2])
			if rid > 1 {
				return 0, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "recovery id %d", rid)
			}
			if err := f.Charge(budget.RecoverEcdsaSecp256k1Key, 0); err != nil {
				return 0, err
			}
			full := append(append(make([]byte, 0, 65), sig...), byte(rid))
			pub, err := crypto.Ecrecover(digest, full)
			if err != nil {
				return 0, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "ecrecover: %v", err)
			}
			return f.Store().Add(object.Bytes(pub))
		}, dispatch.Bytes, dispatch.Bytes, dispatch.Bytes, dispatch.U32),
		hostfn(m, "bls12_381_g1_add", func(f *Frame, a []val.Val) (val.Val, error) {
			if err := f.Charge(budget.Bls12381G1Add, 0); err != nil {
				return 0, err
			}
			p, err := g1Point(f, a[0])
			if err != nil {
				return 0, err
			}
			q, err := g1Point(f, a[1])
			if err != nil {
				return 0, err
			}
			var r bls12381.G1Affine
			r.Add(p, q)
			return g1Val(f, &r)
		}, dispatch.Bytes, dispatch.Bytes, dispatch.Bytes),
		hostfn(m, "bls12_381_g1_mul", func(f *Frame, a []val.Val) (val.Val, error) {
			if err := f.Charge(budget.Bls12381G1Mul, 0); err != nil {
				return 0, err
			}
			p, err := g1Point(f, a[0])
			if err != nil {
				return 0, err
			}
			k, err := f.Store().ToU256(a[1])
			if err != nil {
				return 0, err
			}
			var r bls12381.G1Affine
			r.ScalarMultiplication(p, k.ToBig())
			return g1Val(f, &r)
		}, dispatch.Bytes, dispatch.Bytes, dispatch.U256),
		hostfn(m, "bls12_381_pairing_check", func(f *Frame, a []val.Val) (val.Val, error) {
			s := f.Store()
			g1s, err := s.Vec(a[0])
			if err != nil {
				return 0, err
			}
			g2s, err := s.Vec(a[1])
			if err != nil {
				return 0, err
			}
			if len(g1s) != len(g2s) || len(g1s) == 0 {
				return 0, hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "pairing over %d g1 and %d g2 points", len(g1s), len(g2s))
			}
			if err := f.Charge(budget.Bls12381Pairing, uint64(len(g1s))); err != nil {
				return 0, err
			}
			P := make([]bls12381.G1Affine, len(g1s))
			Q := make([]bls12381.G2Affine, len(g2s))
			for i := range g1s {
				p, err := g1Point(f, g1s[i])
				if err != nil {
					return 0, err
				}
				P[i] = *p
				b, err := sizedBytes(f, g2s[i], g2Size, "g2 point")
				if err != nil {
					return 0, err
				}
				if _, err := Q[i].SetBytes(b); err != nil {
					return 0, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "g2 point: %v", err)
				}
			}
			ok, err := bls12381.PairingCheck(P, Q)
			if err != nil {
				return 0, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "pairing: %v", err)
			}
			return val.FromBool(ok), nil
		}, dispatch.Bool, dispatch.Vec, dispatch.Vec),
	}
}
