package host

import (
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/storage"
	"github.com/colorfulnotion/contracthost/val"
)

// LedgerKey is the storage key for a contract data entry: the durability
// byte followed by the canonical encoding of the key value.
func LedgerKey(d storage.Durability, key codec.Value) ([]byte, error) {
	enc, err := codec.Marshal(key)
	if err != nil {
		return nil, hosterrors.Conversion(hosterrors.CodeInvalidValue, "%v", err)
	}
	return append([]byte{byte(d)}, enc...), nil
}

func (f *Frame) ledgerKey(key, durability val.Val) ([]byte, error) {
	d := storage.Durability(u32Arg(durability))
	if u32Arg(durability) > 0xff || !d.Valid() {
		return nil, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "storage type %d", u32Arg(durability))
	}
	k, err := f.env.FromVal(key)
	if err != nil {
		return nil, err
	}
	return LedgerKey(d, k)
}

func ledgerEntries() []entry {
	const m = "ledger"
	return []entry{
		hostfn(m, "put_contract_data", func(f *Frame, a []val.Val) (val.Val, error) {
			k, err := f.ledgerKey(a[0], a[2])
			if err != nil {
				return 0, err
			}
			v, err := f.env.FromVal(a[1])
			if err != nil {
				return 0, err
			}
			enc, err := codec.Marshal(v)
			if err != nil {
				return 0, hosterrors.Conversion(hosterrors.CodeInvalidValue, "%v", err)
			}
			if err := f.Charge(budget.StorageWrite, uint64(len(k)+len(enc))); err != nil {
				return 0, err
			}
			return val.Void, f.env.storage.Put(f.contract, k, enc)
		}, dispatch.Void, dispatch.Any, dispatch.Any, dispatch.U32),
		hostfn(m, "has_contract_data", func(f *Frame, a []val.Val) (val.Val, error) {
			k, err := f.ledgerKey(a[0], a[1])
			if err != nil {
				return 0, err
			}
			if err := f.Charge(budget.StorageRead, uint64(len(k))); err != nil {
				return 0, err
			}
			ok, err := f.env.storage.Has(f.contract, k)
			return val.FromBool(ok), err
		}, dispatch.Bool, dispatch.Any, dispatch.U32),
		hostfn(m, "get_contract_data", func(f *Frame, a []val.Val) (val.Val, error) {
			k, err := f.ledgerKey(a[0], a[1])
			if err != nil {
				return 0, err
			}
			if err := f.Charge(budget.StorageRead, uint64(len(k))); err != nil {
				return 0, err
			}
			enc, ok, err := f.env.storage.Get(f.contract, k)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, hosterrors.Storage(hosterrors.CodeMissingValue, "no contract data for %s", f.env.describe(a[0]))
			}
			if err := f.Charge(budget.StorageRead, uint64(len(enc))); err != nil {
				return 0, err
			}
			v, err := codec.Unmarshal(enc)
			if err != nil {
				return 0, hosterrors.Storage(hosterrors.CodeInvalidValue, "stored value: %v", err)
			}
			return f.env.ToVal(v)
		}, dispatch.Any, dispatch.Any, dispatch.U32),
		hostfn(m, "del_contract_data", func(f *Frame, a []val.Val) (val.Val, error) {
			k, err := f.ledgerKey(a[0], a[1])
			if err != nil {
				return 0, err
			}
			if err := f.Charge(budget.StorageWrite, uint64(len(k))); err != nil {
				return 0, err
			}
			ok, err := f.env.storage.Has(f.contract, k)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, hosterrors.Storage(hosterrors.CodeMissingValue, "no contract data for %s", f.env.describe(a[0]))
			}
			return val.Void, f.env.storage.Delete(f.contract, k)
		}, dispatch.Void, dispatch.Any, dispatch.U32),
	}
}
