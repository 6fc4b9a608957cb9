package enclave

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/veilmarket/internal/fhe"
	bolt "go.etcd.io/bbolt"
)

// Add returns a handle to the wrapping 32-bit sum of a and b.
func (e *Enclave) Add(ctx context.Context, a, b fhe.Handle) (fhe.Handle, error) {
	var out fhe.Handle
	err := e.db.Update(func(tx *bolt.Tx) error {
		ra, err := e.getRecord(tx, a)
		if err != nil {
			return err
		}
		rb, err := e.getRecord(tx, b)
		if err != nil {
			return err
		}
		if ra.kind != fhe.KindUint32 || rb.kind != fhe.KindUint32 {
			return fmt.Errorf("%w: add wants euint32 operands", fhe.ErrKindMismatch)
		}

		sum := uint64(uint32(ra.value) + uint32(rb.value)) // wraps at 32 bits

		out, err = nextHandle(tx, tagAdd, fhe.KindUint32)
		if err != nil {
			return err
		}
		return e.putRecord(tx, out, record{kind: fhe.KindUint32, value: sum})
	})
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("enclave: add: %w", err)
	}
	return out, nil
}

// Eq returns an encrypted boolean holding true when a and b agree.
func (e *Enclave) Eq(ctx context.Context, a, b fhe.Handle) (fhe.Handle, error) {
	out, err := e.compare(tagEq, a, b, func(x, y uint64) bool { return x == y })
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("enclave: eq: %w", err)
	}
	return out, nil
}

// Ne returns an encrypted boolean holding true when a and b differ.
func (e *Enclave) Ne(ctx context.Context, a, b fhe.Handle) (fhe.Handle, error) {
	out, err := e.compare(tagNe, a, b, func(x, y uint64) bool { return x != y })
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("enclave: ne: %w", err)
	}
	return out, nil
}

func (e *Enclave) compare(op byte, a, b fhe.Handle, cmp func(x, y uint64) bool) (fhe.Handle, error) {
	var out fhe.Handle
	err := e.db.Update(func(tx *bolt.Tx) error {
		ra, err := e.getRecord(tx, a)
		if err != nil {
			return err
		}
		rb, err := e.getRecord(tx, b)
		if err != nil {
			return err
		}
		if ra.kind != rb.kind {
			return fmt.Errorf("%w: comparing %s with %s", fhe.ErrKindMismatch, ra.kind, rb.kind)
		}

		v := uint64(0)
		if cmp(ra.value, rb.value) {
			v = 1
		}

		out, err = nextHandle(tx, op, fhe.KindBool)
		if err != nil {
			return err
		}
		return e.putRecord(tx, out, record{kind: fhe.KindBool, value: v})
	})
	return out, err
}

// Select returns ifTrue where cond holds true and ifFalse elsewhere.
func (e *Enclave) Select(ctx context.Context, cond, ifTrue, ifFalse fhe.Handle) (fhe.Handle, error) {
	var out fhe.Handle
	err := e.db.Update(func(tx *bolt.Tx) error {
		rc, err := e.getRecord(tx, cond)
		if err != nil {
			return err
		}
		if rc.kind != fhe.KindBool {
			return fmt.Errorf("%w: select condition must be ebool", fhe.ErrKindMismatch)
		}
		rt, err := e.getRecord(tx, ifTrue)
		if err != nil {
			return err
		}
		rf, err := e.getRecord(tx, ifFalse)
		if err != nil {
			return err
		}
		if rt.kind != rf.kind {
			return fmt.Errorf("%w: select branches %s and %s", fhe.ErrKindMismatch, rt.kind, rf.kind)
		}

		picked := rf
		if rc.value == 1 {
			picked = rt
		}

		out, err = nextHandle(tx, tagSelect, picked.kind)
		if err != nil {
			return err
		}
		return e.putRecord(tx, out, picked)
	})
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("enclave: select: %w", err)
	}
	return out, nil
}

// Zero returns a handle to a freshly encrypted 32-bit zero.
func (e *Enclave) Zero(ctx context.Context) (fhe.Handle, error) {
	h, err := e.alloc(tagZero, record{kind: fhe.KindUint32, value: 0})
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("enclave: zero: %w", err)
	}
	return h, nil
}

// ConstBool returns a handle to a freshly encrypted boolean constant.
func (e *Enclave) ConstBool(ctx context.Context, v bool) (fhe.Handle, error) {
	val := uint64(0)
	if v {
		val = 1
	}
	h, err := e.alloc(tagConstBool, record{kind: fhe.KindBool, value: val})
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("enclave: const bool: %w", err)
	}
	return h, nil
}
