// Package u128 implements checked unsigned 128-bit arithmetic.
//
// Values are held in a 256-bit word so intermediate results never wrap; every
// operation that would leave the 128-bit range reports an error instead.
package u128

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrUnderflow      = errors.New("arithmetic underflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// Int is an unsigned integer in [0, 2^128).
type Int struct {
	v uint256.Int
}

// Max is 2^128 - 1.
var Max = func() Int {
	var z Int
	z.v.Lsh(uint256.NewInt(1), 128)
	z.v.SubUint64(&z.v, 1)
	return z
}()

// From64 widens a uint64.
func From64(x uint64) Int {
	var z Int
	z.v.SetUint64(x)
	return z
}

// FromBig converts a non-negative big.Int that fits in 128 bits.
func FromBig(b *big.Int) (Int, error) {
	if b == nil || b.Sign() < 0 {
		return Int{}, ErrUnderflow
	}
	if b.BitLen() > 128 {
		return Int{}, ErrOverflow
	}
	v, _ := uint256.FromBig(b)
	return Int{v: *v}, nil
}

func (x Int) IsZero() bool { return x.v.IsZero() }

// Cmp returns -1, 0 or +1.
func (x Int) Cmp(y Int) int { return x.v.Cmp(&y.v) }

func (x Int) Lt(y Int) bool { return x.v.Lt(&y.v) }

// Add returns x+y or ErrOverflow.
func (x Int) Add(y Int) (Int, error) {
	var z Int
	z.v.Add(&x.v, &y.v)
	if z.v.BitLen() > 128 {
		return Int{}, ErrOverflow
	}
	return z, nil
}

// Sub returns x-y or ErrUnderflow.
func (x Int) Sub(y Int) (Int, error) {
	var z Int
	if _, underflow := z.v.SubOverflow(&x.v, &y.v); underflow {
		return Int{}, ErrUnderflow
	}
	return z, nil
}

// Mul returns x*y or ErrOverflow.
func (x Int) Mul(y Int) (Int, error) {
	var z Int
	// Both operands are below 2^128 so the 256-bit product cannot wrap.
	z.v.Mul(&x.v, &y.v)
	if z.v.BitLen() > 128 {
		return Int{}, ErrOverflow
	}
	return z, nil
}

// Div returns floor(x/y) or ErrDivisionByZero.
func (x Int) Div(y Int) (Int, error) {
	if y.v.IsZero() {
		return Int{}, ErrDivisionByZero
	}
	var z Int
	z.v.Div(&x.v, &y.v)
	return z, nil
}

// MulDiv returns floor(x*y/d), failing if the product leaves 128 bits.
func (x Int) MulDiv(y, d Int) (Int, error) {
	p, err := x.Mul(y)
	if err != nil {
		return Int{}, err
	}
	return p.Div(d)
}

// Uint64 narrows x, failing with ErrOverflow if it does not fit.
func (x Int) Uint64() (uint64, error) {
	if !x.v.IsUint64() {
		return 0, ErrOverflow
	}
	return x.v.Uint64(), nil
}

// Big returns x as a new big.Int.
func (x Int) Big() *big.Int { return x.v.ToBig() }

func (x Int) String() string { return x.v.ToBig().String() }

// Min returns the smaller of x and y.
func Min(x, y Int) Int {
	if y.Lt(x) {
		return y
	}
	return x
}

// Sqrt returns the largest r with r*r <= x, using Newton's iteration.
func (x Int) Sqrt() Int {
	if x.v.LtUint64(2) {
		return x
	}

	var (
		cur  = x.v
		next uint256.Int
		q    uint256.Int
	)
	// next = (x + 1) / 2; the 256-bit word keeps x+1 from wrapping at 2^128-1.
	next.AddUint64(&cur, 1)
	next.Rsh(&next, 1)

	for next.Lt(&cur) {
		cur = next
		q.Div(&x.v, &cur)
		next.Add(&cur, &q)
		next.Rsh(&next, 1)
	}
	return Int{v: cur}
}
