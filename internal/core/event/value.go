package event

import (
	"fmt"
	"math"
)

// Kind names the variant held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt32
	KindUint32
	KindFloat32
	KindChar
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt32:
		return "int32"
	case KindUint32:
		return "uint32"
	case KindFloat32:
		return "float32"
	case KindChar:
		return "char"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is an argument value: one of int32, uint32, float32 or a character.
// The zero Value holds nothing and reads as the zero of every variant.
type Value struct {
	kind Kind
	bits uint32
}

func Int32(v int32) Value     { return Value{kind: KindInt32, bits: uint32(v)} }
func Uint32(v uint32) Value   { return Value{kind: KindUint32, bits: v} }
func Float32(v float32) Value { return Value{kind: KindFloat32, bits: math.Float32bits(v)} }
func Char(r rune) Value       { return Value{kind: KindChar, bits: uint32(r)} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsZero() bool { return v.kind == KindNone }

func (v Value) want(k Kind) error {
	if v.kind != k {
		return fmt.Errorf("%w: have %s, want %s", ErrWrongKind, v.kind, k)
	}
	return nil
}

func (v Value) AsInt32() (int32, error) {
	if err := v.want(KindInt32); err != nil {
		return 0, err
	}
	return int32(v.bits), nil
}

func (v Value) AsUint32() (uint32, error) {
	if err := v.want(KindUint32); err != nil {
		return 0, err
	}
	return v.bits, nil
}

func (v Value) AsFloat32() (float32, error) {
	if err := v.want(KindFloat32); err != nil {
		return 0, err
	}
	return math.Float32frombits(v.bits), nil
}

func (v Value) AsChar() (rune, error) {
	if err := v.want(KindChar); err != nil {
		return 0, err
	}
	return rune(v.bits), nil
}

// Int32 returns the value, or 0 when another variant is held.
func (v Value) Int32() int32 {
	n, _ := v.AsInt32()
	return n
}

func (v Value) Uint32() uint32 {
	n, _ := v.AsUint32()
	return n
}

func (v Value) Float32() float32 {
	f, _ := v.AsFloat32()
	return f
}

func (v Value) Char() rune {
	r, _ := v.AsChar()
	return r
}

func (v Value) String() string {
	switch v.kind {
	case KindInt32:
		return fmt.Sprintf("%d", int32(v.bits))
	case KindUint32:
		return fmt.Sprintf("%du", v.bits)
	case KindFloat32:
		return fmt.Sprintf("%g", math.Float32frombits(v.bits))
	case KindChar:
		return fmt.Sprintf("%q", rune(v.bits))
	}
	return "<none>"
}
