package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Float encoding
// ---------------------------------------------------------------------------

func TestFloatRoundTrip(t *testing.T) {
	cases := []float64{0, 1.5, -273.15, math.MaxFloat64, math.Inf(1), math.Inf(-1)}
	for _, f := range cases {
		v := FromFloat64(f)
		if !v.IsFloat() {
			t.Errorf("FromFloat64(%v) should be a float", f)
		}
		if v.Float64() != f {
			t.Errorf("Float64 = %v, want %v", v.Float64(), f)
		}
	}
}

func TestRealNaNIsFloat(t *testing.T) {
	v := FromFloat64(math.NaN())
	if !v.IsFloat() {
		t.Error("a real NaN should still be a float")
	}
	if v.IsObject() || v.IsSmallInt() || v.IsSpecial() {
		t.Error("a real NaN should not decode as a tagged value")
	}
}

// ---------------------------------------------------------------------------
// SmallInt encoding
// ---------------------------------------------------------------------------

func TestSmallIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 42, -42, MaxSmallInt, MinSmallInt}
	for _, n := range cases {
		v := FromSmallInt(n)
		if !v.IsSmallInt() {
			t.Errorf("FromSmallInt(%d) should be a small int", n)
		}
		if v.SmallInt() != n {
			t.Errorf("SmallInt = %d, want %d", v.SmallInt(), n)
		}
	}
}

func TestTryFromSmallIntOutOfRange(t *testing.T) {
	if _, ok := TryFromSmallInt(MaxSmallInt + 1); ok {
		t.Error("MaxSmallInt+1 should be out of range")
	}
	if _, ok := TryFromSmallInt(MinSmallInt - 1); ok {
		t.Error("MinSmallInt-1 should be out of range")
	}
}

// ---------------------------------------------------------------------------
// Object handle encoding
// ---------------------------------------------------------------------------

func TestRefRoundTrip(t *testing.T) {
	cases := []Ref{
		{Index: 0, Gen: 0},
		{Index: 1, Gen: 1},
		{Index: 0xFFFFFFFF, Gen: 0xFFFF},
		{Index: 123456, Gen: 7},
	}
	for _, r := range cases {
		v := FromRef(r)
		if !v.IsObject() {
			t.Errorf("FromRef(%+v) should be an object", r)
		}
		if got := v.Ref(); got != r {
			t.Errorf("Ref = %+v, want %+v", got, r)
		}
	}
}

func TestObjectIsNotFloat(t *testing.T) {
	v := FromRef(Ref{Index: 99, Gen: 3})
	if v.IsFloat() {
		t.Error("object handle should not decode as a float")
	}
}

// ---------------------------------------------------------------------------
// Specials and truthiness
// ---------------------------------------------------------------------------

func TestSpecials(t *testing.T) {
	if !Nil.IsNil() || !Nil.IsSpecial() {
		t.Error("Nil should be nil and special")
	}
	if !True.Bool() {
		t.Error("True.Bool should be true")
	}
	if False.Bool() {
		t.Error("False.Bool should be false")
	}
	if FromBool(true) != True || FromBool(false) != False {
		t.Error("FromBool should map to the canonical specials")
	}
}

func TestTruthiness(t *testing.T) {
	if Nil.IsTruthy() || False.IsTruthy() {
		t.Error("nil and false should be falsy")
	}
	if !True.IsTruthy() || !FromSmallInt(0).IsTruthy() || !FromFloat64(0).IsTruthy() {
		t.Error("true, 0, and 0.0 should be truthy")
	}
	if !Nil.IsFalsy() || !False.IsFalsy() {
		t.Error("IsFalsy should mirror IsTruthy")
	}
}
