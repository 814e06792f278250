package quant

import (
	"errors"
	"testing"
)

func TestParseFixed(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0", "0"},
		{"1.23", "1.23"},
		{"-1.23", "-1.23"},
		{"+42", "42"},
		{"0.000000000000000001", "0.000000000000000001"},
		{"100.500", "100.5"},
		{"-0.5", "-0.5"},
		{".5", "0.5"},
		{"7.", "7"},
	}

	for _, tt := range tests {
		got, err := ParseFixed(tt.input)
		if err != nil {
			t.Fatalf("ParseFixed(%q) error: %v", tt.input, err)
		}
		if got.String() != tt.want {
			t.Errorf("ParseFixed(%q).String() = %s; want %s", tt.input, got.String(), tt.want)
		}
	}
}

func TestParseFixed_Invalid(t *testing.T) {
	for _, input := range []string{"", "-", "+", ".", "abc", "1.2.3", "1e5", "1,5", " 1", "--1"} {
		if _, err := ParseFixed(input); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("ParseFixed(%q) error = %v; want ErrInvalidFormat", input, err)
		}
	}
}

func TestFixed_RoundTrip(t *testing.T) {
	inputs := []string{
		"0", "1", "-1", "1.5", "-1.5", "123456789.987654321",
		"0.000000000000000001", "-0.000000000000000001",
		"99999999999999999999.999999999999999999",
	}
	for _, s := range inputs {
		x := MustFixed(s)
		back, err := ParseFixed(x.String())
		if err != nil {
			t.Fatalf("re-parse of %q failed: %v", x.String(), err)
		}
		if !back.Equal(x) {
			t.Errorf("round trip of %s: got %s", s, back.String())
		}
	}
}

func TestFixed_AddSub(t *testing.T) {
	a := MustFixed("10.25")
	b := MustFixed("3.75")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if sum.String() != "14" {
		t.Errorf("10.25 + 3.75 = %s; want 14", sum.String())
	}

	back, err := sum.Sub(b)
	if err != nil {
		t.Fatalf("Sub error: %v", err)
	}
	if !back.Equal(a) {
		t.Errorf("(a+b)-b = %s; want %s", back.String(), a.String())
	}
}

func TestFixed_MulDiv(t *testing.T) {
	tests := []struct {
		a, b, mul, div string
	}{
		{"2", "3", "6", "0.666666666666666666"},
		{"-2", "3", "-6", "-0.666666666666666666"},
		{"0.5", "0.5", "0.25", "1"},
		{"100", "0.1", "10", "1000"},
	}
	for _, tt := range tests {
		a, b := MustFixed(tt.a), MustFixed(tt.b)
		m, err := a.Mul(b)
		if err != nil {
			t.Fatalf("Mul(%s, %s) error: %v", tt.a, tt.b, err)
		}
		if m.String() != tt.mul {
			t.Errorf("%s * %s = %s; want %s", tt.a, tt.b, m.String(), tt.mul)
		}
		d, err := a.Div(b)
		if err != nil {
			t.Fatalf("Div(%s, %s) error: %v", tt.a, tt.b, err)
		}
		if d.String() != tt.div {
			t.Errorf("%s / %s = %s; want %s", tt.a, tt.b, d.String(), tt.div)
		}
	}
}

func TestFixed_DivisionByZero(t *testing.T) {
	if _, err := MustFixed("1").Div(Fixed{}); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("Div by zero error = %v; want ErrDivisionByZero", err)
	}
}

func TestFixed_Overflow(t *testing.T) {
	// Near the top of the 128-bit range: ~1.7e20 at scale 18.
	big := MustFixed("170141183460469231731.687303715884105727")

	if _, err := big.Add(MustFixed("1")); !errors.Is(err, ErrOverflow) {
		t.Errorf("Add overflow error = %v; want ErrOverflow", err)
	}
	if _, err := big.Mul(MustFixed("2")); !errors.Is(err, ErrOverflow) {
		t.Errorf("Mul overflow error = %v; want ErrOverflow", err)
	}
	if _, err := big.Div(MustFixed("0.5")); !errors.Is(err, ErrOverflow) {
		t.Errorf("Div overflow error = %v; want ErrOverflow", err)
	}
	if _, err := ParseFixed("999999999999999999999999999999"); !errors.Is(err, ErrOverflow) {
		t.Error("expected ErrOverflow parsing out-of-range literal")
	}
}

func TestFixed_NegAbsSign(t *testing.T) {
	x := MustFixed("-2.5")
	if x.Sign() != -1 {
		t.Errorf("Sign() = %d; want -1", x.Sign())
	}
	if x.Neg().String() != "2.5" {
		t.Errorf("Neg() = %s; want 2.5", x.Neg().String())
	}
	if x.Abs().String() != "2.5" {
		t.Errorf("Abs() = %s; want 2.5", x.Abs().String())
	}
	if !(Fixed{}).IsZero() {
		t.Error("zero value should be zero")
	}
}

func TestFixed_ZeroValueUsable(t *testing.T) {
	var z Fixed
	sum, err := z.Add(MustFixed("1"))
	if err != nil || sum.String() != "1" {
		t.Errorf("zero + 1 = %s, %v; want 1", sum.String(), err)
	}
	if z.String() != "0" {
		t.Errorf("zero.String() = %s; want 0", z.String())
	}
}

func TestFixed_Compare(t *testing.T) {
	a, b := MustFixed("1.000000000000000001"), MustFixed("1")
	if a.Cmp(b) != 1 || b.Cmp(a) != -1 || a.Cmp(a) != 0 {
		t.Error("Cmp ordering wrong at smallest representable difference")
	}
}

func TestFixed_JSON(t *testing.T) {
	x := MustFixed("-10.5")
	data, err := x.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	if string(data) != `"-10.5"` {
		t.Errorf("MarshalJSON = %s; want \"-10.5\"", data)
	}
	var y Fixed
	if err := y.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON error: %v", err)
	}
	if !y.Equal(x) {
		t.Errorf("JSON round trip = %s; want %s", y.String(), x.String())
	}
}
