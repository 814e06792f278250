package quant

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// FixedScale is the number of fractional digits carried by every Fixed value.
const FixedScale = 18

var (
	ErrOverflow       = errors.New("quant: fixed-point overflow")
	ErrDivisionByZero = errors.New("quant: division by zero")
	ErrInvalidFormat  = errors.New("quant: invalid decimal format")
)

var (
	scaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(FixedScale), nil)
	// The representable range is symmetric so that Neg and Abs are total.
	maxScaled = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minScaled = new(big.Int).Neg(maxScaled)
)

// Fixed is an immutable fixed-point decimal: a signed 128-bit-bounded integer
// scaled by 10^18. The zero value is 0. All monetary values in this codebase
// are Fixed; float64 appears only at display boundaries.
type Fixed struct {
	n *big.Int // scaled by 10^18, nil means zero, never mutated after creation
}

func (f Fixed) scaled() *big.Int {
	if f.n == nil {
		return new(big.Int)
	}
	return f.n
}

// checked wraps a scaled integer into a Fixed, rejecting out-of-range values.
func checked(n *big.Int) (Fixed, error) {
	if n.Cmp(maxScaled) > 0 || n.Cmp(minScaled) < 0 {
		return Fixed{}, ErrOverflow
	}
	return Fixed{n: n}, nil
}

// FixedFromInt64 converts an integer quantity to a Fixed value.
func FixedFromInt64(v int64) Fixed {
	return Fixed{n: new(big.Int).Mul(big.NewInt(v), scaleFactor)}
}

// FixedFromFloat64 converts a float to a Fixed value. Lossy; boundary use only.
func FixedFromFloat64(v float64) (Fixed, error) {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if strings.ContainsAny(s, "NaI") { // NaN, +Inf, -Inf
		return Fixed{}, ErrInvalidFormat
	}
	return ParseFixed(s)
}

// ParseFixed parses a decimal string: optional sign, integer digits, optional
// fractional digits. Fractional digits beyond the 18th are truncated.
func ParseFixed(s string) (Fixed, error) {
	if s == "" {
		return Fixed{}, ErrInvalidFormat
	}

	rest := s
	neg := false
	switch rest[0] {
	case '+':
		rest = rest[1:]
	case '-':
		neg = true
		rest = rest[1:]
	}

	intPart := rest
	fracPart := ""
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		intPart = rest[:dot]
		fracPart = rest[dot+1:]
	}
	if intPart == "" && fracPart == "" {
		return Fixed{}, ErrInvalidFormat
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return Fixed{}, ErrInvalidFormat
	}

	if len(fracPart) > FixedScale {
		fracPart = fracPart[:FixedScale]
	}
	// Build the scaled integer digit string directly: int digits followed by
	// the fraction padded to exactly 18 digits.
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	if intPart == "" {
		intPart = "0"
	}
	b.WriteString(intPart)
	b.WriteString(fracPart)
	for i := len(fracPart); i < FixedScale; i++ {
		b.WriteByte('0')
	}

	n, ok := new(big.Int).SetString(b.String(), 10)
	if !ok {
		return Fixed{}, ErrInvalidFormat
	}
	return checked(n)
}

// MustFixed parses s and panics on error. For constants and tests.
func MustFixed(s string) Fixed {
	f, err := ParseFixed(s)
	if err != nil {
		panic(fmt.Sprintf("quant.MustFixed(%q): %v", s, err))
	}
	return f
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Add returns f + o, or ErrOverflow if the sum leaves the 128-bit range.
func (f Fixed) Add(o Fixed) (Fixed, error) {
	return checked(new(big.Int).Add(f.scaled(), o.scaled()))
}

// Sub returns f - o, or ErrOverflow.
func (f Fixed) Sub(o Fixed) (Fixed, error) {
	return checked(new(big.Int).Sub(f.scaled(), o.scaled()))
}

// Mul returns f * o rescaled to 18 digits. The product is taken at full width
// before the rescale, so overflow is detected rather than wrapped; the rescale
// truncates toward zero.
func (f Fixed) Mul(o Fixed) (Fixed, error) {
	wide := new(big.Int).Mul(f.scaled(), o.scaled())
	return checked(wide.Quo(wide, scaleFactor))
}

// Div returns f / o at 18-digit scale, truncated toward zero.
// Division by zero is ErrDivisionByZero, never a panic.
func (f Fixed) Div(o Fixed) (Fixed, error) {
	if o.IsZero() {
		return Fixed{}, ErrDivisionByZero
	}
	wide := new(big.Int).Mul(f.scaled(), scaleFactor)
	return checked(wide.Quo(wide, o.scaled()))
}

// Cmp compares f and o: -1 if f < o, 0 if equal, +1 if f > o.
func (f Fixed) Cmp(o Fixed) int {
	return f.scaled().Cmp(o.scaled())
}

// Equal reports whether f and o represent the same value.
func (f Fixed) Equal(o Fixed) bool { return f.Cmp(o) == 0 }

// Sign returns -1, 0 or +1.
func (f Fixed) Sign() int { return f.scaled().Sign() }

// IsZero reports whether f is exactly zero.
func (f Fixed) IsZero() bool { return f.Sign() == 0 }

// Neg returns -f. Total: the representable range is symmetric.
func (f Fixed) Neg() Fixed {
	return Fixed{n: new(big.Int).Neg(f.scaled())}
}

// Abs returns |f|.
func (f Fixed) Abs() Fixed {
	return Fixed{n: new(big.Int).Abs(f.scaled())}
}

// String formats f as a plain decimal with trailing fractional zeros trimmed.
// ParseFixed(f.String()) always round-trips exactly.
func (f Fixed) String() string {
	n := f.scaled()
	sign := ""
	abs := new(big.Int).Abs(n)
	if n.Sign() < 0 {
		sign = "-"
	}

	q, r := new(big.Int).QuoRem(abs, scaleFactor, new(big.Int))
	if r.Sign() == 0 {
		return sign + q.String()
	}
	frac := strings.TrimRight(fmt.Sprintf("%018s", r.String()), "0")
	return sign + q.String() + "." + frac
}

// Float64 converts to a float for display. Lossy; never feed back into logic.
func (f Fixed) Float64() float64 {
	v, _ := new(big.Float).SetInt(f.scaled()).Float64()
	return v / 1e18
}

// MarshalJSON encodes the value as a JSON string to preserve exactness.
func (f Fixed) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare number literal.
func (f *Fixed) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*f = Fixed{}
		return nil
	}
	v, err := ParseFixed(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}
