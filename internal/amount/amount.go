// Package amount converts between human-entered decimal strings and exact
// minor-unit integers.
package amount

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
)

// DisplayPrecision is the number of fractional digits kept by ToHumanString.
const DisplayPrecision = 6

// MaxDecimals bounds token decimals accepted by the converter.
const MaxDecimals = 36

// DefaultSlippage is used when the caller leaves slippage blank.
const DefaultSlippage = 0.5

// MaxSlippage is the upper bound of accepted slippage in percent.
const MaxSlippage = 50.0

// Minor is an amount expressed in the smallest indivisible unit of a token.
type Minor struct {
	Value    *big.Int
	Decimals uint8
}

// Int returns a copy of the underlying integer.
func (m Minor) Int() *big.Int {
	if m.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(m.Value)
}

// String returns the minor-unit integer in base 10.
func (m Minor) String() string {
	return m.Int().String()
}

// ToMinorUnits scales a human decimal string by 10^decimals. The string must
// be a plain positive decimal number with at most decimals fractional digits.
func ToMinorUnits(s string, decimals uint8) (Minor, error) {
	if decimals > MaxDecimals {
		return Minor{}, invalid("不支持的精度: " + strconv.Itoa(int(decimals)))
	}
	whole, frac, err := split(s)
	if err != nil {
		return Minor{}, err
	}
	if len(frac) > int(decimals) {
		return Minor{}, invalid("小数位数超过代币精度 " + strconv.Itoa(int(decimals)))
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Minor{}, invalid("金额格式无效")
	}
	if value.Sign() <= 0 {
		return Minor{}, invalid("金额必须为正数")
	}
	return Minor{Value: value, Decimals: decimals}, nil
}

// CheckSyntax validates a human amount without knowing the token decimals.
func CheckSyntax(s string) error {
	whole, frac, err := split(s)
	if err != nil {
		return err
	}
	if strings.Trim(whole+frac, "0") == "" {
		return invalid("金额必须为正数")
	}
	return nil
}

// ToHumanString renders m as a canonical decimal string truncated to
// DisplayPrecision fractional digits.
func ToHumanString(m Minor) string {
	return format(m, DisplayPrecision)
}

// Exact renders m with every fractional digit, trailing zeros removed.
func Exact(m Minor) string {
	return format(m, int(m.Decimals))
}

// FromInt wraps a raw minor-unit integer returned by a chain or adapter.
func FromInt(v *big.Int, decimals uint8) Minor {
	if v == nil {
		v = new(big.Int)
	}
	return Minor{Value: new(big.Int).Set(v), Decimals: decimals}
}

// ValidateAgainstBalance rejects amounts above a known balance.
func ValidateAgainstBalance(m Minor, balance *big.Int) error {
	if balance == nil {
		return nil
	}
	if m.Int().Cmp(balance) > 0 {
		return invalid("超出余额")
	}
	return nil
}

// ParseSlippage parses a percentage in [0, MaxSlippage]; blank means default.
func ParseSlippage(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return DefaultSlippage, nil
	}
	// 只接受十进制数字，ParseFloat 会放行 NaN、Inf 和十六进制浮点。
	if _, _, err := split(strings.TrimPrefix(s, "-")); err != nil {
		return 0, xerrors.New(xerrors.CodeValidation, "滑点格式无效", xerrors.WithField("slippage", "滑点格式无效"))
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, xerrors.New(xerrors.CodeValidation, "滑点格式无效", xerrors.WithField("slippage", "滑点格式无效"))
	}
	if v < 0 || v > MaxSlippage {
		return 0, xerrors.New(xerrors.CodeValidation, "滑点必须在 0 到 50 之间", xerrors.WithField("slippage", "滑点必须在 0 到 50 之间"))
	}
	return v, nil
}

func split(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", invalid("金额不能为空")
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && whole == "" && frac == "" {
		return "", "", invalid("金额格式无效")
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		if strings.HasPrefix(s, "-") {
			return "", "", invalid("金额必须为正数")
		}
		return "", "", invalid("金额格式无效")
	}
	if whole == "" {
		whole = "0"
	}
	return whole, frac, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func format(m Minor, precision int) string {
	v := m.Int()
	neg := v.Sign() < 0
	v.Abs(v)
	digits := v.String()
	d := int(m.Decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-d]
	frac := digits[len(digits)-d:]
	if len(frac) > precision {
		frac = frac[:precision]
	}
	frac = strings.TrimRight(frac, "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}

func invalid(msg string) error {
	return xerrors.New(xerrors.CodeValidation, msg, xerrors.WithField("amount", msg))
}
