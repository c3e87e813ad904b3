package hashkit

import (
	"crypto/rand"
	"io"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"toolbox/internal/toolerr"
)

const (
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	MinPasswordLength     = 4
	MaxPasswordLength     = 128
	DefaultPasswordLength = 16
)

// PasswordOptions selects the character classes of a password.
type PasswordOptions struct {
	Length  int
	Upper   bool
	Lower   bool
	Numbers bool
	Symbols bool
}

func DefaultPasswordOptions() PasswordOptions {
	return PasswordOptions{Length: DefaultPasswordLength, Upper: true, Lower: true, Numbers: true, Symbols: true}
}

func (o PasswordOptions) charset() string {
	var sb strings.Builder
	if o.Upper {
		sb.WriteString(upperChars)
	}
	if o.Lower {
		sb.WriteString(lowerChars)
	}
	if o.Numbers {
		sb.WriteString(digitChars)
	}
	if o.Symbols {
		sb.WriteString(symbolChars)
	}
	return sb.String()
}

// encode packs the options into a short callback-safe token, e.g. "16.15".
func (o PasswordOptions) encode() string {
	mask := 0
	for i, on := range []bool{o.Upper, o.Lower, o.Numbers, o.Symbols} {
		if on {
			mask |= 1 << i
		}
	}
	return strconv.Itoa(o.Length) + "." + strconv.Itoa(mask)
}

func decodePasswordOptions(s string) (PasswordOptions, error) {
	l, m, ok := strings.Cut(s, ".")
	length, err1 := strconv.Atoi(l)
	mask, err2 := strconv.Atoi(m)
	if !ok || err1 != nil || err2 != nil {
		return PasswordOptions{}, toolerr.Validation("malformed password options")
	}
	return PasswordOptions{
		Length:  length,
		Upper:   mask&1 != 0,
		Lower:   mask&2 != 0,
		Numbers: mask&4 != 0,
		Symbols: mask&8 != 0,
	}, nil
}

func clampLength(n int) int {
	return max(MinPasswordLength, min(n, MaxPasswordLength))
}

// GeneratePassword draws a password from the selected classes using r
// (crypto/rand when nil). Length is clamped to 4..128.
func GeneratePassword(o PasswordOptions, r io.Reader) (string, error) {
	set := o.charset()
	if set == "" {
		return "", toolerr.Validation("select at least one character class")
	}
	return randomString(set, clampLength(o.Length), r)
}

// randomString picks n characters of set uniformly.
func randomString(set string, n int, r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	chars := []rune(set)
	limit := big.NewInt(int64(len(chars)))
	var sb strings.Builder
	sb.Grow(n)
	for range n {
		i, err := rand.Int(r, limit)
		if err != nil {
			return "", toolerr.Wrap(toolerr.Internal, "random source failed", err)
		}
		sb.WriteRune(chars[i.Int64()])
	}
	return sb.String(), nil
}

var (
	hasLower  = regexp.MustCompile(`[a-z]`)
	hasUpper  = regexp.MustCompile(`[A-Z]`)
	hasDigit  = regexp.MustCompile(`[0-9]`)
	hasSymbol = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{}|;:,.<>?]`)
)

// Strength scores a password: length steps at 8, 12 and 16 plus 15 per
// character class present.
func Strength(pw string) (score int, label string) {
	n := len([]rune(pw))
	if n >= 8 {
		score += 20
	}
	if n >= 12 {
		score += 10
	}
	if n >= 16 {
		score += 10
	}
	for _, re := range []*regexp.Regexp{hasLower, hasUpper, hasDigit, hasSymbol} {
		if re.MatchString(pw) {
			score += 15
		}
	}
	switch {
	case score >= 80:
		return score, "strong"
	case score >= 50:
		return score, "medium"
	default:
		return score, "weak"
	}
}
