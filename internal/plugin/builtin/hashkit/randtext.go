package hashkit

import (
	"io"
	"strings"

	"toolbox/internal/toolerr"
)

var charsets = map[string]string{
	"alphanumeric": upperChars + lowerChars + digitChars,
	"alpha":        upperChars + lowerChars,
	"lowercase":    lowerChars,
	"uppercase":    upperChars,
	"numbers":      digitChars,
	"hex":          "0123456789ABCDEF",
}

const (
	MaxTextLength = 1000
	MaxTextLines  = 50
	// Telegram message budget for the whole output.
	maxTextOutput = 3500
)

// TextOptions configures RandomText.
type TextOptions struct {
	Charset string // a charsets key or "custom"
	Custom  string
	Length  int
	Lines   int
	Upper   bool
}

// RandomText returns Lines lines of Length random characters each.
func RandomText(o TextOptions, r io.Reader) (string, error) {
	name := strings.ToLower(strings.TrimSpace(o.Charset))
	if name == "" {
		name = "alphanumeric"
	}
	set, ok := charsets[name]
	switch {
	case name == "custom":
		set = o.Custom
		if set == "" {
			return "", toolerr.Validation("custom charset is empty (use --custom <chars>)")
		}
	case !ok:
		return "", toolerr.Validation("unknown charset " + o.Charset)
	}
	if o.Length < 1 || o.Length > MaxTextLength {
		return "", toolerr.Validation("length must be between 1 and 1000")
	}
	if o.Lines < 1 || o.Lines > MaxTextLines {
		return "", toolerr.Validation("lines must be between 1 and 50")
	}
	if o.Length*o.Lines+o.Lines > maxTextOutput {
		return "", toolerr.Validation("output too long for one message, lower --length or --lines")
	}

	lines := make([]string, o.Lines)
	for i := range lines {
		s, err := randomString(set, o.Length, r)
		if err != nil {
			return "", err
		}
		if o.Upper {
			s = strings.ToUpper(s)
		}
		lines[i] = s
	}
	return strings.Join(lines, "\n"), nil
}
