package router

import (
	"crypto/rand"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	return strings.Fields(route)
}

func (r *cmdNode) add(route []string, c Command) {
	cur := r
	for _, tok := range route {
		n, ok := cur.children[tok]
		if !ok {
			n = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = n
		}
		cur = n
	}
	cur.cmd = &c
}

func (r *cmdNode) find(path []string) *cmdNode {
	cur := r
	for _, tok := range path {
		n, ok := cur.children[tok]
		if !ok {
			return nil
		}
		cur = n
	}
	return cur
}

func (r *cmdNode) child(name string) (*cmdNode, bool) {
	n, ok := r.children[name]
	return n, ok
}

func (r *cmdNode) childNames() []string {
	out := make([]string, 0, len(r.children))
	for k := range r.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var ridSeq atomic.Uint64

// newReqID returns a short id: base36 time, sequence and two random chars.
func newReqID() string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var rb [2]byte
	_, _ = rand.Read(rb[:])
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" +
		strconv.FormatUint(ridSeq.Add(1), 36) +
		string([]byte{alpha[int(rb[0])%len(alpha)], alpha[int(rb[1])%len(alpha)]})
}

// tokenizeCommandLine splits a command line on whitespace, honoring single
// and double quotes and backslash escapes:
//
//	/pgp gen --name "Jane Doe" --type rsa4096
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
		seen  bool
	)
	flush := func() {
		if seen {
			out = append(out, buf.String())
			buf.Reset()
			seen = false
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc, seen = false, true
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar, seen = true, ch, true
		case unicode.IsSpace(ch):
			flush()
		default:
			buf.WriteRune(ch)
			seen = true
		}
	}
	flush()
	return out
}

// parseFlags splits args into positionals and flags:
//
//	--k=v, --k v, --flag (bool)
//	-k=v, -k v, -abc (bools a, b, c)
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		hasNext := i+1 < len(args) && !strings.HasPrefix(args[i+1], "-")
		switch {
		case strings.HasPrefix(a, "--") && len(a) > 2:
			key := a[2:]
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
			} else if hasNext && !isBoolFlag(key) {
				flags[key] = args[i+1]
				i++
			} else {
				bools[key] = true
			}
		case strings.HasPrefix(a, "-") && len(a) > 1 && !isNumber(a):
			key := a[1:]
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
			} else if len(key) == 1 && hasNext {
				flags[key] = args[i+1]
				i++
			} else if len(key) == 1 {
				bools[key] = true
			} else {
				for _, r := range key {
					bools[string(r)] = true
				}
			}
		default:
			pos = append(pos, a)
		}
	}
	return pos, flags, bools
}

// isBoolFlag lists long flags that never take a value, so "--upper 20"
// keeps 20 as a positional.
func isBoolFlag(key string) bool {
	return strings.HasPrefix(key, "no-") || key == "upper" || key == "help" || key == "mine"
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// restAfter returns text with the first n whitespace-separated tokens (the
// command path) removed, preserving the remaining text verbatim.
func restAfter(text string, n int) string {
	s := strings.TrimLeftFunc(text, unicode.IsSpace)
	for i := 0; i < n && s != ""; i++ {
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		s = strings.TrimLeftFunc(s[end:], unicode.IsSpace)
	}
	return s
}
