package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID is base36(unix nanos)-base36(seq) plus two random characters.
func newReqID() string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" +
		strconv.FormatUint(n, 36) +
		string(alpha[rand.IntN(len(alpha))]) + string(alpha[rand.IntN(len(alpha))])
}

// tokenize splits command arguments on whitespace. Single or double quotes
// group words and a backslash escapes the next byte.
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		quote byte
		esc   bool
		have  bool
	)
	flush := func() {
		if have {
			out = append(out, buf.String())
			buf.Reset()
			have = false
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc, have = false, true
		case ch == '\\':
			esc = true
		case quote != 0:
			if ch == quote {
				quote = 0
				continue
			}
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			quote, have = ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
			have = true
		}
	}
	flush()
	return out
}
