// Package pages normalizes user supplied page selections into the
// comma separated form the converter expects.
package pages

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxPages bounds how many pages a single range may expand to.
const DefaultMaxPages = 5000

var rangePattern = regexp.MustCompile(`\d+-\d+`)

// Expand turns "3-6" into "3,4,5,6" using DefaultMaxPages.
func Expand(spec string) string {
	return ExpandMax(spec, DefaultMaxPages)
}

// ExpandMax is Expand with an explicit range cap; maxPages <= 0 means
// DefaultMaxPages. Specs without a range are returned unchanged. Bounds are
// not validated beyond that: an unparsable bound, end < start or a range of
// more than maxPages pages yields an empty list.
func ExpandMax(spec string, maxPages int) string {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if !rangePattern.MatchString(spec) {
		return spec
	}
	parts := strings.Split(spec, "-")
	start, ok := leadingInt(parts[0])
	if !ok {
		return ""
	}
	end, ok := leadingInt(parts[1])
	if !ok || end < start {
		return ""
	}
	// Bounds carry no minus sign, so end-start cannot overflow.
	span := end - start
	if span >= maxPages {
		return ""
	}

	var b strings.Builder
	for k := 0; k <= span; k++ {
		if k > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(start + k))
	}
	return b.String()
}

// leadingInt parses the integer prefix of s after optional whitespace and sign.
func leadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	n := 0
	if n < len(s) && (s[n] == '+' || s[n] == '-') {
		n++
	}
	digits := n
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n == digits {
		return 0, false
	}
	v, err := strconv.Atoi(s[:n])
	if err != nil {
		return 0, false
	}
	return v, true
}
