// Package timeparsing reads the cursor override of a sync run (--since).
//
// An expression is tried as a lookback ("36h", "-2w"), then as an absolute
// timestamp ("2024-01-31", RFC3339), then as English ("yesterday",
// "3 days ago", "last monday"). A cursor never lies after now.
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Layer names the parser that accepted an expression.
type Layer int

const (
	LayerLookback Layer = iota + 1
	LayerAbsolute
	LayerNatural
)

func (l Layer) String() string {
	switch l {
	case LayerLookback:
		return "lookback"
	case LayerAbsolute:
		return "absolute"
	case LayerNatural:
		return "natural"
	}
	return fmt.Sprintf("Layer(%d)", int(l))
}

// Since is a parsed cursor.
type Since struct {
	Time  time.Time
	Layer Layer
}

// lookbackRe matches an amount and unit counted back from now. The minus
// sign is optional: "7d" and "-7d" are both a week ago.
var lookbackRe = regexp.MustCompile(`^-?(\d+)([hdwmy])$`)

// absoluteLayouts are tried before natural language so that plain dates are
// not read as times of day.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var natural = newNaturalParser()

func newNaturalParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// Parse reads s relative to now. Date-only and zone-less timestamps are read
// in now's location.
func Parse(s string, now time.Time) (Since, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Since{}, fmt.Errorf("empty time expression")
	}
	res, err := parse(s, now)
	if err != nil {
		return Since{}, err
	}
	if res.Time.After(now) {
		return Since{}, fmt.Errorf("since %q lies in the future (%s)", s, res.Time.Format(time.RFC3339))
	}
	return res, nil
}

// ParseSince is Parse without the layer.
func ParseSince(s string, now time.Time) (time.Time, error) {
	res, err := Parse(s, now)
	return res.Time, err
}

func parse(s string, now time.Time) (Since, error) {
	if strings.HasPrefix(s, "+") {
		return Since{}, fmt.Errorf("since %q counts forward; use a lookback like %q", s, strings.TrimPrefix(s, "+"))
	}
	if m := lookbackRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Since{}, fmt.Errorf("lookback %q: %w", s, err)
		}
		return Since{Time: lookback(now, n, m[2]), Layer: LayerLookback}, nil
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return Since{Time: t, Layer: LayerAbsolute}, nil
		}
	}
	r, err := natural.Parse(s, now)
	if err != nil || r == nil {
		return Since{}, fmt.Errorf("unrecognized time expression %q (try 2024-01-31, 7d or \"3 days ago\")", s)
	}
	return Since{Time: r.Time, Layer: LayerNatural}, nil
}

func lookback(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "h":
		return now.Add(-time.Duration(n) * time.Hour)
	case "d":
		return now.AddDate(0, 0, -n)
	case "w":
		return now.AddDate(0, 0, -7*n)
	case "m":
		return now.AddDate(0, -n, 0)
	default: // y
		return now.AddDate(-n, 0, 0)
	}
}
