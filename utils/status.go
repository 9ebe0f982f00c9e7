package utils

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"bandlight/types"
)

var green = color.New(color.FgGreen)

// StatusPrinter writes one console line per successful iteration.
type StatusPrinter struct {
	out io.Writer
}

func NewStatusPrinter(out io.Writer) *StatusPrinter {
	return &StatusPrinter{out: out}
}

// FormatStatus renders r as
//
//	2006-01-02T15:04:05.000Z07:00 INFO: average alpha power: 12.34
//
// followed by ", <band>: <value>" for every report-only band.
func FormatStatus(r types.Reading) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s INFO: average %s power: %.2f", r.Time.Format(TimestampFormat), r.Band, r.Mean)
	for _, o := range r.Others {
		fmt.Fprintf(&b, ", %s: %.2f", o.Band, o.Mean)
	}
	return b.String()
}

func (p *StatusPrinter) Report(r types.Reading) error {
	line := FormatStatus(r)
	if r.Decision != nil && *r.Decision == types.On {
		_, err := green.Fprintln(p.out, line)
		return err
	}
	_, err := fmt.Fprintln(p.out, line)
	return err
}
