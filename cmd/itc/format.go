package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/itcshield/itc/internal/poller"
	"github.com/shopspring/decimal"
)

// formatRupees renders an amount with Indian digit grouping
// (e.g. 1234567.5 -> "₹12,34,567.50").
func formatRupees(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	s := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	return sign + "₹" + groupIndian(intPart) + "." + frac
}

// groupIndian places a comma after the last three digits, then every two.
func groupIndian(s string) string {
	if len(s) <= 3 {
		return s
	}
	head, tail := s[:len(s)-3], s[len(s)-3:]
	var b strings.Builder
	lead := len(head) % 2
	if lead > 0 {
		b.WriteString(head[:lead])
	}
	for i := lead; i < len(head); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(head[i : i+2])
	}
	b.WriteByte(',')
	b.WriteString(tail)
	return b.String()
}

// progressBar renders pct (0-100) as a fixed-width bar.
func progressBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// jobPrinter prints a line whenever a tracked job's state or progress
// changes.
type jobPrinter struct {
	out  io.Writer
	last string
}

func (p *jobPrinter) print(job poller.Job) {
	line := fmt.Sprintf("%-10s %s", job.Status, progressBar(0, 20))
	if r := job.Last; r != nil {
		line = fmt.Sprintf("%-10s %s %3.0f%%  %d/%d processed, %d passed, %d failed",
			job.Status, progressBar(r.ProgressPercent, 20), r.ProgressPercent, r.Processed, r.Total, r.Success, r.Failed)
	}
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintln(p.out, line)
}
