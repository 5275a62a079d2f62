// Package pdftext rebuilds reading-order text from the positioned glyph runs of
// PDF pages, mainly for purchase-order documents.
package pdftext

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// LineTolerance is the largest vertical offset difference, in PDF user-space
// units, at which two fragments still belong to the same visual line.
const LineTolerance = 3.0

// Fragment is a run of text placed at (X, Y) on a page; Y grows upward.
type Fragment struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Page is the fragments of one page in content-stream order.
type Page struct {
	Number    int
	Fragments []Fragment
}

// Reconstruct joins every page's lines with newlines and terminates each page
// with a newline.
func Reconstruct(pages []Page) string {
	var b strings.Builder
	for _, p := range pages {
		b.WriteString(strings.Join(PageLines(p.Fragments), "\n"))
		b.WriteByte('\n')
	}
	return b.String()
}

// PageLines groups fragments into logical lines, top of page first, each line
// read left to right.
func PageLines(fragments []Fragment) []string {
	kept := make([]Fragment, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f.Text) != "" {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Y != kept[j].Y {
			return kept[i].Y > kept[j].Y
		}
		return kept[i].X < kept[j].X
	})

	lines := make([]string, 0)
	current := []Fragment{kept[0]}
	for _, f := range kept[1:] {
		prev := current[len(current)-1]
		if math.Abs(f.Y-prev.Y) > LineTolerance {
			if line := joinLine(current); line != "" {
				lines = append(lines, line)
			}
			current = current[:0:0]
		}
		current = append(current, f)
	}
	if line := joinLine(current); line != "" {
		lines = append(lines, line)
	}
	return lines
}

// joinLine orders a line's fragments left to right and concatenates them,
// adding one space where neither neighbour already has whitespace.
func joinLine(line []Fragment) string {
	sort.SliceStable(line, func(i, j int) bool {
		return line[i].X < line[j].X
	})

	var b strings.Builder
	for i, f := range line {
		if i > 0 && !endsWithSpace(b.String()) && !startsWithSpace(f.Text) {
			b.WriteByte(' ')
		}
		b.WriteString(f.Text)
	}
	return strings.TrimSpace(b.String())
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && unicode.IsSpace(r)
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r != utf8.RuneError && unicode.IsSpace(r)
}

// CleanText collapses runs of spaces and blank lines.
func CleanText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Lines returns the non-empty, whitespace-normalized lines of text.
func Lines(text string) []string {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil
	}
	return strings.Split(cleaned, "\n")
}
