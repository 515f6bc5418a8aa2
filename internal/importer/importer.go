// Package importer turns a to-do list file into a chat message the task
// pipeline can organise.
package importer

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/lifeos/internal/tasks"
)

const maxFileSize = 5 << 20 // 5MB

// ErrNoItems is returned when a file holds no open to-do items.
var ErrNoItems = errors.New("no to-do items found")

var (
	checkbox = regexp.MustCompile(`^\s*(?:[-*•]\s*)?(\[[ xX✓]?\]|[☐□☑✅✔])\s*`)
	heading  = regexp.MustCompile(`^\s*#+\s|[:：]\s*$`)
)

// Load reads path and returns the message to send for its open items.
func Load(path string) (string, error) {
	text, err := ReadFile(path)
	if err != nil {
		return "", err
	}
	items := Items(text)
	if len(items) == 0 {
		return "", fmt.Errorf("%s: %w", path, ErrNoItems)
	}
	return Message(items), nil
}

// ReadFile returns the text of a plain text, Markdown or PDF file.
func ReadFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("%s is %d bytes, larger than the %d byte limit", path, info.Size(), maxFileSize)
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return pdfText(path)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%s is not UTF-8 text", path)
	}
	return string(b), nil
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		writeLines(&b, p.Content().Text)
	}
	return b.String(), nil
}

// writeLines writes glyphs top to bottom, one output line per baseline.
// Glyphs on the same baseline keep their content stream order.
func writeLines(b *strings.Builder, glyphs []pdf.Text) {
	glyphs = slices.Clone(glyphs)
	slices.SortStableFunc(glyphs, func(x, y pdf.Text) int {
		return cmp.Compare(math.Round(y.Y), math.Round(x.Y))
	})
	for i, g := range glyphs {
		if i > 0 && math.Round(g.Y) != math.Round(glyphs[i-1].Y) {
			b.WriteByte('\n')
		}
		b.WriteString(g.S)
	}
	if len(glyphs) > 0 {
		b.WriteByte('\n')
	}
}

// Items returns the open to-do items in text, one per line. Checked boxes,
// headings and duplicates are dropped and at most tasks.MaxTasks are kept.
func Items(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for line := range strings.Lines(text) {
		if m := checkbox.FindStringSubmatch(line); m != nil {
			if done(m[1]) {
				continue
			}
			line = line[len(m[0]):]
		}
		if heading.MatchString(line) {
			continue
		}
		item := tasks.Clean(line)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
		if len(out) == tasks.MaxTasks {
			break
		}
	}
	return out
}

func done(box string) bool {
	switch box {
	case "[x]", "[X]", "[✓]", "☑", "✅", "✔":
		return true
	}
	return false
}

// Message phrases items as a request to organise today's tasks.
func Message(items []string) string {
	var b strings.Builder
	b.WriteString("帮我整理今天的任务：")
	for i, item := range items {
		b.WriteString("\n" + strconv.Itoa(i+1) + ". " + item)
	}
	return b.String()
}
