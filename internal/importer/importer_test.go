package importer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ledongthuc/pdf"

	"github.com/kalambet/lifeos/internal/tasks"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// minimalPDF builds a one-page PDF that draws each line on its own row.
func minimalPDF(lines ...string) []byte {
	var content strings.Builder
	content.WriteString("BT /F1 12 Tf 72 720 Td")
	for i, l := range lines {
		if i > 0 {
			content.WriteString(" 0 -20 Td")
		}
		fmt.Fprintf(&content, " (%s) Tj", l)
	}
	content.WriteString(" ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func TestItems(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "markdown checklist",
			text: "# 今天\n- [ ] 写报告\n- [x] 买咖啡\n- [ ] 回复邮件\n",
			want: []string{"写报告", "回复邮件"},
		},
		{
			name: "numbered with heading",
			text: "待办事项：\n1. 开会\n2) 整理文档\n\n3、打电话给妈妈",
			want: []string{"开会", "整理文档", "打电话给妈妈"},
		},
		{
			name: "symbols and duplicates",
			text: "☐ 跑步\n☑ 冥想\n✅ 读书\n☐ 跑步\n• 复习英语",
			want: []string{"跑步", "复习英语"},
		},
		{
			name: "times are kept",
			text: "10:30 开会\n",
			want: []string{"10:30 开会"},
		},
		{
			name: "nothing open",
			text: "- [x] done\n\n---\n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Items(tt.text)); diff != "" {
				t.Errorf("Items() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestItems_Capped(t *testing.T) {
	var b strings.Builder
	for i := range 15 {
		fmt.Fprintf(&b, "- 任务%d\n", i)
	}
	if got := Items(b.String()); len(got) != tasks.MaxTasks {
		t.Errorf("got %d items, want %d", len(got), tasks.MaxTasks)
	}
}

func TestMessage_RoundTripsThroughExtract(t *testing.T) {
	items := []string{"写报告", "开会", "回复邮件"}
	msg := Message(items)
	if !strings.HasPrefix(msg, "帮我整理今天的任务：") {
		t.Errorf("message = %q", msg)
	}
	if diff := cmp.Diff(items, tasks.Extract(msg)); diff != "" {
		t.Errorf("Extract(Message()) mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Text(t *testing.T) {
	path := writeFile(t, "todo.md", []byte("- [ ] 写报告\n- [ ] 开会\n"))
	msg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := "帮我整理今天的任务：\n1. 写报告\n2. 开会"; msg != want {
		t.Errorf("message = %q, want %q", msg, want)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for a missing file")
	}

	empty := writeFile(t, "done.txt", []byte("- [x] 都做完了\n"))
	if _, err := Load(empty); !errors.Is(err, ErrNoItems) {
		t.Errorf("err = %v, want ErrNoItems", err)
	}

	binary := writeFile(t, "blob.txt", []byte{0xff, 0xfe, 0x00})
	if _, err := ReadFile(binary); err == nil {
		t.Error("expected error for non UTF-8 text")
	}

	broken := writeFile(t, "broken.pdf", []byte("not a pdf"))
	if _, err := ReadFile(broken); err == nil {
		t.Error("expected error for a broken pdf")
	}
}

func TestLoad_PDF(t *testing.T) {
	path := writeFile(t, "todo.PDF", minimalPDF("Buy milk", "Call mom", "Book dentist"))

	text, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if diff := cmp.Diff([]string{"Buy milk", "Call mom", "Book dentist"}, Items(text)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteLines(t *testing.T) {
	glyph := func(s string, y float64) pdf.Text { return pdf.Text{S: s, Y: y} }
	var b strings.Builder
	writeLines(&b, []pdf.Text{
		glyph("C", 700), glyph("a", 700.2),
		glyph("A", 720), glyph("b", 720),
		glyph("Z", 680),
	})
	if got, want := b.String(), "Ab\nCa\nZ\n"; got != want {
		t.Errorf("writeLines = %q, want %q", got, want)
	}

	b.Reset()
	writeLines(&b, nil)
	if b.Len() != 0 {
		t.Errorf("writeLines(nil) = %q, want empty", b.String())
	}
}
