package output_test

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/ajaxzhan/agentsh/internal/output"
)

func makeLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	return lines
}

func TestWindow_FitsWithinBudget(t *testing.T) {
	lines := makeLines(5)
	w := output.MakeWindow(lines, 10)

	if !reflect.DeepEqual(w.Head, lines) {
		t.Errorf("Head = %v, want full input", w.Head)
	}
	if len(w.Tail) != 0 {
		t.Errorf("Tail = %v, want empty", w.Tail)
	}
	if w.Truncated {
		t.Error("Truncated = true, want false")
	}
	if w.TotalLines != 5 {
		t.Errorf("TotalLines = %d, want 5", w.TotalLines)
	}
}

func TestWindow_ExactFit(t *testing.T) {
	lines := makeLines(30)
	w := output.MakeWindow(lines, 30)

	if w.Truncated {
		t.Error("exact fit should not truncate")
	}
	if len(w.Head) != 30 || len(w.Tail) != 0 {
		t.Errorf("head/tail = %d/%d, want 30/0", len(w.Head), len(w.Tail))
	}
}

func TestWindow_OneOverBudget(t *testing.T) {
	lines := makeLines(31)
	w := output.MakeWindow(lines, 30)

	if !w.Truncated {
		t.Error("total+1 should truncate")
	}
	if len(w.Head) != 10 {
		t.Errorf("len(Head) = %d, want 10", len(w.Head))
	}
	if len(w.Tail) != 20 {
		t.Errorf("len(Tail) = %d, want 20", len(w.Tail))
	}
	if w.Head[0] != "line 0" {
		t.Errorf("Head[0] = %q, want line 0", w.Head[0])
	}
	if w.Tail[19] != "line 30" {
		t.Errorf("Tail[19] = %q, want line 30", w.Tail[19])
	}
}

func TestWindow_Truncation(t *testing.T) {
	lines := makeLines(500)
	w := output.MakeWindow(lines, 30)

	if w.TotalLines != 500 {
		t.Errorf("TotalLines = %d, want 500", w.TotalLines)
	}
	if !w.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(w.Head) != 10 || len(w.Tail) != 20 {
		t.Errorf("head/tail = %d/%d, want 10/20", len(w.Head), len(w.Tail))
	}
	if w.Head[0] != "line 0" {
		t.Errorf("Head[0] = %q", w.Head[0])
	}
	if w.Tail[19] != "line 499" {
		t.Errorf("Tail[19] = %q, want line 499", w.Tail[19])
	}
}

func TestWindow_ZeroBudget(t *testing.T) {
	lines := makeLines(3)
	w := output.MakeWindow(lines, 0)

	if len(w.Head)+len(w.Tail) != 0 {
		t.Errorf("budget 0 returned %d lines", len(w.Head)+len(w.Tail))
	}
	if !w.Truncated {
		t.Error("budget 0 over non-empty input should truncate")
	}
}

func TestWindow_BudgetBelowHeadReserve(t *testing.T) {
	lines := makeLines(100)
	w := output.MakeWindow(lines, 7)

	// The head reserve shrinks to the budget; nothing is left for tail.
	if len(w.Head) != 7 {
		t.Errorf("len(Head) = %d, want 7", len(w.Head))
	}
	if len(w.Tail) != 0 {
		t.Errorf("len(Tail) = %d, want 0", len(w.Tail))
	}
}

func TestWindow_HeadTailWithinBudget(t *testing.T) {
	for _, budget := range []int{0, 1, 10, 11, 30, 100} {
		w := output.MakeWindow(makeLines(250), budget)
		if got := len(w.Head) + len(w.Tail); got > budget {
			t.Errorf("budget %d: head+tail = %d lines", budget, got)
		}
	}
}

func TestWindow_ErrorLinesFromFullInput(t *testing.T) {
	lines := makeLines(100)
	lines[50] = "error: something broke in the middle"
	w := output.MakeWindow(lines, 20)

	// Line 50 is in neither head nor tail, but the error scan covers the
	// full input.
	if len(w.ErrorLines) != 1 || w.ErrorLines[0] != lines[50] {
		t.Errorf("ErrorLines = %v, want the mid-output error", w.ErrorLines)
	}
}

func TestExtractErrors(t *testing.T) {
	lines := []string{
		"compiling module",
		"Error: cannot find symbol",
		"test FAILED with code 3",
		"warning: unused variable",
		"panic: runtime error",
		"Permission denied",
		"job aborted",
		"all good here",
		"errors are plural and do not match",
	}
	got := output.ExtractErrors(lines)
	want := []string{
		"Error: cannot find symbol",
		"test FAILED with code 3",
		"panic: runtime error",
		"Permission denied",
		"job aborted",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractErrors = %v, want %v", got, want)
	}
}

func TestExtractErrors_WordBoundary(t *testing.T) {
	// Substrings inside larger words must not match.
	for _, line := range []string{"terror threat level", "unfailing dedication"} {
		if got := output.ExtractErrors([]string{line}); len(got) != 0 {
			t.Errorf("ExtractErrors(%q) = %v, want none", line, got)
		}
	}
}

func TestStripANSI(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"\x1b[31mred text\x1b[0m", "red text"},
		{"\x1b[1;32mbold green\x1b[0m plain", "bold green plain"},
		{"\x1b]0;window title\x07visible", "visible"},
		{"\x1b(Bplain", "plain"},
		{"\x1bMreverse index", "reverse index"},
		{"bold\x08b", "bolb"},
		{"no escapes here", "no escapes here"},
		{"\x1b[?25hcursor shown", "cursor shown"},
	}
	for _, c := range cases {
		if got := output.StripANSI(c.in); got != c.want {
			t.Errorf("StripANSI(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStripANSI_Idempotent(t *testing.T) {
	inputs := []string{
		"\x1b[31mred\x1b[0m",
		"plain",
		"\x1b]0;title\x07text",
	}
	for _, in := range inputs {
		once := output.StripANSI(in)
		twice := output.StripANSI(once)
		if once != twice {
			t.Errorf("StripANSI not idempotent on %q: %q vs %q", in, once, twice)
		}
	}
}

func TestCleanLine(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello\r\n", "hello"},
		{"hello\n", "hello"},
		{"hello\r", "hello"},
		{"\x1b[32mok\x1b[0m\r\n", "ok"},
		{"", ""},
	}
	for _, c := range cases {
		if got := output.CleanLine(c.in); got != c.want {
			t.Errorf("CleanLine(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCleanLine_Idempotent(t *testing.T) {
	for _, in := range []string{"x\r\n", "y\n\n", "z"} {
		once := output.CleanLine(in)
		if twice := output.CleanLine(once); once != twice {
			t.Errorf("CleanLine not idempotent on %q", in)
		}
	}
}
