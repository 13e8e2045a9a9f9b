package render

import (
	"bytes"
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{"2026-08-23T10:00:01 [Error] handler threw", "ERROR"},
		{"2026-08-23T10:00:01 [Warning] slow response", "WARN"},
		{"2026-08-23T10:00:01 [Information] probe invoked", "INFO"},
		{"2026-08-23T10:00:01 [Verbose] binding resolved", "DEBUG"},
		{"level=debug msg=connected", "DEBUG"},
		{"CRITICAL: out of memory", "FATAL"},
		{"plain line with no level token", "INFO"},
		{"an unErrORed word does not trip the matcher", "INFO"},
		{"trace id abc", "TRACE"},
	}
	for _, tc := range cases {
		if got := Detect(tc.line); got != tc.want {
			t.Fatalf("Detect(%q) = %q, want %q", tc.line, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"warning":     "WARN",
		" WRN ":       "WARN",
		"Information": "INFO",
		"verbose":     "DEBUG",
		"critical":    "FATAL",
		"panic":       "FATAL",
		"err":         "ERROR",
		"made-up":     "INFO",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLineWriterPassthroughWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf, false)

	n, err := w.Write([]byte("[Error] boom\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("[Error] boom\n") {
		t.Fatalf("n = %d, want full length", n)
	}
	if buf.String() != "[Error] boom\n" {
		t.Fatalf("output = %q, want the exact input", buf.String())
	}
}

func TestLineWriterKeepsLineContentWithColor(t *testing.T) {
	// Styled output may or may not include escape codes depending on the
	// ambient terminal; the line text and trailing newline must survive
	// either way.
	var buf bytes.Buffer
	w := NewLineWriter(&buf, true)

	n, err := w.Write([]byte("[Error] boom\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("[Error] boom\n") {
		t.Fatalf("n = %d, want the input length per the io.Writer contract", n)
	}
	out := buf.String()
	if !strings.Contains(out, "[Error] boom") {
		t.Fatalf("output %q lost the line text", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("output %q lost the line terminator", out)
	}
}

func TestLineWriterLeavesInfoPlain(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf, true)

	if _, err := w.Write([]byte("[Information] all fine\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.String() != "[Information] all fine\n" {
		t.Fatalf("INFO line was altered: %q", buf.String())
	}
}

func TestShouldColor(t *testing.T) {
	if !ShouldColor("always", nil) {
		t.Fatal("always must force color on")
	}
	if ShouldColor("never", nil) {
		t.Fatal("never must force color off")
	}
}
