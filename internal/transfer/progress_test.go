package transfer

import (
	"strings"
	"testing"
)

func TestProgressWriter(t *testing.T) {
	var calls []int64
	fn := func(host string, transferred, total int64) {
		if host != "host1" || total != 100 {
			t.Errorf("callback got host=%q total=%d", host, total)
		}
		calls = append(calls, transferred)
	}

	var buf strings.Builder
	pw := newProgressWriter(&buf, "host1", 100, fn)
	pw.Write([]byte("hello"))
	pw.Write([]byte(" world"))

	if buf.String() != "hello world" {
		t.Errorf("written = %q, want %q", buf.String(), "hello world")
	}
	if len(calls) != 2 || calls[0] != 5 || calls[1] != 11 {
		t.Errorf("progress calls = %v, want [5 11]", calls)
	}
}

func TestProgressWriter_NilCallback(t *testing.T) {
	var buf strings.Builder
	pw := newProgressWriter(&buf, "h", 0, nil)
	if _, err := pw.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if pw.transferred != 1 {
		t.Errorf("transferred = %d", pw.transferred)
	}
}
