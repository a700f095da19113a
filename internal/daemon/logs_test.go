package daemon

import (
	"reflect"
	"testing"
)

func TestLogRing(t *testing.T) {
	r := NewLogRing(3)
	r.Write([]byte("one\ntw"))
	r.Write([]byte("o\r\nthree\n"))

	if got, want := r.Lines(), []string{"one", "two", "three"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}

	r.Write([]byte("four\nfive\n"))
	if got, want := r.Lines(), []string{"three", "four", "five"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() after wrap = %v, want %v", got, want)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(5)
	tb.Write([]byte("abc"))
	tb.Write([]byte("defg"))
	if got := tb.String(); got != "cdefg" {
		t.Errorf("String() = %q, want %q", got, "cdefg")
	}
}
