package runner

import "testing"

func TestRingBufferWithinCapacity(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte("hello"))
	if got := rb.String(); got != "hello" {
		t.Errorf("String() = %q, want hello", got)
	}
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Write([]byte("abcdef")) // overflows by 2, should keep last 4: "cdef"
	if got := rb.String(); got != "cdef" {
		t.Errorf("String() = %q, want cdef", got)
	}
}

func TestRingBufferMultipleWritesWrap(t *testing.T) {
	rb := NewRingBuffer(5)
	rb.Write([]byte("abc"))
	rb.Write([]byte("de"))
	rb.Write([]byte("fg")) // total "abcdefg", last 5 = "cdefg"
	if got := rb.String(); got != "cdefg" {
		t.Errorf("String() = %q, want cdefg", got)
	}
}
