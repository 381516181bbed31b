package bufpool

import (
	"testing"
)

func TestPool_GetPut(t *testing.T) {
	bufSize := 4096
	pool := New(bufSize)

	buf1 := pool.Get()
	if len(buf1) != bufSize {
		t.Errorf("expected buffer length %d, got %d", bufSize, len(buf1))
	}
	pool.Put(buf1)

	buf2 := pool.Get()
	if len(buf2) != bufSize {
		t.Errorf("expected buffer length %d, got %d", bufSize, len(buf2))
	}
	if pool.BufSize() != bufSize {
		t.Errorf("expected BufSize %d, got %d", bufSize, pool.BufSize())
	}
}

func TestPool_DiscardsSmallBuffers(t *testing.T) {
	pool := New(1024)
	pool.Put(make([]byte, 16))
	if got := len(pool.Get()); got != 1024 {
		t.Fatalf("expected 1024-byte buffer, got %d", got)
	}
}

func TestFor_SharesPoolPerSize(t *testing.T) {
	a := For(64 * 1024)
	b := For(64 * 1024)
	c := For(16 * 1024)
	if a != b {
		t.Fatal("expected the same pool for equal sizes")
	}
	if a == c {
		t.Fatal("expected distinct pools for different sizes")
	}
	if c.BufSize() != 16*1024 {
		t.Fatalf("BufSize = %d, want %d", c.BufSize(), 16*1024)
	}
}

func TestNew_PanicsOnNonPositive(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(0)
}
