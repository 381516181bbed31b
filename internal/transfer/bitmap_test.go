package transfer

import "testing"

func TestBitmapBasics(t *testing.T) {
	b := NewBitmap(10)
	if b.LenBits() != 10 {
		t.Fatalf("LenBits mismatch: got %d", b.LenBits())
	}
	b.Set(0)
	b.Set(3)
	b.Set(9)
	b.Set(10)
	b.Set(-1)

	if !b.Get(0) || !b.Get(3) || !b.Get(9) {
		t.Fatalf("expected bits to be set")
	}
	if b.Get(1) || b.Get(8) || b.Get(10) {
		t.Fatalf("unexpected bits set")
	}
	if count := b.CountSet(); count != 3 {
		t.Fatalf("CountSet mismatch: got %d", count)
	}
}

func TestBitmapFirstClear(t *testing.T) {
	b := NewBitmap(10)
	idx, ok := b.FirstClear()
	if !ok || idx != 0 {
		t.Fatalf("FirstClear on empty = %d,%v", idx, ok)
	}
	for i := 0; i < 10; i++ {
		if i != 8 {
			b.Set(i)
		}
	}
	idx, ok = b.FirstClear()
	if !ok || idx != 8 {
		t.Fatalf("FirstClear = %d,%v want 8", idx, ok)
	}
	b.Set(8)
	if _, ok := b.FirstClear(); ok {
		t.Fatal("expected full bitmap")
	}
}

func TestBitmapEmpty(t *testing.T) {
	b := NewBitmap(0)
	if _, ok := b.FirstClear(); ok {
		t.Fatal("empty bitmap has no clear bit")
	}
	var nilMap *Bitmap
	if nilMap.Get(0) || nilMap.CountSet() != 0 || nilMap.LenBits() != 0 {
		t.Fatal("nil bitmap must be empty")
	}
}
