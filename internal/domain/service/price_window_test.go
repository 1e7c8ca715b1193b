package service

import "testing"

func TestPriceWindowEvictsOldest(t *testing.T) {
	w := NewPriceWindow(3)
	for _, p := range []float64{1, 2, 3, 4, 5} {
		w.Push(p)
	}

	got := w.Values()
	want := []float64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestPriceWindowDefaultCapacity(t *testing.T) {
	w := NewPriceWindow(0)
	for i := 0; i < 100; i++ {
		w.Push(float64(i))
	}
	if w.Len() != DefaultWindowSize {
		t.Fatalf("expected len %d, got %d", DefaultWindowSize, w.Len())
	}
	if v := w.Values()[0]; v != 40 {
		t.Errorf("expected oldest sample 40, got %v", v)
	}
}

func TestPriceWindowMaxAndMean(t *testing.T) {
	w := NewPriceWindow(5)
	if _, ok := w.Max(); ok {
		t.Fatal("empty window should have no max")
	}
	for _, p := range []float64{10, 30, 20, 40} {
		w.Push(p)
	}
	if m, _ := w.Max(); m != 40 {
		t.Errorf("expected max 40, got %v", m)
	}
	if mean, ok := w.Mean(2); !ok || mean != 30 {
		t.Errorf("expected mean of last 2 = 30, got %v (ok=%v)", mean, ok)
	}
	if _, ok := w.Mean(5); ok {
		t.Error("mean over more samples than held should not be ok")
	}
}
