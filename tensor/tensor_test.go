package tensor

import "testing"

func TestAtSetRoundTrip(t *testing.T) {
	m := NewTensor(2, 3)
	m.Set(1.5, 1, 2)

	if got := m.At(1, 2); got != 1.5 {
		t.Errorf("Expected 1.5, got %f", got)
	}

	if m.Data[5] != 1.5 {
		t.Errorf("Expected row-major layout, Data[5]=%f", m.Data[5])
	}
}

func TestFlatIndexPanicsOnRankMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic for wrong index count")
		}
	}()

	m := NewTensor(2, 3)
	m.At(1)
}

func TestFromDataLengthMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic for mismatched data length")
		}
	}()

	FromData([]float32{1, 2, 3}, 2, 2)
}

func TestStack2RoundTrip(t *testing.T) {
	a := NewTensor(2, 3)
	b := NewTensor(2, 3)
	for i := range a.Data {
		a.Data[i] = float32(i)
		b.Data[i] = float32(i) + 100
	}

	stacked, err := Stack2(a, b)
	if err != nil {
		t.Fatalf("Stack2 failed: %v", err)
	}

	if !SameShape(stacked.Shape, []int{2, 2, 3}) {
		t.Errorf("Expected shape [2 2 3], got %v", stacked.Shape)
	}

	key, value, err := SplitLeading2(stacked)
	if err != nil {
		t.Fatalf("SplitLeading2 failed: %v", err)
	}

	for i := range a.Data {
		if key.Data[i] != a.Data[i] {
			t.Errorf("Key half mismatch at %d: got %f, want %f", i, key.Data[i], a.Data[i])
		}
		if value.Data[i] != b.Data[i] {
			t.Errorf("Value half mismatch at %d: got %f, want %f", i, value.Data[i], b.Data[i])
		}
	}
}

func TestStack2ShapeMismatch(t *testing.T) {
	if _, err := Stack2(NewTensor(2, 3), NewTensor(3, 2)); err == nil {
		t.Errorf("Expected error for mismatched shapes")
	}
}

func TestSplitLeading2RequiresAxisOfTwo(t *testing.T) {
	if _, _, err := SplitLeading2(NewTensor(3, 2)); err == nil {
		t.Errorf("Expected error for leading axis != 2")
	}
}

func TestCloneIsDetached(t *testing.T) {
	a := NewTensor(2, 2)
	a.Set(1, 0, 0)

	c := a.Clone()
	a.Set(9, 0, 0)

	if c.At(0, 0) != 1 {
		t.Errorf("Clone shares storage with original")
	}
}

func TestInt64Matrix(t *testing.T) {
	m := NewInt64(2, 2)
	m.Set(7, 1, 0)

	if got := m.At(1, 0); got != 7 {
		t.Errorf("Expected 7, got %d", got)
	}

	c := m.Clone()
	m.Set(3, 1, 0)
	if c.At(1, 0) != 7 {
		t.Errorf("Clone shares storage with original")
	}
}
