package embedding

import (
	"math"
	"testing"
)

func TestPseudoEmbedding_Deterministic(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("gid://shopify/Product/1"),
		[]byte("\x89PNG\r\n\x1a\n some image bytes"),
		make([]byte, 4096),
	}

	for _, in := range inputs {
		a := PseudoEmbedding(in, 512)
		b := PseudoEmbedding(in, 512)

		if len(a) != 512 {
			t.Fatalf("expected 512 dims, got %d", len(a))
		}
		for i := range a {
			if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
				t.Fatalf("input %q: element %d differs: %v vs %v", in, i, a[i], b[i])
			}
		}

		if n := Norm(a); math.Abs(n-1) > 1e-5 {
			t.Errorf("input %q: expected unit norm, got %f", in, n)
		}
	}
}

func TestPseudoEmbedding_KnownValues(t *testing.T) {
	// sha256("hello")[0:8] big-endian seeds xorshift64 13/7/17; low 32 bits
	// map to (v%100000)/100000-0.5, then L2 normalization.
	want := []float32{0.0273483619, -0.715815902, -0.578730524, -0.389782876}

	got := PseudoEmbedding([]byte("hello"), 4)
	if len(got) != len(want) {
		t.Fatalf("expected %d dims, got %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("element %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestPseudoEmbedding_DistinctInputs(t *testing.T) {
	a := PseudoEmbedding([]byte("image-a"), 64)
	b := PseudoEmbedding([]byte("image-b"), 64)

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected different vectors for different inputs")
	}
}

func TestPseudoEmbedding_Range(t *testing.T) {
	v := PseudoEmbedding([]byte("range"), 256)
	for i, x := range v {
		if x < -1 || x > 1 {
			t.Fatalf("element %d out of range: %v", i, x)
		}
	}
}

func TestPseudoEmbedding_ZeroDim(t *testing.T) {
	if v := PseudoEmbedding([]byte("x"), 0); v != nil {
		t.Errorf("expected nil for zero dimension, got %v", v)
	}
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	if !NormalizeL2(v) {
		t.Fatal("expected normalization to succeed")
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("unexpected normalized vector %v", v)
	}

	zero := []float32{0, 0, 0}
	if NormalizeL2(zero) {
		t.Error("expected zero vector to be left untouched")
	}
}
