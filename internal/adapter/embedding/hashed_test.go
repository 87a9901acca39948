package embedding

import (
	"math"
	"reflect"
	"testing"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestEmbedDimensionAndNorm(t *testing.T) {
	e := NewHashedEmbedder(64)
	v := e.Embed("alpha beta gamma alpha")
	if len(v) != 64 {
		t.Fatalf("expected dim 64, got %d", len(v))
	}
	if n := norm(v); math.Abs(n-1.0) > 1e-6 {
		t.Errorf("expected unit norm, got %v", n)
	}
}

func TestEmbedDeterministic(t *testing.T) {
	e := NewHashedEmbedder(32)
	a := e.Embed("the quick brown fox")
	b := e.Embed("the quick brown fox")
	if !reflect.DeepEqual(a, b) {
		t.Error("embedding is not deterministic")
	}
}

func TestEmbedEmptyIsZeroVector(t *testing.T) {
	e := NewHashedEmbedder(16)
	v := e.Embed("")
	if len(v) != 16 {
		t.Fatalf("expected dim 16, got %d", len(v))
	}
	if n := norm(v); n != 0 {
		t.Errorf("expected zero vector, got norm %v", n)
	}
	// Punctuation-only text tokenizes to nothing as well.
	if n := norm(e.Embed("... !!! ...")); n != 0 {
		t.Errorf("expected zero vector, got norm %v", n)
	}
}

func TestEmbedNonNegative(t *testing.T) {
	e := NewHashedEmbedder(8)
	for _, text := range []string{"apple banana", "中文内容测试", "mixed 中文 words"} {
		for i, x := range e.Embed(text) {
			if x < 0 {
				t.Errorf("negative entry %v at bucket %d for %q", x, i, text)
			}
		}
	}
}

func TestEmbedCosineDisjointTokens(t *testing.T) {
	// With a dimension far larger than the token count, disjoint token sets
	// should land in disjoint buckets and score zero against each other.
	e := NewHashedEmbedder(4096)
	a := e.Embed("apple")
	b := e.Embed("cherry")
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot != 0 {
		t.Errorf("expected zero similarity, got %v", dot)
	}
}

func TestEmbedDefaultDimension(t *testing.T) {
	e := NewHashedEmbedder(0)
	if e.Dimension() != DefaultDimension {
		t.Errorf("expected default dimension %d, got %d", DefaultDimension, e.Dimension())
	}
}

func TestFNV1aKnownValues(t *testing.T) {
	// Reference values for the 32-bit FNV-1a parameters.
	cases := map[string]uint32{
		"":    2166136261,
		"a":   0xE40C292C,
		"foo": 0xA9F37ED7,
	}
	for in, want := range cases {
		if got := fnv1a(in); got != want {
			t.Errorf("fnv1a(%q) = %#x, want %#x", in, got, want)
		}
	}
}
