package canonicalize

import (
	"testing"
)

func TestJCS_SortsKeys(t *testing.T) {
	in := map[string]interface{}{
		"zebra": 1,
		"alpha": 2,
		"mike":  3,
	}

	out, err := JCS(in)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	want := `{"alpha":2,"mike":3,"zebra":1}`
	if string(out) != want {
		t.Errorf("expected %s, got %s", want, out)
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	in := map[string]string{"url": "https://example.com/a?b=1&c=<2>"}

	out, err := JCS(in)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	want := `{"url":"https://example.com/a?b=1&c=<2>"}`
	if string(out) != want {
		t.Errorf("expected %s, got %s", want, out)
	}
}

func TestJCS_StructTags(t *testing.T) {
	type record struct {
		Second string `json:"second"`
		First  string `json:"first"`
		Skip   string `json:"-"`
	}

	out, err := JCS(record{Second: "b", First: "a", Skip: "x"})
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	want := `{"first":"a","second":"b"}`
	if string(out) != want {
		t.Errorf("expected %s, got %s", want, out)
	}
}

func TestCanonicalHash_Deterministic(t *testing.T) {
	in := map[string]interface{}{
		"nested": map[string]interface{}{"b": 2, "a": 1},
		"list":   []interface{}{"x", "y"},
	}

	h1, err := CanonicalHash(in)
	if err != nil {
		t.Fatalf("CanonicalHash failed: %v", err)
	}
	h2, err := CanonicalHash(in)
	if err != nil {
		t.Fatalf("CanonicalHash failed: %v", err)
	}

	if h1 != h2 {
		t.Errorf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestCanonicalHash_OrderIndependent(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": "two"}
	b := map[string]interface{}{"y": "two", "x": 1}

	ha, _ := CanonicalHash(a)
	hb, _ := CanonicalHash(b)
	if ha != hb {
		t.Errorf("equivalent maps hash differently: %s vs %s", ha, hb)
	}
}
