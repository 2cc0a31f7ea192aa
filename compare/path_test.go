package compare

import "testing"

func TestParsePath(t *testing.T) {
	got := parsePath(".a.b[2].c")
	want := []any{"a", "b", 2, "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("segment %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGetSetDeletePath(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{
			"b": []any{float64(1), float64(2), float64(3)},
		},
	}
	acc := parsePath(".a.b[1]")

	v, ok := getPath(doc, acc)
	if !ok || v != float64(2) {
		t.Fatalf("getPath = %v, %v", v, ok)
	}

	if !setPath(doc, acc, float64(99)) {
		t.Fatal("setPath failed")
	}
	v, _ = getPath(doc, acc)
	if v != float64(99) {
		t.Fatalf("after setPath, got %v", v)
	}

	if !deletePath(doc, acc) {
		t.Fatal("deletePath failed")
	}
	v, _ = getPath(doc, acc)
	if v != nil {
		t.Fatalf("after deletePath, got %v, want nil", v)
	}
}

func TestDeletePathObjectField(t *testing.T) {
	doc := map[string]any{"x": float64(1), "y": float64(2)}
	if !deletePath(doc, parsePath(".x")) {
		t.Fatal("deletePath failed")
	}
	if _, ok := doc["x"]; ok {
		t.Fatal("expected key x to be removed")
	}
}

func TestGetPathMissing(t *testing.T) {
	doc := map[string]any{"a": float64(1)}
	if _, ok := getPath(doc, parsePath(".missing")); ok {
		t.Fatal("expected missing path to report false")
	}
}
