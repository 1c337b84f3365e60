package validate

import "testing"

type sample struct {
	Title string `json:"title" validate:"notblank,max=10"`
	Kind  string `json:"kind" validate:"omitempty,oneof=a b"`
	Count int    `json:"count" validate:"min=1"`
}

func TestStructValid(t *testing.T) {
	if errs := Struct(sample{Title: "ok", Kind: "a", Count: 1}); errs != nil {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestStructUsesJSONNames(t *testing.T) {
	errs := Struct(sample{Title: "   ", Kind: "z", Count: 0})
	if errs == nil {
		t.Fatalf("expected errors")
	}
	for _, field := range []string{"title", "kind", "count"} {
		if _, ok := errs[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, errs)
		}
	}
	if errs["title"] != "مطلوب" {
		t.Fatalf("expected blank title to be reported as required, got %q", errs["title"])
	}
}
