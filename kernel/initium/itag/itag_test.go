package itag

import "testing"

func TestRegistryAddDuplicates(t *testing.T) {
	var r Registry

	if !r.Add(Image, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatal("expected first Image tag to be accepted")
	}
	if r.Add(Image, []byte{1}) {
		t.Fatal("expected second Image tag to be rejected (no duplicates allowed)")
	}

	if !r.Add(Option, []byte{0}) {
		t.Fatal("expected first Option tag to be accepted")
	}
	if !r.Add(Option, []byte{1}) {
		t.Fatal("expected second Option tag to be accepted (duplicates allowed)")
	}

	if got := len(r.All(Option)); got != 2 {
		t.Fatalf("expected 2 option tags, got %d", got)
	}
	if got := r.Count(); got != 3 {
		t.Fatalf("expected 3 total tags, got %d", got)
	}
}

func TestRegistryFirstOnEmpty(t *testing.T) {
	var r Registry

	if _, ok := r.First(Load); ok {
		t.Fatal("expected First on an empty registry to report not-found")
	}
	if all := r.All(Mapping); all != nil {
		t.Fatalf("expected All on an empty registry to return nil, got %v", all)
	}
}

func TestOptionValueNaturalSize(t *testing.T) {
	specs := []struct {
		typ  OptionType
		val  OptionValue
		want uint32
	}{
		{OptionBoolean, OptionValue{Bool: true}, 1},
		{OptionString, OptionValue{String: "root"}, 5},
		{OptionString, OptionValue{String: ""}, 1},
		{OptionInteger, OptionValue{Integer: 42}, 8},
	}

	for _, spec := range specs {
		if got := spec.val.NaturalSize(spec.typ); got != spec.want {
			t.Errorf("NaturalSize(%v, %+v) = %d, want %d", spec.typ, spec.val, got, spec.want)
		}
	}
}

func TestMinSize(t *testing.T) {
	if _, ok := MinSize(Type(99)); ok {
		t.Fatal("expected MinSize of an unknown type to report not-found")
	}
	if size, ok := MinSize(Load); !ok || size == 0 {
		t.Fatalf("expected a non-zero MinSize for Load, got %d, %t", size, ok)
	}
}
