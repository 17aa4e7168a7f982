package dispatch

import "testing"

func TestScopedKey_String(t *testing.T) {
	tests := []struct {
		key  ScopedKey
		want string
	}{
		{ScopedKey{Project: "p", Config: "c", Key: "k"}, "p/c/k"},
		{ScopedKey{Project: "p", Key: "k"}, "p/k"},
		{ScopedKey{Key: "k"}, "k"},
	}
	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestBuildState_ResolveExactAndBareMatch(t *testing.T) {
	k1 := ScopedKey{Project: "p", Key: "compile"}
	k2 := ScopedKey{Project: "q", Key: "compile"}
	bs := NewBuildState(
		BuildStructure{Projects: []string{"p", "q"}, Keys: []ScopedKey{k1, k2}},
		map[ScopedKey]KeyDefinition{
			k1: {Kind: KeyKindTask, Command: "go build p"},
			k2: {Kind: KeyKindTask, Command: "go build q"},
		},
	)

	exact := bs.Resolve("p/compile")
	if len(exact) != 1 || exact[0] != k1 {
		t.Fatalf("Resolve(p/compile) = %v, want [%v]", exact, k1)
	}

	bare := bs.Resolve("compile")
	if len(bare) != 2 {
		t.Fatalf("Resolve(compile) = %v, want 2 matches", bare)
	}
}

func TestBuildState_ResolveEmptyTextReturnsNil(t *testing.T) {
	bs := NewBuildState(BuildStructure{}, map[ScopedKey]KeyDefinition{})
	if got := bs.Resolve(""); len(got) != 0 {
		t.Errorf("Resolve(\"\") = %v, want empty", got)
	}
}

func TestBuildState_ResolveStarReturnsAll(t *testing.T) {
	k1 := ScopedKey{Key: "a"}
	k2 := ScopedKey{Key: "b"}
	bs := NewBuildState(
		BuildStructure{Keys: []ScopedKey{k1, k2}},
		map[ScopedKey]KeyDefinition{
			k1: {Kind: KeyKindSetting, Value: "1"},
			k2: {Kind: KeyKindSetting, Value: "2"},
		},
	)
	if got := bs.Resolve("*"); len(got) != 2 {
		t.Fatalf("Resolve(*) = %v, want 2 matches", got)
	}
}

func TestBuildState_Lookup(t *testing.T) {
	k := ScopedKey{Key: "version"}
	bs := NewBuildState(
		BuildStructure{Keys: []ScopedKey{k}},
		map[ScopedKey]KeyDefinition{k: {Kind: KeyKindSetting, Value: "1.0"}},
	)

	def, ok := bs.Lookup(k)
	if !ok || def.Value != "1.0" {
		t.Fatalf("Lookup(%v) = %v, %v", k, def, ok)
	}

	if _, ok := bs.Lookup(ScopedKey{Key: "missing"}); ok {
		t.Fatal("Lookup of missing key should return ok=false")
	}
}

func TestBuildState_Completions(t *testing.T) {
	k1 := ScopedKey{Project: "p", Key: "compile"}
	k2 := ScopedKey{Project: "p", Key: "console"}
	bs := NewBuildState(
		BuildStructure{Keys: []ScopedKey{k1, k2}},
		map[ScopedKey]KeyDefinition{
			k1: {Kind: KeyKindTask, Command: "build"},
			k2: {Kind: KeyKindTask, Command: "console"},
		},
	)

	got := bs.Completions("p/co", 0)
	if len(got) != 2 {
		t.Fatalf("Completions(p/co) = %v, want 2 matches", got)
	}
}

func TestBuildStructure_Equal(t *testing.T) {
	a := BuildStructure{Projects: []string{"p"}, Keys: []ScopedKey{{Key: "a"}}}
	b := BuildStructure{Projects: []string{"p"}, Keys: []ScopedKey{{Key: "a"}}}
	c := BuildStructure{Projects: []string{"q"}, Keys: []ScopedKey{{Key: "a"}}}

	if !a.Equal(b) {
		t.Error("expected a.Equal(b) to be true")
	}
	if a.Equal(c) {
		t.Error("expected a.Equal(c) to be false")
	}
}
