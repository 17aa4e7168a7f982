package dispatch

import "fmt"

// Value holds a resolved setting's current value. It is opaque to the
// dispatcher beyond equality checks used to decide whether to emit a
// ValueChange notification.
type Value = any

// ScopedKey identifies a single setting or task within a build, scoped by
// project and configuration the way sbt-style build tools address keys
// (e.g. "root/Compile/compile"). It is a plain comparable value so it can
// be used directly as a map key in ServerState.keyListeners.
type ScopedKey struct {
	Project string
	Config  string
	Key     string
}

// String renders the key in "project/config/key" form. An empty Config is
// omitted ("project/key"), and an empty Project with an empty Config gives
// just "key"; an empty Project with a non-empty Config gives "/config/key".
func (k ScopedKey) String() string {
	switch {
	case k.Project == "" && k.Config == "":
		return k.Key
	case k.Config == "":
		return fmt.Sprintf("%s/%s", k.Project, k.Key)
	default:
		return fmt.Sprintf("%s/%s/%s", k.Project, k.Config, k.Key)
	}
}

// KeyKind distinguishes a setting (has a value) from a task (has a
// renderable command).
type KeyKind int

const (
	// KeyKindSetting is a key whose value is read, not executed.
	KeyKindSetting KeyKind = iota
	// KeyKindTask is a key backed by a command to execute.
	KeyKindTask
)

// KeyDefinition is what a ScopedKey resolves to within a BuildState.
type KeyDefinition struct {
	Kind KeyKind

	// Value holds the current value for a KeyKindSetting key.
	Value Value

	// Command holds the already-rendered shell command for a
	// KeyKindTask key. Rendering happens Engine-side when BuildState is
	// constructed, so the Reader never needs to call back into the
	// Engine to schedule a task's execution.
	Command string
}

// BuildStructure is the read-only project/configuration/key shape the
// Reader hands back for ListenToBuildChange and diffs to decide whether to
// emit BuildStructureChanged.
type BuildStructure struct {
	Projects []string
	Keys     []ScopedKey
}

// Equal reports whether two BuildStructure values describe the same shape,
// used to decide whether a BuildStructureChanged notification is due.
func (b BuildStructure) Equal(o BuildStructure) bool {
	if len(b.Projects) != len(o.Projects) || len(b.Keys) != len(o.Keys) {
		return false
	}
	for i, p := range b.Projects {
		if o.Projects[i] != p {
			return false
		}
	}
	for i, k := range b.Keys {
		if o.Keys[i] != k {
			return false
		}
	}
	return true
}

// BuildState is the Engine's opaque post-command snapshot. It is read-only
// from the Reader's perspective; every Reader access goes through Resolve,
// Lookup, or Completions rather than touching fields directly, matching
// §6's narrow-interface requirement for the build-engine collaborator.
type BuildState struct {
	Structure   BuildStructure
	definitions map[ScopedKey]KeyDefinition
}

// NewBuildState constructs a BuildState from a structure and its key
// definitions. Used by Engine implementations after a successful load or
// command.
func NewBuildState(structure BuildStructure, definitions map[ScopedKey]KeyDefinition) BuildState {
	return BuildState{Structure: structure, definitions: definitions}
}

// Lookup resolves a single ScopedKey to its definition.
func (b BuildState) Lookup(key ScopedKey) (KeyDefinition, bool) {
	def, ok := b.definitions[key]
	return def, ok
}

// Resolve parses free text into the list of keys it names. Unparseable
// text yields an empty, non-error result per §7 (ParseFailure normalizes
// to an empty result set, never an error reply). Supported forms: an exact
// "project/config/key" or "project/key" or "key", or a bare "*" to match
// every key. Wildcards combined with other text are not supported.
func (b BuildState) Resolve(text string) []ScopedKey {
	if text == "" {
		return nil
	}
	if text == "*" {
		out := make([]ScopedKey, 0, len(b.definitions))
		for k := range b.definitions {
			out = append(out, k)
		}
		return sortedKeys(out)
	}
	var out []ScopedKey
	for k := range b.definitions {
		if k.String() == text || k.Key == text {
			out = append(out, k)
		}
	}
	return sortedKeys(out)
}

// Completions computes tab-completion candidates for a partial command
// line. level is reserved for source-compatible callers that distinguish
// completion verbosity; this implementation treats any level uniformly.
func (b BuildState) Completions(line string, level int) []string {
	_ = level
	var out []string
	for k := range b.definitions {
		s := k.String()
		if len(line) == 0 || hasPrefix(s, line) {
			out = append(out, s)
		}
	}
	return sortedStrings(out)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func sortedKeys(keys []ScopedKey) []ScopedKey {
	// Deterministic ordering keeps KeyLookupResponse reproducible for
	// tests and clients alike; the set is typically tiny so a simple
	// insertion sort avoids pulling in sort for three comparisons.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1].String() > keys[j].String(); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func sortedStrings(s []string) []string {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
	return s
}
