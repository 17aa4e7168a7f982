package buildengine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nugget/buildbridge/internal/dispatch"
)

// ciPrefix marks a command for the forge CI-status watcher; see
// internal/forge's Watcher for the full "ci:owner/repo@sha " grammar.
// Execute strips it before resolving the rest as a key or shell command,
// so the build engine itself stays unaware of GitHub.
const ciPrefix = "ci:"

// stripCIPrefix removes a leading "ci:owner/repo@sha " tag from command,
// if present, returning the remainder unchanged.
func stripCIPrefix(command string) string {
	if !strings.HasPrefix(command, ciPrefix) {
		return command
	}
	_, rest, found := strings.Cut(command[len(ciPrefix):], " ")
	if !found {
		return command
	}
	return rest
}

// keyFile is the on-disk declaration of a build's projects, settings, and
// tasks — the stand-in for the sbt-style build definition this server
// fronts. Read at Boot, and read again after every successful run of a
// declared task, so edits to the file are picked up without code changes.
type keyFile struct {
	Projects []string   `yaml:"projects"`
	Keys     []keyEntry `yaml:"keys"`
}

type keyEntry struct {
	Project string `yaml:"project"`
	Config  string `yaml:"config"`
	Key     string `yaml:"key"`
	Kind    string `yaml:"kind"`    // "setting" or "task"
	Command string `yaml:"command"` // shell command, for tasks
	Value   string `yaml:"value"`   // static initial value, for settings
	Updates string `yaml:"updates"` // optional: a setting key this task bumps; parsed but not consulted
}

// Runner implements dispatch.Engine by resolving command strings against a
// declared key table and shelling out for tasks. Settings take their values
// from the key file, which is re-read in full after a declared task
// succeeds.
type Runner struct {
	path  string
	shell *shellRunner
}

// NewRunner creates a Runner reading its key table from path, executing
// task commands under the given guardrails.
func NewRunner(path, workingDir string, allowedPrefixes, deniedPatterns []string, defaultTimeoutSec int) *Runner {
	return &Runner{
		path:  path,
		shell: newShellRunner(workingDir, allowedPrefixes, deniedPatterns, defaultTimeoutSec),
	}
}

// Boot reads and parses the key table, producing the initial BuildState.
func (r *Runner) Boot(ctx context.Context) (dispatch.BuildState, error) {
	return r.load()
}

func (r *Runner) load() (dispatch.BuildState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return dispatch.BuildState{}, fmt.Errorf("reading key file %s: %w", r.path, err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return dispatch.BuildState{}, fmt.Errorf("parsing key file %s: %w", r.path, err)
	}

	defs := make(map[dispatch.ScopedKey]dispatch.KeyDefinition, len(kf.Keys))
	keys := make([]dispatch.ScopedKey, 0, len(kf.Keys))
	for _, e := range kf.Keys {
		sk := dispatch.ScopedKey{Project: e.Project, Config: e.Config, Key: e.Key}
		def := dispatch.KeyDefinition{Command: e.Command, Value: e.Value}
		switch e.Kind {
		case "task":
			def.Kind = dispatch.KeyKindTask
		default:
			def.Kind = dispatch.KeyKindSetting
		}
		defs[sk] = def
		keys = append(keys, sk)
	}

	structure := dispatch.BuildStructure{Projects: kf.Projects, Keys: keys}
	return dispatch.NewBuildState(structure, defs), nil
}

// Execute resolves command against current's key table. An exact match on
// a task key runs that task's shell command; anything else is run directly
// as a shell command, so ad hoc commands not declared in the key table
// still work, mirroring a build tool's ability to run free-form task
// expressions. When a declared task succeeds, the whole key file is re-read
// and returned as the new BuildState (whatever the task's Updates field
// says); if that re-read fails, current is returned unchanged with no error.
func (r *Runner) Execute(ctx context.Context, command string, current dispatch.BuildState) (dispatch.BuildState, error) {
	command = stripCIPrefix(command)
	matches := current.Resolve(command)

	shellCmd := command
	var matchedTask *dispatch.ScopedKey
	if len(matches) == 1 {
		if def, ok := current.Lookup(matches[0]); ok && def.Kind == dispatch.KeyKindTask {
			shellCmd = def.Command
			k := matches[0]
			matchedTask = &k
		}
	}

	_, err := r.shell.run(ctx, shellCmd)
	if err != nil {
		return current, err
	}

	if matchedTask == nil {
		return current, nil
	}

	// Refresh the full key table so any setting edited in the file is
	// picked up; this is cheap since the key file is small and
	// local, and keeps the engine stateless between commands.
	fresh, loadErr := r.load()
	if loadErr != nil {
		return current, nil
	}
	return fresh, nil
}
