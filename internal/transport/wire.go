// Package transport exposes the dispatcher over a websocket connection per
// client, translating the wire JSON protocol to and from dispatch.Request,
// dispatch.Event, and dispatch.Response values.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/nugget/buildbridge/internal/dispatch"
)

// wireRequest is the envelope a client sends. Serial correlates the
// eventual reply; Type selects which payload fields apply.
type wireRequest struct {
	Serial uint64 `json:"serial"`
	Type   string `json:"type"`

	Text    string            `json:"text,omitempty"`
	Key     *wireScopedKey    `json:"key,omitempty"`
	ID      string            `json:"id,omitempty"`
	Line    string            `json:"line,omitempty"`
	Level   int               `json:"level,omitempty"`
	Command string            `json:"command,omitempty"`
	WorkID  uint64            `json:"work_id,omitempty"`
}

type wireScopedKey struct {
	Project string `json:"project,omitempty"`
	Config  string `json:"config,omitempty"`
	Key     string `json:"key"`
}

func (k wireScopedKey) toDispatch() dispatch.ScopedKey {
	return dispatch.ScopedKey{Project: k.Project, Config: k.Config, Key: k.Key}
}

func fromDispatchKey(k dispatch.ScopedKey) wireScopedKey {
	return wireScopedKey{Project: k.Project, Config: k.Config, Key: k.Key}
}

// decodeRequest converts a wire envelope's fields into a dispatch.Request.
func decodeRequest(w wireRequest) (dispatch.Request, error) {
	switch w.Type {
	case "listen_to_events":
		return dispatch.ListenToEvents{}, nil
	case "listen_to_build_change":
		return dispatch.ListenToBuildChange{}, nil
	case "key_lookup":
		return dispatch.KeyLookup{Text: w.Text}, nil
	case "listen_to_value":
		if w.Key == nil {
			return nil, fmt.Errorf("listen_to_value requires a key")
		}
		return dispatch.ListenToValue{Key: w.Key.toDispatch()}, nil
	case "command_completions":
		return dispatch.CommandCompletions{ID: w.ID, Line: w.Line, Level: w.Level}, nil
	case "execution":
		return dispatch.Execution{Command: w.Command}, nil
	case "cancel":
		return dispatch.Cancel{ID: w.WorkID}, nil
	default:
		return nil, fmt.Errorf("unknown request type %q", w.Type)
	}
}

// wireEvent is the envelope pushed unsolicited to a client.
type wireEvent struct {
	Type      string         `json:"type"`
	Structure *wireStructure `json:"structure,omitempty"`
	ID        uint64         `json:"id,omitempty"`
	Key       *wireScopedKey `json:"key,omitempty"`
	Value     any            `json:"value,omitempty"`
	Depth     int            `json:"depth,omitempty"`
}

type wireStructure struct {
	Projects []string        `json:"projects"`
	Keys     []wireScopedKey `json:"keys"`
}

func fromDispatchStructure(s dispatch.BuildStructure) wireStructure {
	keys := make([]wireScopedKey, len(s.Keys))
	for i, k := range s.Keys {
		keys[i] = fromDispatchKey(k)
	}
	return wireStructure{Projects: s.Projects, Keys: keys}
}

func encodeEvent(ev dispatch.Event) wireEvent {
	switch e := ev.(type) {
	case dispatch.NowListening:
		return wireEvent{Type: "now_listening"}
	case dispatch.BuildLoaded:
		return wireEvent{Type: "build_loaded"}
	case dispatch.BuildStructureChanged:
		s := fromDispatchStructure(e.Structure)
		return wireEvent{Type: "build_structure_changed", Structure: &s}
	case dispatch.ExecutionSuccess:
		return wireEvent{Type: "execution_success", ID: e.ID}
	case dispatch.ExecutionFailure:
		return wireEvent{Type: "execution_failure", ID: e.ID}
	case dispatch.ValueChange:
		k := fromDispatchKey(e.Key)
		return wireEvent{Type: "value_change", Key: &k, Value: e.Value}
	case dispatch.WorkQueueChanged:
		return wireEvent{Type: "work_queue_changed", Depth: e.Depth}
	default:
		return wireEvent{Type: "unknown"}
	}
}

// wireReply is the envelope sent in answer to a wireRequest.
type wireReply struct {
	Serial      uint64          `json:"serial"`
	Type        string          `json:"type"`
	Message     string          `json:"message,omitempty"`
	Text        string          `json:"text,omitempty"`
	Keys        []wireScopedKey `json:"keys,omitempty"`
	Key         *wireScopedKey  `json:"key,omitempty"`
	Structure   *wireStructure  `json:"structure,omitempty"`
	ID          string          `json:"id,omitempty"`
	Completions []string        `json:"completions,omitempty"`
	WorkID      uint64          `json:"work_id,omitempty"`
}

func encodeReply(r dispatch.Reply) wireReply {
	out := wireReply{Serial: r.Serial}
	switch resp := r.Response.(type) {
	case dispatch.ErrorResponse:
		out.Type = "error"
		out.Message = resp.Message
	case dispatch.KeyLookupResponse:
		out.Type = "key_lookup"
		out.Text = resp.Text
		out.Keys = make([]wireScopedKey, len(resp.Keys))
		for i, k := range resp.Keys {
			out.Keys[i] = fromDispatchKey(k)
		}
	case dispatch.KeyNotFoundResponse:
		out.Type = "key_not_found"
		k := fromDispatchKey(resp.Key)
		out.Key = &k
	case dispatch.BuildStructureResponse:
		out.Type = "build_structure"
		s := fromDispatchStructure(resp.Structure)
		out.Structure = &s
	case dispatch.CommandCompletionsResponse:
		out.Type = "command_completions"
		out.ID = resp.ID
		out.Completions = resp.Completions
	case dispatch.ExecutionRequestReceived:
		out.Type = "execution_request_received"
		out.WorkID = resp.ID
	default:
		out.Type = "unknown"
	}
	return out
}

func marshalEvent(ev dispatch.Event) ([]byte, error) {
	return json.Marshal(encodeEvent(ev))
}

func marshalReply(r dispatch.Reply) ([]byte, error) {
	return json.Marshal(encodeReply(r))
}
