// Package objects provides the built-in MaterializedObject implementations
// transactions run against: a map, a set, and a counter. Each replays
// deterministically from its stream's SMR entries and declares per-operation
// conflict parameters so the same key space can be read and written under
// snapshot isolation.
package objects

import (
	"encoding/json"
	"fmt"

	"github.com/chn0318/txengine/engine"
)

const (
	mapPut    = "Put"
	mapRemove = "Remove"
	mapClear  = "Clear"
)

type mapPutArgs struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type mapRemoveArgs struct {
	Key string `json:"key"`
}

// Map is a string-keyed MaterializedObject. Conflicts are tracked per key,
// so two transactions touching disjoint keys never conflict with each other.
type Map struct {
	m map[string]json.RawMessage
}

// NewMap returns an empty transactional map.
func NewMap() *Map {
	return &Map{m: make(map[string]json.RawMessage)}
}

// Get reads key without going through Apply; callers obtain synchronized
// access to the Map via engine.Proxy.Access before calling this.
func (m *Map) Get(key string) (json.RawMessage, bool) {
	v, ok := m.m[key]
	return v, ok
}

// Keys returns a snapshot of the currently known keys.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.m))
	for k := range m.m {
		keys = append(keys, k)
	}
	return keys
}

func (m *Map) Apply(method string, args []byte) (result []byte, undo *engine.UndoRecord, err error) {
	switch method {
	case mapPut:
		var a mapPutArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, nil, err
		}
		prev, existed := m.m[a.Key]
		m.m[a.Key] = a.Value
		if existed {
			undoArgs, _ := json.Marshal(mapPutArgs{Key: a.Key, Value: prev})
			return nil, &engine.UndoRecord{Method: mapPut, Args: undoArgs}, nil
		}
		undoArgs, _ := json.Marshal(mapRemoveArgs{Key: a.Key})
		return nil, &engine.UndoRecord{Method: mapRemove, Args: undoArgs}, nil

	case mapRemove:
		var a mapRemoveArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, nil, err
		}
		prev, existed := m.m[a.Key]
		delete(m.m, a.Key)
		if !existed {
			return nil, &engine.UndoRecord{Method: mapClear, Args: nil}, nil
		}
		undoArgs, _ := json.Marshal(mapPutArgs{Key: a.Key, Value: prev})
		return nil, &engine.UndoRecord{Method: mapPut, Args: undoArgs}, nil

	case mapClear:
		// Used only as a no-op undo for removing an already-absent key.
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("objects: Map has no method %q", method)
	}
}

func (m *Map) ConflictParamsFor(method string, args []byte) []engine.ConflictParam {
	switch method {
	case mapPut:
		var a mapPutArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return []engine.ConflictParam{engine.ConflictAll}
		}
		return []engine.ConflictParam{a.Key}
	case mapRemove:
		var a mapRemoveArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return []engine.ConflictParam{engine.ConflictAll}
		}
		return []engine.ConflictParam{a.Key}
	default:
		return []engine.ConflictParam{engine.ConflictAll}
	}
}

func (m *Map) Reset() {
	m.m = make(map[string]json.RawMessage)
}

// MarshalPut builds the SMREntry args for a Put(key, value) mutation.
func MarshalPut(key string, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(mapPutArgs{Key: key, Value: raw})
}

// MarshalRemove builds the SMREntry args for a Remove(key) mutation.
func MarshalRemove(key string) ([]byte, error) {
	return json.Marshal(mapRemoveArgs{Key: key})
}

// MapMethodPut and MapMethodRemove name the SMR methods Map understands, for
// callers constructing entries directly.
const (
	MapMethodPut    = mapPut
	MapMethodRemove = mapRemove
)
