package objects

import (
	"encoding/json"
	"fmt"

	"github.com/chn0318/txengine/engine"
)

const (
	setAdd    = "Add"
	setRemove = "Remove"
)

type setElemArgs struct {
	Elem string `json:"elem"`
}

// Set is a string-element MaterializedObject, conflict-tracked per element.
type Set struct {
	m map[string]struct{}
}

// NewSet returns an empty transactional set.
func NewSet() *Set {
	return &Set{m: make(map[string]struct{})}
}

// Contains reports whether elem is present. Callers must hold synchronized
// access via engine.Proxy.Access.
func (s *Set) Contains(elem string) bool {
	_, ok := s.m[elem]
	return ok
}

// Size returns the number of elements currently in the set.
func (s *Set) Size() int { return len(s.m) }

func (s *Set) Apply(method string, args []byte) (result []byte, undo *engine.UndoRecord, err error) {
	var a setElemArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, nil, err
	}
	switch method {
	case setAdd:
		_, existed := s.m[a.Elem]
		s.m[a.Elem] = struct{}{}
		if existed {
			return nil, nil, nil
		}
		undoArgs, _ := json.Marshal(a)
		return nil, &engine.UndoRecord{Method: setRemove, Args: undoArgs}, nil

	case setRemove:
		_, existed := s.m[a.Elem]
		delete(s.m, a.Elem)
		if !existed {
			return nil, nil, nil
		}
		undoArgs, _ := json.Marshal(a)
		return nil, &engine.UndoRecord{Method: setAdd, Args: undoArgs}, nil

	default:
		return nil, nil, fmt.Errorf("objects: Set has no method %q", method)
	}
}

func (s *Set) ConflictParamsFor(method string, args []byte) []engine.ConflictParam {
	var a setElemArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return []engine.ConflictParam{engine.ConflictAll}
	}
	return []engine.ConflictParam{a.Elem}
}

func (s *Set) Reset() {
	s.m = make(map[string]struct{})
}

// MarshalSetElem builds the SMREntry args for an Add(elem)/Remove(elem)
// mutation.
func MarshalSetElem(elem string) ([]byte, error) {
	return json.Marshal(setElemArgs{Elem: elem})
}

const (
	SetMethodAdd    = setAdd
	SetMethodRemove = setRemove
)
