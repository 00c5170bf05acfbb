package objects

import (
	"encoding/json"
	"fmt"

	"github.com/chn0318/txengine/engine"
)

const (
	counterAdd = "Add"
)

type counterAddArgs struct {
	Delta int64 `json:"delta"`
}

// Counter is an int64 accumulator. Every Add conflicts with every other
// Add/read regardless of delta: the value after a commit depends on every
// prior update, so ConflictAll is the only sound conflict parameter.
type Counter struct {
	value int64
}

// NewCounter returns a zero-valued transactional counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Value reads the current total. Callers must hold synchronized access via
// engine.Proxy.Access.
func (c *Counter) Value() int64 { return c.value }

func (c *Counter) Apply(method string, args []byte) (result []byte, undo *engine.UndoRecord, err error) {
	if method != counterAdd {
		return nil, nil, fmt.Errorf("objects: Counter has no method %q", method)
	}
	var a counterAddArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, nil, err
	}
	c.value += a.Delta
	undoArgs, _ := json.Marshal(counterAddArgs{Delta: -a.Delta})
	result, _ = json.Marshal(c.value)
	return result, &engine.UndoRecord{Method: counterAdd, Args: undoArgs}, nil
}

func (c *Counter) ConflictParamsFor(method string, args []byte) []engine.ConflictParam {
	return []engine.ConflictParam{engine.ConflictAll}
}

func (c *Counter) Reset() {
	c.value = 0
}

// MarshalAdd builds the SMREntry args for an Add(delta) mutation.
func MarshalAdd(delta int64) ([]byte, error) {
	return json.Marshal(counterAddArgs{Delta: delta})
}

const CounterMethodAdd = counterAdd
