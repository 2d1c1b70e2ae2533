package inference

import (
	"strconv"
	"strings"

	"github.com/danmuck/actionrpc/internal/action"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
)

// TaskType is the kind of work an inference endpoint performs.
type TaskType int

const (
	TextEmbedding TaskType = iota
	SparseEmbedding
	Completion
	Rerank
	// AnyTask matches every task type in lookups.
	AnyTask
)

var taskTypeNames = [...]string{
	TextEmbedding:   "text_embedding",
	SparseEmbedding: "sparse_embedding",
	Completion:      "completion",
	Rerank:          "rerank",
	AnyTask:         "any",
}

func (t TaskType) String() string {
	if !t.Valid() {
		return "unknown"
	}
	return taskTypeNames[t]
}

// Valid reports whether t is one of the declared task types.
func (t TaskType) Valid() bool {
	return t >= 0 && int(t) < len(taskTypeNames)
}

// TaskTypeNames lists the accepted names in declaration order.
func TaskTypeNames() []string {
	out := make([]string, len(taskTypeNames))
	copy(out, taskTypeNames[:])
	return out
}

// ParseTaskType resolves a task type name. It is the only lookup: request
// constructors and wire decoding both go through it, so an unknown name is
// rejected the same way on either path.
func ParseTaskType(raw string) (TaskType, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for i, candidate := range taskTypeNames {
		if candidate == name {
			return TaskType(i), nil
		}
	}
	return 0, &action.UnknownDiscriminantError{Field: "task_type", Value: raw, Known: TaskTypeNames()}
}

// Matches reports whether a model of type t satisfies a lookup for want.
func (t TaskType) Matches(want TaskType) bool {
	return want == AnyTask || t == want
}

// checkTaskType rejects a value assigned outside ParseTaskType with the
// same error class an unknown name gets.
func checkTaskType(t TaskType) error {
	if t.Valid() {
		return nil
	}
	return &action.UnknownDiscriminantError{Field: "task_type", Value: strconv.Itoa(int(t)), Known: TaskTypeNames()}
}

func writeTaskType(w *stream.Writer, t TaskType) {
	w.WriteString(t.String())
}

func readTaskType(r *stream.Reader) (TaskType, error) {
	raw, err := r.ReadString()
	if err != nil {
		return 0, err
	}
	return ParseTaskType(raw)
}
