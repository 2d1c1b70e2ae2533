package failure

import (
	"fmt"
	"net/http"

	"github.com/danmuck/actionrpc/internal/protocol/version"
)

// Kind names. These are wire tags; renaming one is a breaking change.
const (
	KindGeneric             = "exception"
	KindIllegalArgument     = "illegal_argument"
	KindIllegalState        = "illegal_state"
	KindStatus              = "status"
	KindResourceNotFound    = "resource_not_found"
	KindValidation          = "action_request_validation"
	KindDecode              = "decode"
	KindActionNotFound      = "action_not_found"
	KindTaskCancelled       = "task_cancelled"
	KindTimeout             = "timeout"
	KindMissedIndicesUpdate = "missed_indices_update"
)

// Kind declares a failure kind, the version that introduced it and the
// status it reports when none is given.
type Kind struct {
	Name   string
	Since  version.Version
	Status int
}

var kinds = []Kind{
	{KindGeneric, version.V8_0_0, http.StatusInternalServerError},
	{KindIllegalArgument, version.V8_0_0, http.StatusBadRequest},
	{KindIllegalState, version.V8_0_0, http.StatusInternalServerError},
	{KindStatus, version.V8_0_0, http.StatusInternalServerError},
	{KindResourceNotFound, version.V8_0_0, http.StatusNotFound},
	{KindValidation, version.V8_0_0, http.StatusBadRequest},
	{KindDecode, version.V8_0_0, http.StatusBadRequest},
	{KindActionNotFound, version.V8_0_0, http.StatusNotFound},
	{KindTaskCancelled, version.V8_0_0, http.StatusBadRequest},
	{KindTimeout, version.V8_0_0, http.StatusRequestTimeout},
	{KindMissedIndicesUpdate, version.FailureMetadata, http.StatusInternalServerError},
}

var byName map[string]Kind

func init() {
	byName = make(map[string]Kind, len(kinds))
	for _, k := range kinds {
		if _, dup := byName[k.Name]; dup {
			panic(fmt.Sprintf("failure: duplicate kind %q", k.Name))
		}
		if !k.Since.Known() {
			panic(fmt.Sprintf("failure: kind %q references undeclared version %d", k.Name, k.Since))
		}
		byName[k.Name] = k
	}
}

// Lookup returns the declared kind for name.
func Lookup(name string) (Kind, bool) {
	k, ok := byName[name]
	return k, ok
}

// Kinds returns every declared kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func normalizeStatus(code int) int {
	if code < 100 || code > 599 {
		return http.StatusInternalServerError
	}
	return code
}

func defaultStatus(kind string) int {
	if k, ok := byName[kind]; ok {
		return k.Status
	}
	return http.StatusInternalServerError
}
