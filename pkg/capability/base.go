// Package capability holds the capability registry, the per-capability
// action tables and the dispatcher that routes ActionRequests to them.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
)

// Record is the plain structured value exchanged with capabilities.
type Record = map[string]interface{}

// Error kinds carried by ActionResult.
const (
	KindUnknownCapability = "unknown_capability"
	KindUnknownAction     = "unknown_action"
	KindInvalidParams     = "invalid_params"
	KindCapabilityError   = "capability_error"
	KindNotFound          = "not_found"
	KindValidation        = "validation"
)

// Error is a structured, non-exceptional failure returned by a capability
// or produced by the dispatcher.
type Error struct {
	Kind    string `json:"error_kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// ActionRequest names one action on one capability.
type ActionRequest struct {
	Capability string `json:"capability"`
	Action     string `json:"action"`
	Params     Record `json:"params,omitempty"`
}

func (r ActionRequest) String() string {
	return r.Capability + "." + r.Action
}

// ActionResult is either a success value or a structured error.
type ActionResult struct {
	Value interface{}
	Err   *Error
}

func (r ActionResult) OK() bool { return r.Err == nil }

// MarshalJSON renders the result the way it is shown to the model.
func (r ActionResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]interface{}{
			"ok":         false,
			"error_kind": r.Err.Kind,
			"message":    r.Err.Message,
		})
	}
	return json.Marshal(map[string]interface{}{
		"ok":     true,
		"result": r.Value,
	})
}

func Success(v interface{}) ActionResult { return ActionResult{Value: v} }

func Failure(kind, message string) ActionResult {
	return ActionResult{Err: &Error{Kind: kind, Message: message}}
}

// Shape tells the dispatcher how to hand params to an action.
type Shape int

const (
	// ShapeRecord passes the whole params record as one value.
	ShapeRecord Shape = iota
	// ShapeKeyword binds declared named params individually.
	ShapeKeyword
)

func (s Shape) String() string {
	if s == ShapeKeyword {
		return "keyword"
	}
	return "record"
}

type ParamKind string

const (
	KindString ParamKind = "string"
	KindInt    ParamKind = "int"
	KindFloat  ParamKind = "float"
	KindBool   ParamKind = "bool"
	KindObject ParamKind = "record"
	KindList   ParamKind = "list"
)

// Param declares one keyword parameter, or one documented field of a record.
type Param struct {
	Name     string
	Kind     ParamKind
	Required bool
}

func Required(name string, kind ParamKind) Param { return Param{Name: name, Kind: kind, Required: true} }
func Optional(name string, kind ParamKind) Param { return Param{Name: name, Kind: kind} }

// RecordFunc handles a record-shaped action.
type RecordFunc func(ctx context.Context, rec Record) (interface{}, error)

// KeywordFunc handles a keyword-shaped action. Args holds only declared,
// type-checked params.
type KeywordFunc func(ctx context.Context, args Args) (interface{}, error)

// Action is one entry of a capability's action table.
type Action struct {
	Name        string
	Description string
	Shape       Shape
	Params      []Param
	record      RecordFunc
	keyword     KeywordFunc
}

// RecordAction declares an action taking the params record as a whole.
func RecordAction(name, description string, fields []Param, fn RecordFunc) Action {
	return Action{Name: name, Description: description, Shape: ShapeRecord, Params: fields, record: fn}
}

// KeywordAction declares an action taking named params.
func KeywordAction(name, description string, params []Param, fn KeywordFunc) Action {
	return Action{Name: name, Description: description, Shape: ShapeKeyword, Params: params, keyword: fn}
}

// Capability is a named group of actions.
type Capability interface {
	Name() string
	Description() string
	Actions() []Action
}

// ClosableCapability releases storage when the runtime stops.
type ClosableCapability interface {
	Capability
	Close() error
}
