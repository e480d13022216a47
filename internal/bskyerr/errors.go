// Package bskyerr defines the error taxonomy exposed across bsky-store:
// one struct per kind, each wrapping its cause via Unwrap and exposing an
// errors.As-friendly Is* predicate, mirroring the teacher's RuntimeError
// shape (internal/engine/errors.go in the teacher repo).
package bskyerr

import (
	"errors"
	"fmt"
)

// Code categorizes an error within its kind.
type Code string

// BskyError is the root error kind: external/environmental failures (feed
// I/O, oracle transport) that are retriable or policy-governed.
type BskyError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *BskyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BskyError) Unwrap() error { return e.Cause }

// NewBskyError constructs a BskyError.
func NewBskyError(code Code, message string, cause error) *BskyError {
	return &BskyError{Code: code, Message: message, Cause: cause}
}

// IsBskyError reports whether err is (or wraps) a *BskyError.
func IsBskyError(err error) bool {
	var e *BskyError
	return errors.As(err, &e)
}

// ConfigError indicates invalid caller-supplied configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// FilterCompileError indicates a FilterExpr failed structural validation.
type FilterCompileError struct {
	Path    string // dotted path to the offending node, e.g. "And[1].DateRange"
	Message string
}

func (e *FilterCompileError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("filter compile error at %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("filter compile error: %s", e.Message)
}

func NewFilterCompileError(path, message string) *FilterCompileError {
	return &FilterCompileError{Path: path, Message: message}
}

func IsFilterCompileError(err error) bool {
	var e *FilterCompileError
	return errors.As(err, &e)
}

// FilterEvalError indicates a runtime failure while evaluating a compiled filter.
type FilterEvalError struct {
	Leaf    string
	Message string
	Cause   error
}

func (e *FilterEvalError) Error() string {
	return fmt.Sprintf("filter eval error at %s: %s", e.Leaf, e.Message)
}

func (e *FilterEvalError) Unwrap() error { return e.Cause }

func NewFilterEvalError(leaf, message string, cause error) *FilterEvalError {
	return &FilterEvalError{Leaf: leaf, Message: message, Cause: cause}
}

func IsFilterEvalError(err error) bool {
	var e *FilterEvalError
	return errors.As(err, &e)
}

// StoreIoError indicates a fatal storage failure for the current batch.
type StoreIoError struct {
	Store   string
	Op      string
	Cause   error
}

func (e *StoreIoError) Error() string {
	return fmt.Sprintf("store io error: store=%s op=%s: %v", e.Store, e.Op, e.Cause)
}

func (e *StoreIoError) Unwrap() error { return e.Cause }

func NewStoreIoError(store, op string, cause error) *StoreIoError {
	return &StoreIoError{Store: store, Op: op, Cause: cause}
}

func IsStoreIoError(err error) bool {
	var e *StoreIoError
	return errors.As(err, &e)
}

// StoreNotFound indicates an operation referenced a store that does not exist.
type StoreNotFound struct {
	Name string
}

func (e *StoreNotFound) Error() string {
	return fmt.Sprintf("store not found: %s", e.Name)
}

func NewStoreNotFound(name string) *StoreNotFound {
	return &StoreNotFound{Name: name}
}

func IsStoreNotFound(err error) bool {
	var e *StoreNotFound
	return errors.As(err, &e)
}

// StoreAlreadyExists indicates a create/rename collided with an existing store.
type StoreAlreadyExists struct {
	Name string
}

func (e *StoreAlreadyExists) Error() string {
	return fmt.Sprintf("store already exists: %s", e.Name)
}

func NewStoreAlreadyExists(name string) *StoreAlreadyExists {
	return &StoreAlreadyExists{Name: name}
}

func IsStoreAlreadyExists(err error) bool {
	var e *StoreAlreadyExists
	return errors.As(err, &e)
}

// SyncStage identifies which stage of the sync pipeline produced a SyncError.
type SyncStage string

const (
	StageSource SyncStage = "source"
	StageParse  SyncStage = "parse"
	StageFilter SyncStage = "filter"
	StageStore  SyncStage = "store"
)

// SyncError records a per-item or per-batch failure during sync, tagged
// with the pipeline stage that produced it.
type SyncError struct {
	Stage   SyncStage
	Message string
	Cause   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync error [%s]: %s", e.Stage, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Cause }

func NewSyncError(stage SyncStage, message string, cause error) *SyncError {
	return &SyncError{Stage: stage, Message: message, Cause: cause}
}

func IsSyncError(err error) bool {
	var e *SyncError
	return errors.As(err, &e)
}

// Classify maps err to a stable taxonomy code for surfaces (CLI JSON output,
// logs) that need a machine-comparable error identity rather than a message.
// Falls back to "INTERNAL" for errors outside this package's kinds.
func Classify(err error) string {
	switch {
	case IsStoreNotFound(err):
		return "STORE_NOT_FOUND"
	case IsStoreAlreadyExists(err):
		return "STORE_ALREADY_EXISTS"
	case IsStoreIoError(err):
		return "STORE_IO_ERROR"
	case IsFilterCompileError(err):
		return "FILTER_COMPILE_ERROR"
	case IsFilterEvalError(err):
		return "FILTER_EVAL_ERROR"
	case IsSyncError(err):
		return "SYNC_ERROR"
	case IsConfigError(err):
		return "CONFIG_ERROR"
	case IsBskyError(err):
		return "BSKY_ERROR"
	default:
		return "INTERNAL"
	}
}
