// Package api
// Author: momentics@gmail.com
//
// Generic result with an explicit not-ready variant.

package api

// Result wraps any payload or error. NotReady means "stop this pass and retry
// on the next one"; it is not an error.
type Result[T any] struct {
	Value    T
	Err      error
	NotReady bool
}

// Ready wraps a value.
func Ready[T any](v T) Result[T] { return Result[T]{Value: v} }

// Failed wraps an error.
func Failed[T any](err error) Result[T] { return Result[T]{Err: err} }

// Pending reports that hardware has not finished with the item yet.
func Pending[T any]() Result[T] { return Result[T]{NotReady: true} }

// OK is true when a value is available.
func (r Result[T]) OK() bool { return r.Err == nil && !r.NotReady }
