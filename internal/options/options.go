// Package options provides the generic functional-option resolution
// shared by every constructor in the module.
package options

import "iter"

// Apply filters opts and rest down to the options implementing T and
// yields them in order, skipping nil option values. Components call
// this once per option-interface type they accept, since a single
// With* value commonly implements several component option
// interfaces at once.
func Apply[T, O any](opts []O, rest ...O) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, opt := range opts {
			if op, ok := any(opt).(T); ok && any(op) != nil && !yield(op) {
				return
			}
		}
		for _, opt := range rest {
			if op, ok := any(opt).(T); ok && any(op) != nil && !yield(op) {
				return
			}
		}
	}
}
