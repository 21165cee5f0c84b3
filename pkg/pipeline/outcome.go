package pipeline

import "fmt"

// Outcome carries either an analyzer's value or the reason it failed.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Capture runs fn and converts a panic into Outcome.Err.
func Capture[T any](fn func() (T, error)) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome[T]{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err := fn()
	return Outcome[T]{Value: v, Err: err}
}

// OrElse returns Value, or degrade(Err) when the analyzer failed.
func (o Outcome[T]) OrElse(degrade func(error) T) T {
	if o.Err != nil {
		return degrade(o.Err)
	}
	return o.Value
}
