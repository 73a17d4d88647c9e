// Package fanout provides concurrency helpers for racing several candidate
// operations against each other and taking the first usable result.
//
// The TACT transport uses this to race multiple CDN hosts for the same blob
// or archive range read, and the resolver uses it to race "try the next
// EKey" candidates without giving up on the others mid-flight.
package fanout

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// JobFunc is a single candidate operation raced by FirstSuccess.
type JobFunc[T comparable] func(context.Context) (T, error)

// FirstSuccess runs fns concurrently (bounded by concurrency, <=0 meaning
// unbounded) and returns the value of the first one to succeed. The other
// goroutines keep running to completion even after a winner is found; if
// every fn fails, all errors are returned together as an ErrorSlice.
func FirstSuccess[T comparable](
	ctx context.Context,
	concurrency int,
	fns ...JobFunc[T],
) (T, error) {
	type result struct {
		val T
		err error
	}
	results := make(chan result, len(fns))
	var wg errgroup.Group
	if concurrency > 0 {
		wg.SetLimit(concurrency)
	}
	for _, fn := range fns {
		fn := fn
		wg.Go(func() error {
			if ctx.Err() != nil {
				var empty T
				results <- result{empty, ctx.Err()}
				return nil
			}
			val, err := fn(ctx)
			select {
			case results <- result{val, err}:
			case <-ctx.Done():
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	var errs ErrorSlice
	for res := range results {
		if res.err == nil {
			return res.val, nil
		}
		errs = append(errs, res.err)
		if len(errs) == len(fns) {
			break
		}
	}
	return *new(T), errs
}

// IsErrorSlice reports whether err is an ErrorSlice produced by FirstSuccess.
func IsErrorSlice(err error) bool {
	_, ok := err.(ErrorSlice)
	return ok
}

// ErrorSlice aggregates every failure from a FirstSuccess call where no
// candidate succeeded.
type ErrorSlice []error

func (e ErrorSlice) Error() string {
	if len(e) == 0 {
		return "fanout.ErrorSlice{}"
	}
	var b strings.Builder
	b.WriteString("fanout.ErrorSlice{")
	for i, err := range e {
		if i > 0 {
			b.WriteString(", ")
		}
		if err == nil {
			b.WriteString("nil")
			continue
		}
		b.WriteString(strconv.Quote(err.Error()))
	}
	b.WriteString("}")
	return b.String()
}

// Filter returns the subset of errors matching predicate.
func (e ErrorSlice) Filter(predicate func(error) bool) ErrorSlice {
	var errs ErrorSlice
	for _, err := range e {
		if predicate(err) {
			errs = append(errs, err)
		}
	}
	return errs
}

// All reports whether every error in e matches predicate.
func (e ErrorSlice) All(predicate func(error) bool) bool {
	for _, err := range e {
		if !predicate(err) {
			return false
		}
	}
	return true
}

// JobGroup accumulates JobFuncs to race later with Run/RunWithConcurrency.
type JobGroup[T comparable] []JobFunc[T]

// NewJobGroup returns an empty JobGroup.
func NewJobGroup[T comparable]() *JobGroup[T] {
	return &JobGroup[T]{}
}

// Add appends fn as another candidate.
func (r *JobGroup[T]) Add(fn JobFunc[T]) {
	*r = append(*r, fn)
}

// Run races every added job with unbounded concurrency.
func (r *JobGroup[T]) Run(ctx context.Context) (T, error) {
	return FirstSuccess(ctx, -1, *r...)
}

// RunWithConcurrency races every added job, running at most concurrency at once.
func (r *JobGroup[T]) RunWithConcurrency(ctx context.Context, concurrency int) (T, error) {
	return FirstSuccess(ctx, concurrency, *r...)
}
