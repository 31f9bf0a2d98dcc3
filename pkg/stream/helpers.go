package stream

import "context"

// First blocks until src yields a value or ctx is done.
func First[T any](ctx context.Context, src <-chan T) (T, error) {
	var zero T
	select {
	case v, ok := <-src:
		if !ok {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// MirrorInto copies every value from src into dst until src is closed or
// ctx is done. It blocks; run it in its own goroutine.
func MirrorInto[T any](ctx context.Context, src <-chan T, dst *StateFlow[T]) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-src:
			if !ok {
				return
			}
			dst.Set(v)
		}
	}
}

// Map transforms each value of src with fn.
func Map[T, R any](ctx context.Context, src <-chan T, fn func(T) R) <-chan R {
	out := make(chan R, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- fn(v):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
