package video

import "context"

type progressKey struct{}

// WithProgress returns a context whose renders report encoder progress to fn, in addition to
// the renderer's own debug logging.
func WithProgress(ctx context.Context, fn func(Progress)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func progressFrom(ctx context.Context) func(Progress) {
	fn, _ := ctx.Value(progressKey{}).(func(Progress))
	return fn
}
