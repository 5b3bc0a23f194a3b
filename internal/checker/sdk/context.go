package sdk

import (
	"context"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

type optionsKey struct{}

// WithOptions attaches the effective check options to ctx so engines can
// read flags such as StrictMode.
func WithOptions(ctx context.Context, opts types.Options) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

// OptionsFromContext returns the options attached by WithOptions, or the
// defaults.
func OptionsFromContext(ctx context.Context) types.Options {
	if opts, ok := ctx.Value(optionsKey{}).(types.Options); ok {
		return opts
	}
	return (*types.Options)(nil).Effective()
}
