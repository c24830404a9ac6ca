//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
)

// BuildApp wires the CLI components using Google Wire.
func BuildApp(ctx context.Context, opts Options) (*App, func(), error) {
	wire.Build(
		provideConfig,
		provideLogger,
		provideStorage,
		provideRegistry,
		provideMetrics,
		provideSystem,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
