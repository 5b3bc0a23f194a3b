package mcp

import (
	"github.com/felixgeelhaar/prosecheck/adapter/cli"
	"github.com/felixgeelhaar/prosecheck/internal/app"
)

// NewCLIApp creates a CLI application instance backed by the provided container.
func NewCLIApp(container *app.Container) *cli.App {
	return cli.NewApp(container)
}
