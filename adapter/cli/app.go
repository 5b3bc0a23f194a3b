package cli

import (
	"github.com/felixgeelhaar/prosecheck/internal/app"
	"github.com/felixgeelhaar/prosecheck/internal/checker/service"
	"github.com/felixgeelhaar/prosecheck/internal/feedback"
)

// App holds the CLI application dependencies.
type App struct {
	Checker  *service.Service
	Feedback *feedback.Service
	Learner  *feedback.Learner

	// Container is the wiring the services came from. Commands that serve
	// (serve, mcp) need its probes and health server.
	Container *app.Container
}

// NewApp creates a CLI application backed by container.
func NewApp(container *app.Container) *App {
	return &App{
		Checker:   container.Checker,
		Feedback:  container.Feedback,
		Learner:   container.Learner,
		Container: container,
	}
}

// application is the global CLI application instance
var application *App

// SetApp sets the global CLI application instance. A preset app skips
// container construction.
func SetApp(a *App) {
	application = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return application
}
