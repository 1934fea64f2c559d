package api

import (
	"github.com/datallboy/hlsget/internal/api/controllers"
	"github.com/datallboy/hlsget/internal/app"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	jobsCtrl := &controllers.JobsController{App: app}

	e.POST("/jobs", jobsCtrl.Create)
	e.GET("/jobs", jobsCtrl.List)
	e.GET("/jobs/:id", jobsCtrl.Get)
	e.DELETE("/jobs/:id", jobsCtrl.Cancel)
}
