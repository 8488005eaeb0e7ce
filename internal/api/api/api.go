package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"eventAdmission/cmd/middleware"
	"eventAdmission/internal/service"
)

type Routers struct {
	Service        service.Service
	Log            *zerolog.Logger
	RequestTimeout time.Duration
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())
	if r.RequestTimeout > 0 {
		app.Use(middleware.Timeout(r.RequestTimeout))
	}

	h := &handlers{svc: r.Service, log: r.Log}

	app.GET("/healthz", h.health)

	apiGroup := app.Group("/v1")
	apiGroup.Use(identity())

	apiGroup.POST("/communities/:id/events", h.createEvent)
	apiGroup.GET("/communities/:id/events", h.listCommunityEvents)

	apiGroup.GET("/events/:id", h.getEvent)
	apiGroup.PATCH("/events/:id", h.updateEvent)
	apiGroup.DELETE("/events/:id", h.deleteEvent)
	apiGroup.POST("/events/:id/status", h.changeStatus)

	apiGroup.POST("/events/:id/registrations", h.register)
	apiGroup.DELETE("/events/:id/registrations", h.unregister)
	apiGroup.GET("/events/:id/participants", h.listParticipants)
	apiGroup.POST("/events/:id/attendance", h.markAttendance)

	return app
}
