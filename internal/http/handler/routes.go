package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"lobbydocs/internal/service"
)

// RegisterRoutes attaches the health and document routes to app.
// Routing is expected to be non-strict so trailing slashes are optional.
func RegisterRoutes(app *fiber.App, p Pinger, svc service.DocumentService, log logrus.FieldLogger, downloadURLTTL time.Duration) {
	app.Get("/health", HealthCheck(p))
	app.Get("/healthz", LivenessProbe())

	docs := app.Group("/documents")
	docs.Get("/", ListDocuments(svc, log))
	docs.Post("/", CreateDocument(svc, log))
	docs.Get("/:id", GetDocument(svc, log))
	docs.Put("/:id", UpdateDocument(svc, log))
	docs.Patch("/:id", UpdateDocument(svc, log))
	docs.Delete("/:id", DeleteDocument(svc, log))
	docs.Get("/:id/download", DownloadDocument(svc, log, downloadURLTTL))
}
