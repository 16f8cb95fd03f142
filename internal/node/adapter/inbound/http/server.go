package http_handler

import (
	"context"
	"errors"
	"fmt"

	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
)

// Server is the operator-facing inspection and admin surface of a node.
// Node-to-node traffic never flows here; replicas talk over the broker only.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	service port.NodeService
}

func NewServer(cfg *config.Config, service port.NodeService) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:     app,
		cfg:     cfg,
		service: service,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/status", s.handleStatus)
	s.app.Get("/ring/:key", s.handleRing)
	s.app.Get("/kv/:key", s.handleGet)
	s.app.Put("/kv/:key", s.handleSet)
	s.app.Get("/store", s.handleStore)
}

func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf("%s:%d", s.cfg.Server.Hostname, s.cfg.Server.HTTPPort))
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.Shutdown()
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.service.Status())
}

// handleStore dumps the local replica content without quorum coordination.
func (s *Server) handleStore(c *fiber.Ctx) error {
	entries := s.service.Entries()
	return c.JSON(fiber.Map{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleRing(c *fiber.Ctx) error {
	key := c.Params("key")
	return c.JSON(fiber.Map{
		"key":    key,
		"owners": s.service.Owners(key),
	})
}

func (s *Server) handleGet(c *fiber.Ctx) error {
	key := c.Params("key")

	res, err := s.service.Get(c.Context(), key)
	if err != nil {
		sdklogger.Warnw("coordinated read failed", "key", key, "error", err.Error())
		if errors.Is(err, port.ErrNodeUnavailable) {
			return s.sendJSONError(c, fiber.StatusServiceUnavailable, "node unavailable")
		}
		return s.sendJSONError(c, fiber.StatusBadGateway, fmt.Sprintf("read failed: %v", err))
	}
	if !res.Found {
		return s.sendJSONError(c, fiber.StatusNotFound, fmt.Sprintf("no such key: %s", key))
	}

	return c.JSON(res)
}

type setRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSet(c *fiber.Ctx) error {
	key := c.Params("key")

	var req setRequest
	if err := c.BodyParser(&req); err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "body must be {\"value\": ...}")
	}

	if err := s.service.Set(c.Context(), key, req.Value); err != nil {
		sdklogger.Warnw("coordinated write failed", "key", key, "error", err.Error())
		if errors.Is(err, port.ErrNodeUnavailable) {
			return s.sendJSONError(c, fiber.StatusServiceUnavailable, "node unavailable")
		}
		return s.sendJSONError(c, fiber.StatusBadGateway, fmt.Sprintf("write failed: %v", err))
	}

	return c.JSON(fiber.Map{"key": key, "status": "ok"})
}
