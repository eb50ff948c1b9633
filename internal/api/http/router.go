package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/servicedesk/crm-service/internal/api/http/handlers"
	"github.com/servicedesk/crm-service/internal/auth"
	"github.com/servicedesk/crm-service/internal/domain"
	"github.com/servicedesk/crm-service/internal/realtime"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Users   *handlers.UsersHandler
	Tickets *handlers.TicketsHandler
	Gate    *auth.Gate
	Hub     *realtime.Hub
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	api := app.Group("/api", cfg.Gate.Handle)

	triage := cfg.Gate.RequireRole(domain.RoleAgent, domain.RoleAdmin)

	tickets := api.Group("/tickets")
	tickets.Post("/create", cfg.Tickets.CreateTicket)
	tickets.Get("/my", cfg.Tickets.ListMyTickets)
	tickets.Get("/all", triage, cfg.Tickets.ListAllTickets)
	tickets.Get("/assigned", triage, cfg.Tickets.ListAssignedTickets)
	tickets.Get("/stats", cfg.Tickets.GetStats)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Put("/:id", cfg.Tickets.UpdateTicket)
	tickets.Delete("/:id", cfg.Tickets.DeleteTicket)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Post("/:id/assign", triage, cfg.Tickets.AssignTicket)
	tickets.Post("/:id/internal-note", triage, cfg.Tickets.AddInternalNote)
	tickets.Post("/:id/smart-replies", triage, cfg.Tickets.SmartReplies)

	api.Get("/agents", cfg.Tickets.ListAgents)

	app.Get("/ws", cfg.Hub.UpgradeMiddleware(), cfg.Hub.Handler())
}
