package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, pricing *PricingHandler, admin *AdminHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	e.Any("/api/v1/*", proxy.Handle)

	p := e.Group("/pricing")
	p.GET("/markup", pricing.Markup)
	p.POST("/markups", pricing.Markups)
	p.GET("/hospitality/ticket", pricing.TicketHospitality)
	p.GET("/hospitality/event", pricing.EventHospitality)
	p.POST("/hospitality/tickets", pricing.TicketsHospitality)

	a := e.Group("/admin")
	a.GET("/markup-rules", admin.ListMarkupRules)
	a.POST("/markup-rules", admin.CreateMarkupRule)
	a.PUT("/markup-rules/:id", admin.UpdateMarkupRule)
	a.DELETE("/markup-rules/:id", admin.DeleteMarkupRule)
	a.GET("/hospitality-assignments", admin.ListAssignments)
	a.POST("/hospitality-assignments", admin.CreateAssignment)
	a.PUT("/hospitality-assignments/:id", admin.UpdateAssignment)
	a.DELETE("/hospitality-assignments/:id", admin.DeleteAssignment)
	a.PUT("/legacy-markups/:ticket_id", admin.PutLegacyMarkup)
}
