package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/clip-service/internal/api/http/handlers"
	"github.com/spec-kit/clip-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Products       *handlers.ProductsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/guest", cfg.Auth.Guest)

	products := app.Group("/products", cfg.AuthMiddleware.Handle, auth.RequireIdentity())
	products.Post("/add", cfg.Products.AddProduct)
	products.Get("/", cfg.Products.ListProducts)
	products.Delete("/:id", cfg.Products.DeleteProduct)
}
