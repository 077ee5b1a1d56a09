package main

import (
	"messaging-platform/internal/httpapi"
	"messaging-platform/internal/rbac"
	"messaging-platform/internal/tracking"
	"messaging-platform/internal/webhook"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(
	r *gin.Engine,
	h httpapi.Handlers,
	webhooks *webhook.Handler,
	trackedLinks *tracking.Handler,
	authMW gin.HandlerFunc,
) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Authenticity is checked per gateway type
	// (signatures, secret tokens) inside the webhook handler.
	r.POST("/webhook", webhooks.Receive)
	r.GET("/webhook", webhooks.Verify)

	// Tracked link redirects (public).
	if trackedLinks != nil {
		r.GET("/track", trackedLinks.Redirect)
	}

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// Read endpoints: clients and analysts.
		reads := v1.Group("")
		reads.Use(rbac.RequireClient())
		reads.Use(rbac.RequireAnyRole(rbac.RoleClient, rbac.RoleAnalyst))
		{
			reads.GET("/messages", h.ListMessages)
			reads.GET("/messages/:id", h.GetMessage)
			reads.GET("/credits/balance", h.GetBalance)
			reads.GET("/credits/transactions", h.ListTransactions)
			reads.GET("/reports/delivery", h.DeliveryReport)
			reads.GET("/reports/spend", h.SpendReport)
		}

		// Write endpoints: clients only (plus admin via bypass).
		writes := v1.Group("")
		writes.Use(rbac.RequireClient())
		writes.Use(rbac.RequireAnyRole(rbac.RoleClient))
		{
			writes.POST("/messages", h.SendMessage)
			writes.POST("/messages/batch", h.SendBatch)
			writes.POST("/messages/:id/cancel", h.CancelMessage)
			writes.POST("/optouts", h.BlockRecipient)
		}

		// ADMIN routes. Hidden system role is intentionally NOT included.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})
			admin.POST("/credits/topup", h.AdminTopUp)
			admin.POST("/credits/expire", h.AdminExpireCredits)
		}
	}
}
