package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailbot/interfaces"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status returns a snapshot of the mailbox adapter
func Status(adapter interfaces.MailboxAdapter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, adapter.Status())
	}
}
