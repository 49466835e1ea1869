package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleHealthGET is the gateway's own liveness probe. It never touches the
// identity provider or the upstream.
func HandleHealthGET() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
