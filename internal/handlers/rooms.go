package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports liveness with the current connection and room counts.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.registry.Count(),
		"rooms":       h.directory.RoomCount(),
	})
}

// GetRoom returns the live roster of a room.
func (h *Handler) GetRoom(c *gin.Context) {
	info, ok := h.directory.Room(c.Param("roomId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}
