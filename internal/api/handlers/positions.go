package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/services"
)

// PositionsHandler exposes trade markers: active positions, history, chart
// annotations and manual close.
type PositionsHandler struct {
	markers    *services.MarkerStore
	supervisor *services.Supervisor
	logger     *logrus.Logger
}

func NewPositionsHandler(markers *services.MarkerStore, supervisor *services.Supervisor, logger *logrus.Logger) *PositionsHandler {
	return &PositionsHandler{markers: markers, supervisor: supervisor, logger: logger}
}

// ListActive returns open positions oldest first.
func (h *PositionsHandler) ListActive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": h.markers.ActiveMarkers()})
}

// History returns closed positions.
func (h *PositionsHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": h.markers.History()})
}

// Close exits an active position at the current market price.
func (h *PositionsHandler) Close(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "marker id is required"})
		return
	}

	closed, err := h.supervisor.ClosePosition(c.Request.Context(), id, models.CloseManual)
	if err != nil {
		h.logger.WithField("marker", id).WithError(err).Warn("Manual close failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": closed})
}

// Annotations returns chart annotations, optionally filtered by symbol.
func (h *PositionsHandler) Annotations(c *gin.Context) {
	symbol := c.Query("symbol")
	c.JSON(http.StatusOK, gin.H{"annotations": h.markers.Annotations(symbol)})
}

// SymbolStats aggregates closed-trade performance for one symbol.
func (h *PositionsHandler) SymbolStats(c *gin.Context) {
	symbol := c.Param("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	c.JSON(http.StatusOK, h.markers.SymbolStats(symbol))
}
