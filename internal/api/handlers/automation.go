package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/middleware"
	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/services"
)

// AutomationHandler exposes the supervisor's lifecycle and status controls.
type AutomationHandler struct {
	supervisor *services.Supervisor
	queue      *services.SignalQueue
	generator  *services.SignalGenerator
	ledger     *services.LearningLedger
	logger     *logrus.Logger
}

func NewAutomationHandler(
	supervisor *services.Supervisor,
	queue *services.SignalQueue,
	generator *services.SignalGenerator,
	ledger *services.LearningLedger,
	logger *logrus.Logger,
) *AutomationHandler {
	return &AutomationHandler{
		supervisor: supervisor,
		queue:      queue,
		generator:  generator,
		ledger:     ledger,
		logger:     logger,
	}
}

// Start brings the automation loop up. An empty body starts with defaults;
// a settings body overrides them after validation.
func (h *AutomationHandler) Start(c *gin.Context) {
	settings := models.DefaultAutomationSettings()
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&settings); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings body: " + err.Error()})
			return
		}
	}
	if err := settings.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	started, err := h.supervisor.Start(settings)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !started {
		c.JSON(http.StatusConflict, gin.H{
			"error": "automation already running",
			"state": h.supervisor.State(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.supervisor.State(), "settings": settings})
}

// Stop drains the loop and snapshots state before returning.
func (h *AutomationHandler) Stop(c *gin.Context) {
	if err := h.supervisor.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.supervisor.State()})
}

// EmergencyStop halts new executions immediately.
func (h *AutomationHandler) EmergencyStop(c *gin.Context) {
	principal := "operator"
	if user, ok := middleware.CurrentUser(c); ok {
		principal = user.ID
	}
	h.supervisor.EmergencyStop("manual emergency stop by " + principal)
	c.JSON(http.StatusOK, gin.H{
		"state":          h.supervisor.State(),
		"emergency_stop": true,
	})
}

// Status returns the full supervisor status report.
func (h *AutomationHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.supervisor.Status())
}

// Queue lists the current queue entries oldest first.
func (h *AutomationHandler) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entries": h.queue.Entries(),
		"status":  h.queue.Status(),
	})
}

// TestSignal runs one analysis for a symbol without touching the queue.
func (h *AutomationHandler) TestSignal(c *gin.Context) {
	symbol := c.Param("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	sig, err := h.generator.Generate(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if sig == nil {
		c.JSON(http.StatusOK, gin.H{"symbol": symbol, "signal": nil, "reason": "timeframes not aligned or confidence below floor"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "signal": sig})
}

// Performance returns the learning ledger's aggregated view.
func (h *AutomationHandler) Performance(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.Performance())
}

// Progress returns the operator level and accuracy counters.
func (h *AutomationHandler) Progress(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.Progress())
}
