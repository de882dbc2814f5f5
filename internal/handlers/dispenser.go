package handlers

import (
	"errors"
	"net/http"

	"pellet_dispenser/internal/device"
	"pellet_dispenser/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	statusOK           = "ok"
	statusConnected    = "connected"
	statusDisconnected = "disconnected"
	statusSent         = "sent"
	statusRefilled     = "refilled"

	errGetState        = "failed to load state"
	errInvalidBodyPref = "invalid body: "
)

// ConnectRequest opens the serial session.
type ConnectRequest struct {
	// Serial port; empty uses the configured default.
	Port string `json:"port,omitempty" example:"/dev/ttyUSB0"`
}

// CommandRequest dispatches one dispenser command.
type CommandRequest struct {
	// One of start, stop, manual, calibrate, status, alarm_on, alarm_off,
	// cal, pour, time, hopper.
	Command string `json:"command" binding:"required" example:"pour"`
	// Required for cal, pour, time and hopper.
	Value *float64 `json:"value,omitempty" example:"12.5"`
}

// logAndJSONError logs err under logKey and writes userMsg with httpCode.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...any) {
	if err != nil {
		h.log.Errorw(logKey, append([]any{"err", err}, kv...)...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// deviceErrorStatus maps the device error taxonomy to HTTP.
func deviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, device.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, device.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondDeviceError reports a failed device operation. Client mistakes
// are logged at info, everything else at error.
func (h *Handler) respondDeviceError(c *gin.Context, logKey string, err error, kv ...any) {
	code := deviceErrorStatus(err)
	if code == http.StatusInternalServerError {
		h.log.Errorw(logKey, append([]any{"err", err}, kv...)...)
	} else {
		h.log.Infow(logKey, append([]any{"err", err, "status", code}, kv...)...)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// respondWithStatusAndState includes the current state when available.
func (h *Handler) respondWithStatusAndState(c *gin.Context, status string, extra gin.H) {
	resp := gin.H{"status": status}
	for k, v := range extra {
		resp[k] = v
	}
	if st, err := h.services.Monitoring.GetState(c.Request.Context()); err == nil {
		resp["state"] = st
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Connect to the dispenser
// @Description  Opens the serial port (9600 8N1) and waits for the board to reset.
// @Tags         dispenser
// @Accept       json
// @Produce      json
// @Param        body  body      ConnectRequest  false  "Port"
// @Success      200   {object}  map[string]interface{}  "status, state"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /api/v1/dispenser/connect [post]
// @Security     BearerAuth
func (h *Handler) connectDevice(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
			return
		}
	}
	if err := h.services.Dispenser.Connect(c.Request.Context(), req.Port); err != nil {
		h.respondDeviceError(c, "dispenser_connect_failed", err, "port", req.Port)
		return
	}
	h.respondWithStatusAndState(c, statusConnected, gin.H{})
}

// @Summary      Disconnect from the dispenser
// @Tags         dispenser
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/dispenser/disconnect [post]
// @Security     BearerAuth
func (h *Handler) disconnectDevice(c *gin.Context) {
	if err := h.services.Dispenser.Disconnect(c.Request.Context()); err != nil {
		h.respondDeviceError(c, "dispenser_disconnect_failed", err)
		return
	}
	h.respondWithStatusAndState(c, statusDisconnected, gin.H{})
}

// @Summary      Send a command
// @Description  cal, pour, time and hopper require a value; time takes whole seconds.
// @Tags         dispenser
// @Accept       json
// @Produce      json
// @Param        body  body      CommandRequest  true  "Command"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /api/v1/dispenser/command [post]
// @Security     BearerAuth
func (h *Handler) sendCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	params := service.CommandParams{Name: req.Command, Value: req.Value}
	if err := h.services.Dispenser.Command(c.Request.Context(), params); err != nil {
		h.respondDeviceError(c, "dispenser_command_failed", err, "command", req.Command)
		return
	}
	h.respondWithStatusAndState(c, statusSent, gin.H{"command": req.Command})
}

// @Summary      Record a manual refill
// @Description  Resets the hopper to capacity locally; nothing is sent to the device.
// @Tags         dispenser
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/dispenser/refill [post]
// @Security     BearerAuth
func (h *Handler) refillHopper(c *gin.Context) {
	if err := h.services.Dispenser.Refill(c.Request.Context()); err != nil {
		h.respondDeviceError(c, "dispenser_refill_failed", err)
		return
	}
	h.respondWithStatusAndState(c, statusRefilled, gin.H{})
}

// @Summary      Get dispenser state
// @Tags         dispenser
// @Produce      json
// @Success      200  {object}  models.DeviceState
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/dispenser/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	st, err := h.services.Monitoring.GetState(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetState, "dispenser_get_state_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}
