// Package api exposes the read-only status surface and the manual
// control surface (fault reset, EMS command injection) over HTTP,
// grounded on the teacher's gin Handlers/routes/middleware shape.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marinebms/internal/array"
	"marinebms/internal/controller"
	"marinebms/internal/health"
	"marinebms/internal/packfsm"
	"marinebms/pkg/hal"
)

// Handlers holds the dependencies every route handler needs: the
// in-process controllers (one per pack), the fault log for history
// lookups, the EMS channel, and the health service for the aggregate
// health endpoint. No handler uses the EMS channel: manual commands are
// submitted straight to the addressed controller.
type Handlers struct {
	controllers map[string]*controller.Controller
	order       []string
	faultLog    hal.Store
	emsChannel  hal.EMSChannel
	health      *health.Service
	log         *zap.Logger
}

// NewHandlers constructs Handlers over the given controllers, indexed by
// ID, preserving controllers' declaration order for list endpoints.
func NewHandlers(controllers []*controller.Controller, faultLog hal.Store, emsChannel hal.EMSChannel, healthService *health.Service, log *zap.Logger) *Handlers {
	index := make(map[string]*controller.Controller, len(controllers))
	order := make([]string, len(controllers))
	for i, c := range controllers {
		index[c.ID] = c
		order[i] = c.ID
	}
	return &Handlers{
		controllers: index,
		order:       order,
		faultLog:    faultLog,
		emsChannel:  emsChannel,
		health:      healthService,
		log:         log.With(zap.String("component", "api_handlers")),
	}
}

func (h *Handlers) packController(c *gin.Context) (*controller.Controller, bool) {
	id := c.Param("id")
	ctrl, ok := h.controllers[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown pack %q", id)})
		return nil, false
	}
	return ctrl, true
}

// HealthCheck returns aggregate health across every registered checker.
func (h *Handlers) HealthCheck(c *gin.Context) {
	results := h.health.CheckAll(c.Request.Context())
	overall := h.health.GetOverallStatus(results)

	statusCode := http.StatusOK
	switch overall {
	case health.StatusUnhealthy:
		statusCode = http.StatusServiceUnavailable
	case health.StatusDegraded:
		statusCode = http.StatusPartialContent
	}
	c.JSON(statusCode, gin.H{"status": overall, "checks": results})
}

// packStatusJSON renders the subset of PackState the spec's status
// output names (spec.md §6), the JSON equivalent of the EMS Modbus
// status registers.
func packStatusJSON(ctrl *controller.Controller) gin.H {
	p := ctrl.Pack
	return gin.H{
		"id":                 ctrl.ID,
		"mode":               p.Mode.String(),
		"contactor_state":    p.ContactorState.String(),
		"pack_voltage_mv":    p.PackVoltageMV,
		"pack_current_ma":    p.PackCurrentMA,
		"soc_hundredths":     p.SOCHundredths,
		"max_cell_mv":        p.MaxCellMV,
		"min_cell_mv":        p.MinCellMV,
		"avg_cell_mv":        p.AvgCellMV,
		"max_temp_deci_c":    p.MaxTempDeciC,
		"min_temp_deci_c":    p.MinTempDeciC,
		"charge_limit_ma":    p.ChargeLimitMA,
		"discharge_limit_ma": p.DischargeLimitMA,
		"faults":             p.Faults.String(),
		"fault_latched":      p.FaultLatched,
		"has_warning":        p.HasWarning,
		"warning_message":    p.WarningMessage,
		"heartbeat_count":    p.HeartbeatCount,
	}
}

// GetStatus returns every pack's status plus the conservative
// array-level limits derived from them.
func (h *Handlers) GetStatus(c *gin.Context) {
	packs := make([]gin.H, 0, len(h.order))
	summaries := make([]array.PackSummary, 0, len(h.order))
	for _, id := range h.order {
		ctrl := h.controllers[id]
		packs = append(packs, packStatusJSON(ctrl))
		summaries = append(summaries, array.PackSummary{
			ID:               ctrl.ID,
			SOCHundredths:    ctrl.Pack.SOCHundredths,
			ChargeLimitMA:    int64(ctrl.Pack.ChargeLimitMA),
			DischargeLimitMA: int64(ctrl.Pack.DischargeLimitMA),
		})
	}
	chargeLimitMA, dischargeLimitMA := array.ArrayLimits(summaries)

	c.JSON(http.StatusOK, gin.H{
		"packs":                    packs,
		"array_charge_limit_ma":    chargeLimitMA,
		"array_discharge_limit_ma": dischargeLimitMA,
	})
}

// GetPack returns one pack's status.
func (h *Handlers) GetPack(c *gin.Context) {
	ctrl, ok := h.packController(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, packStatusJSON(ctrl))
}

// GetPackFaults returns the pack's recent fault-event history from the
// bounded ring buffer.
func (h *Handlers) GetPackFaults(c *gin.Context) {
	ctrl, ok := h.packController(c)
	if !ok {
		return
	}
	store, ok := h.faultLog.(interface{ RecentEvents() []hal.FaultEvent })
	if !ok {
		c.JSON(http.StatusOK, gin.H{"events": []hal.FaultEvent{}})
		return
	}

	var events []hal.FaultEvent
	for _, ev := range store.RecentEvents() {
		if ev.PackID == ctrl.ID {
			events = append(events, ev)
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type commandRequest struct {
	Kind             string `json:"kind" binding:"required"`
	ChargeLimitMA    int32  `json:"charge_limit_ma"`
	DischargeLimitMA int32  `json:"discharge_limit_ma"`
}

var commandKinds = map[string]packfsm.EMSCommand{
	"connect_for_charge":    packfsm.CmdConnectForCharge,
	"connect_for_discharge": packfsm.CmdConnectForDischarge,
	"disconnect":            packfsm.CmdDisconnect,
	"reset_faults":          packfsm.CmdResetFaults,
	"power_save":            packfsm.CmdPowerSave,
	"set_limits":            packfsm.CmdSetLimits,
}

// PostPackCommand submits a manual EMS command directly to one pack's
// controller, bypassing the Modbus transport. Intended for operator
// override and integration testing.
func (h *Handlers) PostPackCommand(c *gin.Context) {
	ctrl, ok := h.packController(c)
	if !ok {
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, ok := commandKinds[req.Kind]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown command kind %q", req.Kind)})
		return
	}

	ctrl.SubmitEMSCommand(cmd, req.ChargeLimitMA, req.DischargeLimitMA)
	h.log.Info("manual command accepted", zap.String("pack_id", ctrl.ID), zap.String("kind", req.Kind))
	c.JSON(http.StatusAccepted, gin.H{"accepted": req.Kind})
}

// PostResetFaults is a convenience alias for the reset_faults command.
func (h *Handlers) PostResetFaults(c *gin.Context) {
	ctrl, ok := h.packController(c)
	if !ok {
		return
	}
	ctrl.SubmitEMSCommand(packfsm.CmdResetFaults, 0, 0)
	c.JSON(http.StatusAccepted, gin.H{"accepted": "reset_faults"})
}

// PostAckHardwareFault clears the independent hardware-safety latch.
// Unlike reset_faults, this bypasses the safe-state hold guard
// entirely. It is the only way to clear the hardware latch and the hw_*
// fault bits; a software reset leaves both in place and does not wait
// for this acknowledgement.
func (h *Handlers) PostAckHardwareFault(c *gin.Context) {
	ctrl, ok := h.packController(c)
	if !ok {
		return
	}
	ctrl.AckHardwareFault()
	h.log.Info("hardware fault acknowledged", zap.String("pack_id", ctrl.ID))
	c.JSON(http.StatusAccepted, gin.H{"accepted": "ack_hardware_fault"})
}

// PostAckWeld clears a latched WELDED contactor state after hardware
// service. It must never be called automatically; this is the only
// production path that invokes it.
func (h *Handlers) PostAckWeld(c *gin.Context) {
	ctrl, ok := h.packController(c)
	if !ok {
		return
	}
	ctrl.AckWeld()
	h.log.Info("contactor weld acknowledged", zap.String("pack_id", ctrl.ID))
	c.JSON(http.StatusAccepted, gin.H{"accepted": "ack_weld"})
}
