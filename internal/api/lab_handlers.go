package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/simulation"
	"github.com/lorawan-server/lorawan-virtual-lab/pkg/lorawan"
)

// HandleGetLab returns the full lab snapshot
func (s *RESTServer) HandleGetLab(w http.ResponseWriter, r *http.Request) {
	var snap simulation.Snapshot
	if !s.run(w, r, func() { snap = s.lab.Snapshot() }) {
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// HandleGetLogs returns the retained log window
func (s *RESTServer) HandleGetLogs(w http.ResponseWriter, r *http.Request) {
	var logs []models.LogEntry
	if !s.run(w, r, func() { logs = s.lab.Logs() }) {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": len(logs),
	})
}

// HandleGetHistory returns the history of one sensor
func (s *RESTServer) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseSensorKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		values  []float64
		summary models.HistorySummary
	)
	if !s.run(w, r, func() { values, summary, err = s.lab.History(kind) }) {
		return
	}
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"kind":    kind,
		"unit":    kind.Unit(),
		"values":  values,
		"summary": summary,
	})
}

// HandleAirtime evaluates the airtime model for the query parameters. Any
// parameter left out takes the configured default.
func (s *RESTServer) HandleAirtime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	radio := s.config.Simulation.Radio
	payload := s.config.Simulation.PayloadBytes

	var err error
	if v := q.Get("sf"); v != "" {
		if radio.SpreadingFactor, err = strconv.Atoi(v); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid sf")
			return
		}
	}
	if v := q.Get("bw"); v != "" {
		if radio.BandwidthKHz, err = strconv.Atoi(v); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid bw")
			return
		}
	}
	if v := q.Get("cr"); v != "" {
		radio.CodingRate = lorawan.CodingRate(v)
	}
	if v := q.Get("payload"); v != "" {
		if payload, err = strconv.Atoi(v); err != nil || payload < 0 || payload > 255 {
			s.respondError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}

	if err := radio.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	region := lorawan.GetRegionConfiguration(s.config.Simulation.Region)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"radio":          radio,
		"payloadBytes":   payload,
		"airtimeMs":      radio.AirtimeMs(payload),
		"dataRateBps":    radio.DataRateBps(),
		"symbolMs":       lorawan.SymbolDurationMs(radio.SpreadingFactor, radio.BandwidthKHz),
		"dataRateIndex":  region.DataRateIndex(radio.SpreadingFactor, radio.BandwidthKHz),
		"maxPayloadSize": region.MaxPayloadSize(radio.SpreadingFactor, radio.BandwidthKHz),
		"cycleDelayMs":   s.config.Simulation.CycleDelay(radio.SpreadingFactor).Milliseconds(),
	})
}

// HandleGenerateIdentity returns a fresh random identity without applying it
func (s *RESTServer) HandleGenerateIdentity(w http.ResponseWriter, r *http.Request) {
	var (
		id  models.DeviceIdentity
		err error
	)
	if !s.run(w, r, func() { id, err = s.lab.GenerateIdentity() }) {
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, id)
}

// ========== Commands ==========

// HandleSelectDevice switches the device profile
func (s *RESTServer) HandleSelectDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.command(w, r, simulation.Command{Name: simulation.CommandSelectDevice, Profile: req.Profile})
}

// HandleSetRadio changes SF, bandwidth and coding rate
func (s *RESTServer) HandleSetRadio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SpreadingFactor int    `json:"spreadingFactor" validate:"required"`
		BandwidthKHz    int    `json:"bandwidthKHz" validate:"required"`
		CodingRate      string `json:"codingRate" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	radio := lorawan.RadioConfig{
		SpreadingFactor: req.SpreadingFactor,
		BandwidthKHz:    req.BandwidthKHz,
		CodingRate:      lorawan.CodingRate(req.CodingRate),
	}
	s.command(w, r, simulation.Command{Name: simulation.CommandSetRadio, Radio: &radio})
}

// HandleSetSensor enables or disables one sensor
func (s *RESTServer) HandleSetSensor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.command(w, r, simulation.Command{
		Name:    simulation.CommandSetSensor,
		Sensor:  models.SensorKind(chi.URLParam(r, "kind")),
		Enabled: req.Enabled,
	})
}

// HandleSetInterval changes the refresh tick period
func (s *RESTServer) HandleSetInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IntervalMs int64 `json:"intervalMs" validate:"required,min=100,max=60000"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.command(w, r, simulation.Command{Name: simulation.CommandSetInterval, IntervalMs: req.IntervalMs})
}

// HandleActivate activates the device with the posted identity
func (s *RESTServer) HandleActivate(w http.ResponseWriter, r *http.Request) {
	var id models.DeviceIdentity
	if err := json.NewDecoder(r.Body).Decode(&id); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// identity validation happens in the lab so the failure is logged there
	s.command(w, r, simulation.Command{Name: simulation.CommandActivate, Identity: &id})
}

// HandleDeactivate deactivates the device
func (s *RESTServer) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, simulation.Command{Name: simulation.CommandDeactivate})
}

// HandleStart starts transmitting
func (s *RESTServer) HandleStart(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, simulation.Command{Name: simulation.CommandStart})
}

// HandlePause pauses transmitting
func (s *RESTServer) HandlePause(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, simulation.Command{Name: simulation.CommandPause})
}

// HandleReset resets the lab
func (s *RESTServer) HandleReset(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, simulation.Command{Name: simulation.CommandReset})
}

// command applies cmd on the lab goroutine and replies with the new snapshot
func (s *RESTServer) command(w http.ResponseWriter, r *http.Request, cmd simulation.Command) {
	var (
		cmdErr error
		snap   simulation.Snapshot
	)
	ok := s.run(w, r, func() {
		cmdErr = s.lab.Apply(cmd)
		snap = s.lab.Snapshot()
	})
	if !ok {
		return
	}

	if cmdErr != nil {
		log.Debug().Err(cmdErr).Str("command", cmd.Name).Msg("Lab command refused")
		s.respondError(w, statusFor(cmdErr), cmdErr.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, snap)
}

// run executes f on the lab goroutine, replying 503 if that is not possible
func (s *RESTServer) run(w http.ResponseWriter, r *http.Request, f func()) bool {
	if err := s.exec.Do(r.Context(), f); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Lab unavailable")
		s.respondError(w, http.StatusServiceUnavailable, "lab unavailable")
		return false
	}
	return true
}

// decode reads and validates a JSON request body
func (s *RESTServer) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validator.Validate(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case simulation.IsUserError(err):
		return http.StatusBadRequest
	case simulation.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
