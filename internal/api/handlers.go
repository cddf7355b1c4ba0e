package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/hub"
	"codeberg.org/mutker/hubctl/internal/policy"
	"github.com/gorilla/mux"
	"github.com/spf13/cast"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	snap := s.hub.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"phase":  snap.Phase,
	})
}

func (s *server) sensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sensors": s.hub.Snapshot(),
		"status":  "online",
	})
}

// ingest accepts readings posted to the hub, by default from a directly
// attached device. The response carries the actuator states the device
// should apply.
func (s *server) ingest(w http.ResponseWriter, r *http.Request) {
	source := hub.SourceDirect
	if raw := r.URL.Query().Get("source"); raw != "" {
		var err error
		if source, err = hub.ParseSource(raw); err != nil {
			s.writeError(w, err)
			return
		}
	}

	var readings map[string]any
	if err := decodeBody(w, r, &readings); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.hub.Ingest(source, readings, time.Time{})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "received",
		"accepted": res.Accepted,
		"dropped":  res.Dropped,
		"commands": s.hub.Actuators(),
	})
}

// control sets the manual override and/or actuator states. The request is
// validated as a whole before anything is applied.
func (s *server) control(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	var manual *bool
	if raw, ok := body["manual_mode"]; ok {
		v, err := cast.ToBoolE(raw)
		if err != nil {
			s.writeError(w, errors.New().WithMessage(errors.ErrInvalidArgument, "manual_mode must be a boolean"))
			return
		}
		manual = &v
	}

	cmds := make(map[string]string)
	for _, name := range []string{policy.ActuatorFan, policy.ActuatorLight, policy.ActuatorVentilation} {
		raw, ok := body[name]
		if !ok {
			continue
		}
		v, ok := raw.(string)
		if !ok {
			s.writeError(w, errors.New().WithMessage(errors.ErrInvalidArgument, name+" must be a string"))
			return
		}
		cmds[name] = v
	}

	if _, err := policy.AllOff().Apply(cmds); err != nil {
		s.writeError(w, err)
		return
	}

	if manual != nil {
		s.hub.SetManualOverride(*manual)
	}

	actuators := s.hub.Actuators()
	if len(cmds) > 0 {
		var err error
		if actuators, err = s.hub.SetActuators(cmds); err != nil {
			s.writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"manual_mode":   s.hub.ManualOverride(),
		"control_state": actuators,
	})
}

func (s *server) thresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"thresholds": s.hub.Thresholds()})
}

func (s *server) setThresholds(w http.ResponseWriter, r *http.Request) {
	var update policy.Thresholds
	if err := decodeBody(w, r, &update); err != nil {
		s.writeError(w, err)
		return
	}

	th, err := s.hub.SetThresholds(update)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "thresholds": th})
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	metric := mux.Vars(r)["metric"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, errors.New().WithMessage(errors.ErrInvalidArgument, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	samples, err := s.hub.History(metric, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"metric": metric, "samples": samples})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errors.New().WithMessage(errors.ErrInvalidArgument, "invalid JSON body: "+err.Error())
	}

	return nil
}

func statusOf(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalidArgument:
		return http.StatusBadRequest
	case errors.ErrResourceNotFound:
		return http.StatusNotFound
	case errors.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusOf(code)

	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("error_code", string(code)).Msg("Request failed")
	}

	writeJSON(w, status, errorBody{Error: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
