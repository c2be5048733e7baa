package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/timzifer/eloss/eloss"
	"github.com/timzifer/eloss/geometry"
	"github.com/timzifer/eloss/stopping"
)

type healthResponse struct {
	Status  string    `json:"status"`
	Source  string    `json:"source,omitempty"`
	BuiltAt time.Time `json:"built_at"`
}

type tableInfo struct {
	Projectile string  `json:"projectile"`
	Target     string  `json:"target"`
	Points     int     `json:"points"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

type chainRequest struct {
	Rhoa     float64 `json:"rhoa"`
	Pressure float64 `json:"pressure"`
}

type scanRequest struct {
	Rhoa      []float64 `json:"rhoa"`
	Pressures []float64 `json:"pressures"`
}

type scanRow struct {
	Index    int                `json:"index"`
	Rhoa     float64            `json:"rhoa"`
	Pressure float64            `json:"pressure"`
	Chain    geometry.Chain     `json:"chain"`
	Columns  map[string]float64 `json:"columns,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	eng := s.Engine()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Source:  eng.Config().Source,
		BuiltAt: eng.BuiltAt(),
	})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	cat := s.Engine().Catalog()
	keys := cat.Keys()
	out := make([]tableInfo, 0, len(keys))
	for _, key := range keys {
		table, err := cat.Table(key.Projectile, key.Target)
		if err != nil {
			continue
		}
		lo, hi := table.Bounds()
		out = append(out, tableInfo{
			Projectile: key.Projectile,
			Target:     key.Target,
			Points:     table.Len(),
			Min:        lo,
			Max:        hi,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEnergyLoss(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectile := strings.TrimSpace(q.Get("projectile"))
	target := strings.TrimSpace(q.Get("target"))
	if projectile == "" || target == "" {
		writeError(w, http.StatusBadRequest, errors.New("projectile and target are required"))
		return
	}
	energy, err := parseFloatParam(q.Get("energy"), "energy")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	thickness, err := parseFloatParam(q.Get("thickness"), "thickness")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := s.Engine().Calculator().Traverse(projectile, energy, target, thickness)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Rhoa < 0 || req.Pressure < 0 {
		writeError(w, http.StatusBadRequest, errors.New("rhoa and pressure must not be negative"))
		return
	}
	chain, err := s.Engine().Chain(req.Rhoa, req.Pressure)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	eng := s.Engine()
	plan := eng.Plan()
	if len(req.Rhoa) > 0 {
		plan.Rhoa = req.Rhoa
	}
	if len(req.Pressures) > 0 {
		plan.Pressures = req.Pressures
	}
	for _, v := range append(append([]float64(nil), plan.Rhoa...), plan.Pressures...) {
		if v < 0 {
			writeError(w, http.StatusBadRequest, errors.New("rhoa and pressures must not be negative"))
			return
		}
	}
	if n := len(plan.Rhoa) * len(plan.Pressures); n > s.maxPoints {
		writeError(w, http.StatusBadRequest, fmt.Errorf("scan has %d points, limit is %d", n, s.maxPoints))
		return
	}

	rows, err := eng.Runner(0).Run(r.Context(), plan)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]scanRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, scanRow{
			Index:    row.Index,
			Rhoa:     row.Rhoa,
			Pressure: row.Pressure,
			Chain:    row.Chain,
			Columns:  row.Columns,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, eloss.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, stopping.ErrMissingTable),
		errors.Is(err, stopping.ErrMissingMass),
		errors.Is(err, stopping.ErrMissingMaterial):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func parseFloatParam(raw, name string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: fmt.Sprintf("encode response: %v", err)})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
