package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
)

type Server struct {
	Pool    *fleet.Registry
	Matcher *matcher.Service
	WSReg   *dispatch.WSRegistry
	logger  *slog.Logger
	mux     *mux.Router
}

func New(pool *fleet.Registry, m *matcher.Service, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Pool: pool, Matcher: m, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods(http.MethodPost)
	api.HandleFunc("/drivers", s.handleListDrivers).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}", s.handleGetDriver).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}/location", s.handleUpdateLocation).Methods(http.MethodPut)
	api.HandleFunc("/drivers/{id}/availability", s.handleSetAvailability).Methods(http.MethodPut)
	api.HandleFunc("/drivers/{id}/complete", s.handleCompleteRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/request", s.handleRideRequest).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleListRides).Methods(http.MethodGet)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type registerDriverRequest struct {
	ID  string       `json:"id"`
	Loc models.Coord `json:"loc"`
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}
	d, err := s.Pool.RegisterDriver(r.Context(), req.ID, req.Loc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers := s.Pool.Drivers()
	if v := r.URL.Query().Get("available"); v != "" {
		want, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "available must be a boolean")
			return
		}
		filtered := drivers[:0]
		for _, d := range drivers {
			if d.Available == want {
				filtered = append(filtered, d)
			}
		}
		drivers = filtered
	}
	writeJSON(w, http.StatusOK, drivers)
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	d, ok := s.Pool.Driver(mux.Vars(r)["id"])
	if !ok {
		writeJSONError(w, http.StatusNotFound, "driver not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if !decode(w, r, &loc) {
		return
	}
	d, err := s.Pool.UpdateLocation(r.Context(), mux.Vars(r)["id"], loc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type availabilityRequest struct {
	Available *bool `json:"available"`
}

func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Available == nil {
		writeJSONError(w, http.StatusBadRequest, "available is required")
		return
	}
	// Drivers only become busy by being matched.
	if !*req.Available {
		writeJSONError(w, http.StatusBadRequest, "available can only be set to true")
		return
	}
	d, err := s.Pool.SetAvailability(r.Context(), mux.Vars(r)["id"], true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if !decode(w, r, &loc) {
		return
	}
	d, err := s.Matcher.CompleteRide(r.Context(), mux.Vars(r)["id"], loc, s.Pool)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type rideRequest struct {
	RiderID string       `json:"rider_id"`
	Loc     models.Coord `json:"loc"`
}

type rideResponse struct {
	Matched bool                `json:"matched"`
	Rider   models.Rider        `json:"rider"`
	Match   *models.MatchResult `json:"match,omitempty"`
}

// handleRideRequest registers the rider unless already known, then matches.
// A known rider keeps its registered pickup location.
func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req rideRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RiderID == "" {
		req.RiderID = uuid.NewString()
	}
	rider, ok := s.Pool.Rider(req.RiderID)
	if !ok {
		var err error
		rider, err = s.Pool.RegisterRider(r.Context(), req.RiderID, req.Loc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	res, matched, err := s.Matcher.MatchRide(r.Context(), rider, s.Pool)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := rideResponse{Matched: matched, Rider: rider}
	if matched {
		resp.Match = &res
		s.requestLogger(r).Info("ride matched", "ride_id", res.Ride.ID, "rider_id", rider.ID, "matched_driver_id", res.Driver.ID, "distance_km", res.DistanceKm, "fare", res.Fare)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Pool.Rides())
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	if _, ok := s.Pool.Driver(id); !ok {
		writeJSONError(w, http.StatusNotFound, "driver not found")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.requestLogger(r).Warn("ws upgrade failed", "error", err)
		return
	}
	s.WSReg.Add(id, conn)
	defer func() {
		s.WSReg.Remove(id, conn)
		_ = conn.Close()
	}()
	// Drivers only receive; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.requestLogger(r).Error("request failed", "error", err)
	}
	writeJSONError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fleet.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, fleet.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fleet.ErrInvalidAmount), errors.Is(err, fleet.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, fleet.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
