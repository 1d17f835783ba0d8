package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/compool-bridge/internal/accessory"
	"github.com/thatsimonsguy/compool-bridge/internal/heating"
	"github.com/thatsimonsguy/compool-bridge/internal/interlock"
	"github.com/thatsimonsguy/compool-bridge/internal/model"
	"github.com/thatsimonsguy/compool-bridge/internal/relays"
)

const defaultJournalLimit = 50

type Journal interface {
	Recent(ctx context.Context, target string, limit int) ([]model.CommandRecord, error)
}

type Server struct {
	svc      *accessory.Service
	hub      *accessory.Hub
	gatherer prometheus.Gatherer
	journal  Journal
}

type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type TargetTempRequest struct {
	Temperature *float64 `json:"temperature" binding:"required"`
}

type SwitchRequest struct {
	On *bool `json:"on" binding:"required"`
}

type AccessoriesResponse struct {
	Info  accessory.Info `json:"info"`
	State model.State    `json:"state"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer wires the HTTP API. gatherer and journal may be nil.
func NewServer(svc *accessory.Service, hub *accessory.Hub, gatherer prometheus.Gatherer, journal Journal) *Server {
	return &Server{svc: svc, hub: hub, gatherer: gatherer, journal: journal}
}

func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), cors())

	router.GET("/health", s.health)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/accessories", s.getAccessories)
		v1.POST("/identify", s.identify)

		zones := v1.Group("/zones")
		zones.GET("/:zone", s.getZone)
		zones.PUT("/:zone/mode", s.setZoneMode)
		zones.PUT("/:zone/target-temp", s.setZoneTargetTemp)

		aux := v1.Group("/aux")
		aux.GET("", s.getSwitches)
		aux.GET("/:index", s.getSwitch)
		aux.PUT("/:index", s.setSwitch)

		v1.GET("/air", s.getAir)
		v1.GET("/commands", s.getCommands)
		v1.GET("/stream", s.stream)
	}
	return router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Starting REST API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	st := s.svc.State()
	if st.ReceivedAt.IsZero() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "waiting for controller"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "received_at": st.ReceivedAt})
}

func (s *Server) getAccessories(c *gin.Context) {
	c.JSON(http.StatusOK, AccessoriesResponse{Info: s.svc.Info(), State: s.svc.State()})
}

func (s *Server) identify(c *gin.Context) {
	s.svc.Identify()
	c.Status(http.StatusOK)
}

func zoneParam(c *gin.Context) (model.ZoneName, bool) {
	zone, err := model.ParseZoneName(c.Param("zone"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return zone, true
}

func (s *Server) getZone(c *gin.Context) {
	zone, ok := zoneParam(c)
	if !ok {
		return
	}
	zs, err := s.svc.Thermostat(zone)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, zs)
}

func (s *Server) setZoneMode(c *gin.Context) {
	zone, ok := zoneParam(c)
	if !ok {
		return
	}
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON payload"})
		return
	}
	mode, err := model.ParseMode(req.Mode)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.svc.SetTargetMode(c.Request.Context(), zone, mode); err != nil {
		log.Error().Err(err).Str("zone", string(zone)).Str("mode", string(mode)).Msg("Failed to set zone mode")
		writeError(c, err)
		return
	}
	log.Info().Str("zone", string(zone)).Str("mode", string(mode)).Msg("Zone mode updated via API")
	c.Status(http.StatusOK)
}

func (s *Server) setZoneTargetTemp(c *gin.Context) {
	zone, ok := zoneParam(c)
	if !ok {
		return
	}
	var req TargetTempRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON payload"})
		return
	}

	if err := s.svc.SetTargetTemp(c.Request.Context(), zone, *req.Temperature); err != nil {
		log.Error().Err(err).Str("zone", string(zone)).Float64("temperature", *req.Temperature).Msg("Failed to set zone temperature")
		writeError(c, err)
		return
	}
	log.Info().Str("zone", string(zone)).Float64("temperature", *req.Temperature).Msg("Zone temperature updated via API")
	c.Status(http.StatusOK)
}

func indexParam(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: %q", relays.ErrUnknownRelay, c.Param("index")))
		return 0, false
	}
	return index, true
}

func (s *Server) getSwitches(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Switches())
}

func (s *Server) getSwitch(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	sw, err := s.svc.Switch(index)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sw)
}

func (s *Server) setSwitch(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON payload"})
		return
	}

	if err := s.svc.SetSwitch(c.Request.Context(), index, *req.On); err != nil {
		log.Error().Err(err).Int("aux", index).Bool("on", *req.On).Msg("Failed to set switch")
		writeError(c, err)
		return
	}
	log.Info().Int("aux", index).Bool("on", *req.On).Msg("Switch updated via API")
	c.Status(http.StatusOK)
}

func (s *Server) getAir(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"temperature": s.svc.AirTemperature()})
}

func (s *Server) getCommands(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "command journal disabled"})
		return
	}
	limit := defaultJournalLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	recs, err := s.journal.Recent(c.Request.Context(), c.Query("target"), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read command journal")
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []model.CommandRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnknownZone), errors.Is(err, relays.ErrUnknownRelay):
		return http.StatusNotFound
	case errors.Is(err, heating.ErrCapabilityViolation),
		errors.Is(err, model.ErrInvalidMode),
		errors.Is(err, interlock.ErrTemperatureOutOfRange),
		errors.Is(err, interlock.ErrInvalidTime):
		return http.StatusUnprocessableEntity
	case errors.Is(err, interlock.ErrCommandTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, interlock.ErrCommandFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(StatusFor(err), ErrorResponse{Error: err.Error()})
}
