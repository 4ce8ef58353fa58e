package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vincentbai/gazetrace-agent/internal/aoi"
	"github.com/vincentbai/gazetrace-agent/internal/client"
	"github.com/vincentbai/gazetrace-agent/internal/database"
	"github.com/vincentbai/gazetrace-agent/internal/engine"
	"github.com/vincentbai/gazetrace-agent/internal/events"
	"github.com/vincentbai/gazetrace-agent/internal/export"
	"github.com/vincentbai/gazetrace-agent/internal/logger"
	"github.com/vincentbai/gazetrace-agent/internal/metrics"
	"github.com/vincentbai/gazetrace-agent/internal/models"
	"github.com/vincentbai/gazetrace-agent/internal/tracker"
)

// Deps are the collaborators a Server is wired with.
type Deps struct {
	DB          *database.Database
	Tracker     *tracker.Tracker
	Engine      *engine.Remote
	Environment *client.Environment
	Metrics     *metrics.Metrics
	Logger      logger.Logger
	SessionID   string
}

type Server struct {
	db        *database.Database
	address   string
	server    *http.Server
	tracker   *tracker.Tracker
	engine    *engine.Remote
	env       *client.Environment
	exporter  *export.Exporter
	metrics   *metrics.Metrics
	logger    logger.Logger
	sessionID string

	pendingMu sync.Mutex
	pending   []models.GazePoint

	// startMu serializes POST /calibrate; calibrationMu guards calibration.
	startMu       sync.Mutex
	calibrationMu sync.Mutex
	calibration   *calibrationRun
}

// calibrationRun is a sequence started over HTTP that owns the engine.
type calibrationRun struct {
	cancel context.CancelFunc
}

func NewServer(deps Deps, address string) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		db:        deps.DB,
		address:   address,
		tracker:   deps.Tracker,
		engine:    deps.Engine,
		env:       deps.Environment,
		exporter:  export.NewExporter(deps.Tracker, deps.Environment),
		metrics:   deps.Metrics,
		logger:    log.With(logger.String("session_id", deps.SessionID)),
		sessionID: deps.SessionID,
	}

	bus := deps.Tracker.Bus()
	bus.Subscribe(events.GazeSample, s.queuePoint)
	bus.Subscribe(events.CalibrationComplete, s.storeCalibration)
	return s
}

func (s *Server) queuePoint(event events.Event) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, *event.Point)
	s.pendingMu.Unlock()
}

func (s *Server) takePending() []models.GazePoint {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	points := s.pending
	s.pending = nil
	return points
}

func (s *Server) storeCalibration(event events.Event) {
	if err := s.db.SaveCalibration(context.Background(), s.sessionID, *event.Record); err != nil {
		s.logger.Error("Failed to store calibration", logger.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// handleClient takes page-load and resize reports from the browser.
func (s *Server) handleClient(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var report models.ClientReport
	if err := json.NewDecoder(request.Body).Decode(&report); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if report.UserAgent == "" {
		report.UserAgent = request.UserAgent()
	}
	s.env.Update(report)
	if report.Page != "" && report.Page != s.tracker.Page() {
		s.tracker.StartPage(report.Page)
		s.logger.Debug("Page started", logger.String("page", report.Page))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGaze(w http.ResponseWriter, request *http.Request) {
	switch request.Method {
	case http.MethodPost:
		s.ingestGaze(w, request)
	case http.MethodDelete:
		s.tracker.ClearData()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "POST or DELETE only", http.StatusMethodNotAllowed)
	}
}

func (s *Server) ingestGaze(w http.ResponseWriter, request *http.Request) {
	var batch models.GazeBatch
	if err := json.NewDecoder(request.Body).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	for _, prediction := range batch.Predictions {
		s.engine.Deliver(prediction)
	}

	points := s.takePending()
	if len(points) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.db.InsertGazePoints(request.Context(), s.sessionID, points); err != nil {
		s.logger.Error("Database error", logger.Error(err), logger.Int("points", len(points)))
		http.Error(w, "Failed to store gaze points", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent) // success, no body
}

type commandsResponse struct {
	Commands []engine.Command `json:"commands"`
	Dropped  int              `json:"dropped"`
}

func (s *Server) handleEngineCommands(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	commands, dropped := s.engine.DrainCommands()
	if commands == nil {
		commands = []engine.Command{}
	}
	if dropped > 0 {
		s.logger.Warn("Engine commands dropped before the browser polled", logger.Int("dropped", dropped))
	}
	writeJSON(w, http.StatusOK, commandsResponse{Commands: commands, Dropped: dropped})
}

func (s *Server) handleTrackerControl(action func()) http.HandlerFunc {
	return func(w http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		action()
		w.WriteHeader(http.StatusNoContent)
	}
}

type calibrateRequest struct {
	Positions []models.Position `json:"positions"`
}

type calibrationResponse struct {
	State      tracker.CalibrationState  `json:"state"`
	Record     *models.CalibrationRecord `json:"record"`
	Calibrated bool                      `json:"calibrated"`
}

func (s *Server) calibrationStatus(ctx context.Context) calibrationResponse {
	return calibrationResponse{
		State:      s.tracker.CalibrationState(),
		Record:     s.tracker.CalibrationRecord(),
		Calibrated: s.tracker.IsCalibrated(ctx),
	}
}

func (s *Server) handleCalibrate(w http.ResponseWriter, request *http.Request) {
	switch request.Method {
	case http.MethodPost:
		s.startCalibration(w, request)
	case http.MethodDelete:
		s.cancelRunningCalibration()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "POST or DELETE only", http.StatusMethodNotAllowed)
	}
}

func (s *Server) cancelRunningCalibration() {
	s.calibrationMu.Lock()
	defer s.calibrationMu.Unlock()
	if s.calibration != nil {
		s.calibration.cancel()
	}
}

func (s *Server) startCalibration(w http.ResponseWriter, request *http.Request) {
	var body calibrateRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()
	if !s.tracker.IsInitialized() {
		http.Error(w, tracker.ErrNotInitialized.Error(), http.StatusConflict)
		return
	}
	if s.tracker.CalibrationState().Phase.Running() {
		http.Error(w, tracker.ErrCalibrationInProgress.Error(), http.StatusConflict)
		return
	}

	// Calibration outlives the request; DELETE /calibrate cancels it.
	ctx, cancel := context.WithCancel(context.Background())
	run := &calibrationRun{cancel: cancel}

	// The run becomes cancellable only once it owns the engine. Started is
	// published from the calibrating goroutine, before Calibrate returns.
	started := make(chan struct{})
	var once sync.Once
	unsubscribe := s.tracker.Bus().Subscribe(events.CalibrationStarted, func(events.Event) {
		once.Do(func() {
			s.calibrationMu.Lock()
			s.calibration = run
			s.calibrationMu.Unlock()
			close(started)
		})
	})
	defer unsubscribe()

	result := make(chan error, 1)
	go func() {
		_, err := s.tracker.Calibrate(ctx, body.Positions)
		s.calibrationMu.Lock()
		if s.calibration == run {
			s.calibration = nil
		}
		s.calibrationMu.Unlock()
		cancel()
		if err != nil {
			s.logger.Warn("Calibration did not complete", logger.Error(err))
		}
		result <- err
	}()

	select {
	case <-started:
		writeJSON(w, http.StatusAccepted, s.calibrationStatus(request.Context()))
	case err := <-result:
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, s.calibrationStatus(request.Context()))
		case errors.Is(err, tracker.ErrNotInitialized),
			errors.Is(err, tracker.ErrCalibrationInProgress),
			errors.Is(err, tracker.ErrNoViewport):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "Failed to start calibration", http.StatusInternalServerError)
		}
	}
}

func (s *Server) handleCalibration(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.calibrationStatus(request.Context()))
}

func (s *Server) handleExport(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	record := s.exporter.ExportGazeData()
	stored, err := s.db.SaveExport(request.Context(), s.sessionID, record)
	if err != nil {
		s.logger.Error("Database error", logger.Error(err))
		http.Error(w, "Failed to store export", http.StatusInternalServerError)
		return
	}
	s.metrics.RecordExport(stored.Points)
	s.logger.Info("Export stored",
		logger.String("export_id", stored.ID),
		logger.Int("points", stored.Points),
		logger.Int("bytes", stored.Bytes),
	)
	w.Header().Set("X-Export-ID", stored.ID)
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDwell(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var body models.DwellRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	dwell := aoi.CalculateDwellTimeOnAOIs(aoi.SourceFromSpecs(body.Regions), s.tracker.GazeData())
	s.metrics.RecordDwell()
	writeJSON(w, http.StatusOK, dwell)
}

func (s *Server) handleStats(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var body models.StatsRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	region := aoi.StaticRegion{Name: body.Region.Label, Rect: body.Region.Rect}
	writeJSON(w, http.StatusOK, aoi.CalculateGazeStats(region, s.tracker.GazeData(), body.TimeRange))
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/client", s.handleClient)
	mux.HandleFunc("/gaze", s.handleGaze)
	mux.HandleFunc("/engine/commands", s.handleEngineCommands)
	mux.HandleFunc("/tracker/pause", s.handleTrackerControl(s.tracker.Pause))
	mux.HandleFunc("/tracker/resume", s.handleTrackerControl(s.tracker.Resume))
	mux.HandleFunc("/tracker/stop", s.handleTrackerControl(s.tracker.Stop))
	mux.HandleFunc("/calibrate", s.handleCalibrate)
	mux.HandleFunc("/calibration", s.handleCalibration)
	mux.HandleFunc("/export", s.handleExport)
	mux.HandleFunc("/aoi/dwell", s.handleDwell)
	mux.HandleFunc("/aoi/stats", s.handleStats)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) Start() error {
	mux := s.setupRoutes()
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("GazeTrace agent listening", logger.String("address", s.address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-shutdownChannel:
	}
	s.logger.Info("Shutting down server...")

	s.cancelRunningCalibration()
	s.tracker.Stop()

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return err
	}

	s.logger.Info("Server exited")
	return nil
}
