package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vodwatch/internal/api"
	"vodwatch/internal/config"
	"vodwatch/internal/jobs"
	"vodwatch/internal/logging"
	"vodwatch/internal/retry"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	// The webhook authenticates with its own HMAC signature; the metrics
	// endpoint stays open for scrapers.
	mux.Handle("/webhooks/transcoder", d.ingestor)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/jobs", authMiddleware(token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", authMiddleware(token, srv.handleJob))
	mux.HandleFunc("/admin/jobs/monitor", authMiddleware(token, srv.handleMonitor))
	mux.HandleFunc("/admin/jobs/retry", authMiddleware(token, srv.handleRetry))
	mux.HandleFunc("/admin/notifications/test", authMiddleware(token, srv.handleTestNotification))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		Reconciling:  status.Reconciling,
		DBPath:       status.DBPath,
		LockFilePath: status.LockFilePath,
		Jobs:         api.FromHealth(status.Jobs),
	})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobs(w, r)
	case http.MethodPost:
		s.registerJob(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	var states []jobs.State
	for _, value := range r.URL.Query()["state"] {
		state, ok := jobs.ParseState(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", value))
			return
		}
		states = append(states, state)
	}

	views, err := s.daemon.jobsSvc.List(r.Context(), states...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: views})
}

func (s *apiServer) registerJob(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterJobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	view, err := s.daemon.jobsSvc.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	detail, err := s.daemon.jobsSvc.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if detail == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleMonitor(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.monitorSnapshot(w, r)
	case http.MethodPost:
		s.monitorPoll(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) monitorSnapshot(w http.ResponseWriter, r *http.Request) {
	counts, err := s.daemon.jobsSvc.Counts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := api.MonitorResponse{Counts: counts}

	query := r.URL.Query()
	includeStuck := query.Get("includeStuck") == "1" || strings.EqualFold(query.Get("includeStuck"), "true")
	if includeStuck {
		threshold := time.Duration(0)
		if value := strings.TrimSpace(query.Get("stuckThresholdMinutes")); value != "" {
			minutes, err := strconv.Atoi(value)
			if err != nil || minutes <= 0 {
				s.writeError(w, http.StatusBadRequest, "invalid stuckThresholdMinutes")
				return
			}
			threshold = time.Duration(minutes) * time.Minute
		}
		stuck, err := s.daemon.StuckJobs(r.Context(), threshold)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, job := range stuck {
			resp.Stuck = append(resp.Stuck, api.FromJob(job))
		}
		if threshold > 0 {
			resp.StuckThresholdMinutes = int(threshold / time.Minute)
		} else {
			resp.StuckThresholdMinutes = s.daemon.cfg.Reconcile.StuckThresholdMinutes
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) monitorPoll(w http.ResponseWriter, r *http.Request) {
	report, err := s.daemon.RunPollCycle(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := s.daemon.jobsSvc.Counts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.PollResponse{
		Checked:   report.Checked,
		Applied:   report.Applied,
		Recovered: report.Recovered,
		Skipped:   report.Skipped,
		Errors:    report.Errors,
		Counts:    counts,
	})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.RetryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var resp api.RetryResponse
	if id := strings.TrimSpace(req.JobID); id != "" {
		outcome, err := s.daemon.RetryJob(r.Context(), id, req.MaxRetries)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "job not found")
				return
			}
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp.Outcomes = []api.RetryOutcomeView{fromOutcomeView(outcome)}
		if outcome.Recovered {
			resp.Recovered = 1
		}
	} else {
		outcomes, recovered, err := s.daemon.RetryAllFailed(r.Context(), req.MaxRetries)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, outcome := range outcomes {
			resp.Outcomes = append(resp.Outcomes, fromOutcomeView(outcome))
		}
		resp.Recovered = recovered
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, message)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TestNotificationResponse{Sent: sent, Message: message})
}

func fromOutcomeView(outcome retry.Outcome) api.RetryOutcomeView {
	return api.RetryOutcomeView{
		JobID:     outcome.JobID,
		Recovered: outcome.Recovered,
		Attempts:  outcome.Attempts,
		Orphaned:  outcome.Orphaned,
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.NewNop()
}
