package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dataset-audit/internal/decision"
	"github.com/sells-group/dataset-audit/internal/explain"
	"github.com/sells-group/dataset-audit/internal/ledger"
	"github.com/sells-group/dataset-audit/internal/metadata"
	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/monitoring"
	"github.com/sells-group/dataset-audit/internal/pipeline"
	"github.com/sells-group/dataset-audit/internal/store"
	"github.com/sells-group/dataset-audit/internal/table"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP front end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAuditor(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := newServer(env, serverOptions{
			MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
			CORSOrigins:    cfg.Server.CORSOrigins,
			Audience:       explain.Audience(cfg.Explain.Audience),
		})

		if cfg.Monitoring.Enabled {
			srv.checker = monitoring.NewChecker(
				monitoring.NewCollector(cfg.Ledger.Path, env.Store, cfg.Monitoring.SampleSize),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Ledger.VerifySchedule,
			)
			go func() {
				if err := srv.checker.Run(ctx); err != nil {
					zap.L().Error("ledger checker stopped", zap.Error(err))
				}
			}()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type serverOptions struct {
	MaxUploadBytes int64
	CORSOrigins    []string
	Audience       explain.Audience
}

type server struct {
	env     *auditEnv
	opts    serverOptions
	checker *monitoring.Checker
}

func newServer(env *auditEnv, opts serverOptions) *server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 256 << 20
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if _, ok := explain.ParseAudience(string(opts.Audience)); !ok {
		opts.Audience = explain.AudienceEngineer
	}
	return &server{env: env, opts: opts}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/ledger/verify", s.verifyLedger)

	r.Route("/audits", func(r chi.Router) {
		r.Post("/", s.createAudit)
		r.Get("/", s.listAudits)
		r.Get("/{auditID}", s.getAudit)
		r.Get("/{auditID}/history", s.getHistory)
		r.Post("/{auditID}/overrides", s.createOverride)
	})
	return r
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.checker != nil {
		if snap := s.checker.Last(); snap != nil {
			body["ledger"] = snap.Ledger
			body["abort_rate"] = snap.AbortRate
			body["checked_at"] = snap.CollectedAt
			if !snap.Ledger.Valid {
				body["status"] = "degraded"
			}
		}
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *server) verifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.env.Ledger == nil {
		respondError(w, http.StatusServiceUnavailable, "ledger_disabled", "no ledger is configured")
		return
	}
	vr, err := ledger.Verify(s.env.Ledger.Path())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "verify_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, vr)
}

type auditResponse struct {
	Report      model.Report             `json:"report"`
	Trace       decision.Trace           `json:"trace"`
	Warnings    []model.IngestionWarning `json:"warnings"`
	RecordHash  string                   `json:"record_hash,omitempty"`
	Explanation *explain.Response        `json:"explanation,omitempty"`
}

func (s *server) createAudit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", "expected a multipart form with a data file")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	dir, err := os.MkdirTemp("", "dataset-audit-*")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "could not stage upload")
		return
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	dataPath, err := saveUpload(r, "data", dir)
	if err != nil || dataPath == "" {
		respondError(w, http.StatusBadRequest, "missing_data", "form field \"data\" must carry the dataset file")
		return
	}
	metaPath, err := saveUpload(r, "metadata", dir)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	res, err := s.env.Auditor.Audit(r.Context(), pipeline.Request{
		DataPath:     dataPath,
		MetadataPath: metaPath,
		Notes:        r.FormValue("notes"),
	})
	if err != nil {
		status, code := auditErrorStatus(err)
		zap.L().Warn("audit request failed", zap.Error(err), zap.Int("status", status))
		respondError(w, status, code, err.Error())
		return
	}

	resp := auditResponse{
		Report:     res.Report,
		Trace:      res.Trace,
		Warnings:   res.Warnings,
		RecordHash: res.RecordHash,
	}
	if resp.Warnings == nil {
		resp.Warnings = []model.IngestionWarning{}
	}
	if explainReq, _ := strconv.ParseBool(r.FormValue("explain")); explainReq {
		audience, ok := explain.ParseAudience(r.FormValue("audience"))
		if !ok {
			audience = s.opts.Audience
		}
		e := s.env.Auditor.Explain(r.Context(), res, audience)
		resp.Explanation = &e
	}
	respondJSON(w, http.StatusCreated, resp)
}

// saveUpload copies the named form file into dir under its base name so the
// loader sees the original extension. It returns "" when the field is absent.
func saveUpload(r *http.Request, field, dir string) (string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "read %s upload", field)
	}
	defer file.Close() //nolint:errcheck
	return writeUpload(file, header, filepath.Join(dir, field))
}

func writeUpload(src multipart.File, header *multipart.FileHeader, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "stage upload")
	}
	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "stage upload")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close() //nolint:errcheck
		return "", eris.Wrap(err, "stage upload")
	}
	return path, eris.Wrap(dst.Close(), "stage upload")
}

func auditErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, table.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, table.ErrMalformed):
		return http.StatusUnprocessableEntity, "malformed_dataset"
	case errors.Is(err, metadata.ErrInvalidMetadata):
		return http.StatusUnprocessableEntity, "invalid_metadata"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *server) listAudits(w http.ResponseWriter, r *http.Request) {
	if s.env.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "store_disabled", "no history store is configured")
		return
	}
	q := r.URL.Query()
	filter := store.ReportFilter{}
	if d := q.Get("decision"); d != "" {
		dec, ok := parseDecision(d)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_decision", "decision must be proceed, fix or abort")
			return
		}
		filter.Decision = dec
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	reports, err := s.env.Store.ListReports(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if reports == nil {
		reports = []model.StoredReport{}
	}
	respondJSON(w, http.StatusOK, reports)
}

// getAudit serves a report from the store, or from the ledger when no store
// is configured.
func (s *server) getAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "auditID")

	if s.env.Store != nil {
		sr, err := s.env.Store.GetReport(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "not_found", "audit not found")
		case err != nil:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		default:
			respondJSON(w, http.StatusOK, sr)
		}
		return
	}

	if s.env.Ledger != nil {
		records, err := s.env.Ledger.Find(id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		if len(records) > 0 {
			last := records[len(records)-1]
			respondJSON(w, http.StatusOK, model.StoredReport{Report: last.Report, RecordHash: last.RecordHash})
			return
		}
	}
	respondError(w, http.StatusNotFound, "not_found", "audit not found")
}

func (s *server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.env.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "store_disabled", "no history store is configured")
		return
	}
	h, err := s.env.Store.GetHistory(r.Context(), chi.URLParam(r, "auditID"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "audit not found")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	default:
		respondJSON(w, http.StatusOK, h)
	}
}

func (s *server) createOverride(w http.ResponseWriter, r *http.Request) {
	if s.env.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "store_disabled", "no history store is configured")
		return
	}
	var body struct {
		Action        string `json:"action"`
		Justification string `json:"justification"`
		ReviewerID    string `json:"reviewer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	action, ok := model.ParseOverrideAction(body.Action)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_action", "action must be proceed_anyway, fix_later or abort_anyway")
		return
	}
	if body.Justification == "" || body.ReviewerID == "" {
		respondError(w, http.StatusBadRequest, "invalid_body", "justification and reviewer_id are required")
		return
	}

	id := chi.URLParam(r, "auditID")
	o, err := s.env.Store.RecordOverride(r.Context(), model.Override{
		AuditID:       id,
		Action:        action,
		Justification: body.Justification,
		ReviewerID:    body.ReviewerID,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "audit not found")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	default:
		respondJSON(w, http.StatusCreated, o)
	}
}
