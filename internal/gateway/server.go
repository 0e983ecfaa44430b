package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/access"
	"github.com/MEKXH/warden/internal/agenttool"
	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/oversight"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/MEKXH/warden/internal/version"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// ActionSubmitter runs actions through the safety pipeline. *safety.System satisfies it.
type ActionSubmitter interface {
	SubmitAction(ctx context.Context, req safety.ActionRequest) (safety.SubmitResult, error)
	Status() safety.StatusSnapshot
}

// Reviewer exposes the oversight queue. *oversight.Protocol satisfies it.
type Reviewer interface {
	Pending() []oversight.Request
	Get(id string) (oversight.Request, bool)
	Decide(id string, decision oversight.Decision, in oversight.DecisionInput) (oversight.Request, error)
}

// Authenticator issues and verifies session tokens. *access.Manager satisfies it.
type Authenticator interface {
	Authenticate(username, secret string) access.AuthResult
	VerifyToken(token string) (access.TokenClaims, error)
	SignsTokens() bool
}

// ToolRunner executes agent tools by name. *agenttool.Registry satisfies it.
type ToolRunner interface {
	Infos(ctx context.Context) ([]*schema.ToolInfo, error)
	Execute(ctx context.Context, name, argsJSON string, opts ...tool.Option) (string, error)
}

// Options wires the handler. Only Actions is required.
type Options struct {
	Token    string
	Actions  ActionSubmitter
	Reviewer Reviewer
	Auth     Authenticator
	Gatherer prometheus.Gatherer
	Tools    ToolRunner
}

type Server struct {
	cfg        config.GatewayConfig
	opts       Options
	httpServer *http.Server
}

func New(cfg config.GatewayConfig, opts Options) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18791
	}

	cfg.Host = host
	cfg.Port = port
	if opts.Token == "" {
		opts.Token = cfg.Token
	}
	return &Server{
		cfg:  cfg,
		opts: opts,
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           NewHandler(s.opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type handler struct {
	token    string
	actions  ActionSubmitter
	reviewer Reviewer
	auth     Authenticator
	tools    ToolRunner
}

type principalKey struct{}

// principal returns the username of the session token that authorized r, if any.
func principal(r *http.Request) string {
	name, _ := r.Context().Value(principalKey{}).(string)
	return name
}

func NewHandler(opts Options) http.Handler {
	h := &handler{
		token:    strings.TrimSpace(opts.Token),
		actions:  opts.Actions,
		reviewer: opts.Reviewer,
		auth:     opts.Auth,
		tools:    opts.Tools,
	}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, getRequestID(r), http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, getRequestID(r), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/version", h.version).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/actions", h.requireToken(h.submitAction)).Methods(http.MethodPost)
	r.HandleFunc("/oversight/pending", h.pending).Methods(http.MethodGet)
	r.HandleFunc("/oversight/{id}", h.oversightRequest).Methods(http.MethodGet)
	r.HandleFunc("/oversight/{id}/decision", h.requireToken(h.decide)).Methods(http.MethodPost)
	r.HandleFunc("/tools", h.listTools).Methods(http.MethodGet)
	r.HandleFunc("/tools/{name}", h.requireToken(h.invokeTool)).Methods(http.MethodPost)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"request_id": getRequestID(r),
	})
}

func (h *handler) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version.Version,
		"commit":     version.Commit,
		"request_id": getRequestID(r),
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if h.actions == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, "unavailable", "safety system is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     h.actions.Status(),
		"request_id": requestID,
	})
}

func (h *handler) submitAction(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if h.actions == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, "unavailable", "safety system is not configured")
		return
	}

	var req safety.ActionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}
	out, err := h.actions.SubmitAction(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, safety.ErrInvalidRequest):
			writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, safety.ErrUnknownSession):
			writeError(w, requestID, http.StatusNotFound, "not_found", err.Error())
		default:
			slog.Error("gateway action failed", "request_id", requestID, "agent_type", req.AgentType, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to process action")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decision":   out,
		"request_id": requestID,
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if h.auth == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, "unavailable", "authentication is not configured")
		return
	}

	var body struct {
		Username string `json:"username"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}
	if strings.TrimSpace(body.Username) == "" {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "username is required")
		return
	}

	res := h.auth.Authenticate(body.Username, body.Secret)
	if !res.Success {
		if res.Reason == access.ReasonAccountLocked {
			writeError(w, requestID, http.StatusTooManyRequests, res.Reason, res.Message)
			return
		}
		writeError(w, requestID, http.StatusUnauthorized, "unauthorized", res.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    res.Session,
		"request_id": requestID,
	})
}

func (h *handler) pending(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if h.reviewer == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, "unavailable", "oversight is disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests":   h.reviewer.Pending(),
		"request_id": requestID,
	})
}

func (h *handler) oversightRequest(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if h.reviewer == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, "unavailable", "oversight is disabled")
		return
	}
	id := mux.Vars(r)["id"]
	req, ok := h.reviewer.Get(id)
	if !ok {
		writeError(w, requestID, http.StatusNotFound, "not_found", "oversight request not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request":    req,
		"request_id": requestID,
	})
}

func (h *handler) decide(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if h.reviewer == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, "unavailable", "oversight is disabled")
		return
	}

	var body struct {
		Decision      string         `json:"decision"`
		Reason        string         `json:"reason"`
		DecidedBy     string         `json:"decided_by"`
		Modifications map[string]any `json:"modifications"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}
	decision, err := oversight.ParseDecision(body.Decision)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	decidedBy := principal(r)
	if decidedBy == "" {
		decidedBy = strings.TrimSpace(body.DecidedBy)
	}
	if decidedBy == "" {
		decidedBy = "api"
	}

	req, err := h.reviewer.Decide(mux.Vars(r)["id"], decision, oversight.DecisionInput{
		Reason:        body.Reason,
		DecidedBy:     decidedBy,
		Modifications: body.Modifications,
	})
	if err != nil {
		switch {
		case errors.Is(err, oversight.ErrNotFound):
			writeError(w, requestID, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, oversight.ErrNotPending):
			writeError(w, requestID, http.StatusConflict, "conflict", err.Error())
		default:
			writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request":    req,
		"request_id": requestID,
	})
}

type toolView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

func (h *handler) listTools(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	views := []toolView{}
	if h.tools != nil {
		infos, err := h.tools.Infos(r.Context())
		if err != nil {
			slog.Error("gateway tool listing failed", "request_id", requestID, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to list tools")
			return
		}
		for _, info := range infos {
			v := toolView{Name: info.Name, Description: info.Desc}
			if info.ParamsOneOf != nil {
				params, err := info.ParamsOneOf.ToJSONSchema()
				if err != nil {
					slog.Warn("tool schema unavailable", "request_id", requestID, "tool", info.Name, "error", err)
				} else {
					v.Parameters = params
				}
			}
			views = append(views, v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":      views,
		"request_id": requestID,
	})
}

// invokeTool runs one agent tool with the request body as its JSON arguments. The
// runner screens the call through the safety pipeline first, as the agent named by
// X-Agent-Type when present.
func (h *handler) invokeTool(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if h.tools == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, "unavailable", "agent tools are not configured")
		return
	}
	name := mux.Vars(r)["name"]
	args, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || !json.Valid(args) {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json arguments")
		return
	}
	ctx := r.Context()
	if agent := strings.TrimSpace(r.Header.Get("X-Agent-Type")); agent != "" {
		ctx = agenttool.WithAgentType(ctx, agent)
	}
	out, err := h.tools.Execute(ctx, name, string(args))
	if err != nil {
		switch {
		case errors.Is(err, agenttool.ErrToolNotFound):
			writeError(w, requestID, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, agenttool.ErrToolBlocked):
			writeError(w, requestID, http.StatusForbidden, "blocked", err.Error())
		case errors.Is(err, safety.ErrInvalidRequest):
			writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		default:
			slog.Error("gateway tool failed", "request_id", requestID, "tool", name, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "tool call failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tool":       name,
		"result":     json.RawMessage(out),
		"request_id": requestID,
	})
}

// requireToken accepts the static gateway token or a session token issued by
// /auth/login. Routes stay open when neither is configured.
func (h *handler) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := h.auth != nil && h.auth.SignsTokens()
		if h.token == "" && !sessions {
			next(w, r)
			return
		}
		bearer := bearerToken(r)
		if bearer != "" && h.token != "" && bearer == h.token {
			next(w, r)
			return
		}
		if bearer != "" && sessions {
			claims, err := h.auth.VerifyToken(bearer)
			if err == nil {
				next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, claims.Subject)))
				return
			}
			slog.Debug("session token rejected", "request_id", getRequestID(r), "error", err)
		}
		writeError(w, getRequestID(r), http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
	}
}

// requestIDMiddleware pins one request id for the handler and echoes it back.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := getRequestID(r)
		r.Header.Set("X-Request-ID", rid)
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(got, prefix))
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
