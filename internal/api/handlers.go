// Package api exposes the HTTP surface of the webhook relay.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/linhptit/strava-webhook-vercel/internal/credentials"
	"github.com/linhptit/strava-webhook-vercel/internal/dispatch"
	"github.com/linhptit/strava-webhook-vercel/internal/observability"
	"github.com/linhptit/strava-webhook-vercel/internal/redact"
	"github.com/linhptit/strava-webhook-vercel/internal/strava"
	"github.com/linhptit/strava-webhook-vercel/internal/webhook"
)

// ConnectScope is requested when an athlete links their account.
const ConnectScope = "activity:read_all,activity:write"

const maxWebhookBodyBytes = 1 << 20

// EventDispatcher handles one verified webhook event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event webhook.Event) dispatch.Outcome
}

// OAuthClient is the part of the Strava client used by the linking flow.
type OAuthClient interface {
	AuthorizeURL(redirectURI, scope, state string) string
	ExchangeCode(ctx context.Context, code string) (strava.TokenGrant, error)
}

// AccountLinker persists the refresh token of a newly linked athlete.
type AccountLinker interface {
	Link(ctx context.Context, cred credentials.UserCredential) error
}

// StateSigner issues and verifies the OAuth state parameter.
type StateSigner interface {
	Issue() (string, error)
	Verify(state string) error
}

// Config lists the collaborators of a Handler. OAuth, Accounts and State are optional;
// without them the linking routes are not registered.
type Config struct {
	VerifyToken redact.Secret
	RedirectURI string
	Dispatcher  EventDispatcher
	OAuth       OAuthClient
	Accounts    AccountLinker
	State       StateSigner
	Logger      *zap.Logger
}

// Handler coordinates HTTP requests with the dispatcher and the linking flow.
type Handler struct {
	verifyToken redact.Secret
	redirectURI string
	dispatcher  EventDispatcher
	oauth       OAuthClient
	accounts    AccountLinker
	state       StateSigner
	logger      *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		verifyToken: cfg.VerifyToken,
		redirectURI: cfg.RedirectURI,
		dispatcher:  cfg.Dispatcher,
		oauth:       cfg.OAuth,
		accounts:    cfg.Accounts,
		state:       cfg.State,
		logger:      logger,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", h.webhook)
	if h.linkingEnabled() {
		mux.HandleFunc("/strava/connect", h.connect)
		mux.HandleFunc("/strava/callback", h.callback)
	}
	mux.HandleFunc("/healthz", healthz)
}

func (h *Handler) linkingEnabled() bool {
	return h.oauth != nil && h.accounts != nil
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verifySubscription(w, r)
	case http.MethodPost:
		h.receiveEvent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) verifySubscription(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	challenge, err := webhook.VerifySubscription(query.Get("hub.challenge"), query.Get("hub.verify_token"), h.verifyToken)
	if err != nil {
		observability.RecordWebhookRejected("verify_token")
		h.logger.Warn("subscription verification rejected")
		writeText(w, http.StatusForbidden, "Forbidden")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

func (h *Handler) receiveEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		observability.RecordWebhookRejected("body")
		writeText(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	event, err := webhook.ParseEvent(body)
	if err != nil {
		observability.RecordWebhookRejected("parse")
		h.logger.Warn("rejecting malformed webhook event", zap.Error(err))
		writeText(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	h.logEvent(event)

	// Strava hanging up must not abort a mutation halfway; outbound calls are bounded by the client timeout.
	outcome := h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), event)
	writeText(w, http.StatusOK, outcome.Message())
}

func (h *Handler) logEvent(event webhook.Event) {
	ce := h.logger.Check(zap.DebugLevel, "webhook event received")
	if ce == nil {
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(event.Raw, &payload); err != nil {
		return
	}
	ce.Write(zap.Any("payload", redact.Map(payload)))
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var state string
	if h.state != nil {
		issued, err := h.state.Issue()
		if err != nil {
			h.logger.Error("issue oauth state failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "server_error", "unable to start account linking")
			return
		}
		state = issued
	}
	http.Redirect(w, r, h.oauth.AuthorizeURL(h.redirectURI, ConnectScope, state), http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	query := r.URL.Query()
	if query.Get("error") != "" {
		writeError(w, http.StatusBadRequest, "access_denied", "authorization was not granted")
		return
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing code parameter")
		return
	}
	if state := query.Get("state"); state != "" && h.state != nil {
		if err := h.state.Verify(state); err != nil {
			h.logger.Warn("rejecting oauth callback", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid state parameter")
			return
		}
	}

	grant, err := h.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Error("authorization code exchange failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "unable to exchange authorization code")
		return
	}
	if grant.Athlete == nil || grant.Athlete.ID == 0 {
		h.logger.Error("authorization code exchange returned no athlete")
		writeError(w, http.StatusInternalServerError, "server_error", "token response missing athlete")
		return
	}

	athleteID := strconv.FormatInt(grant.Athlete.ID, 10)
	cred := credentials.UserCredential{AthleteID: athleteID, RefreshToken: grant.RefreshToken}
	if err := h.accounts.Link(r.Context(), cred); err != nil {
		h.logger.Error("store refresh token failed", zap.String("athlete_id", athleteID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "unable to store credential")
		return
	}

	observability.RecordAccountLinked()
	h.logger.Info("athlete linked", zap.String("athlete_id", athleteID))
	writeJSON(w, http.StatusOK, LinkResponse{
		AthleteID: athleteID,
		Firstname: grant.Athlete.Firstname,
		Lastname:  grant.Athlete.Lastname,
		Linked:    true,
	})
}

// LinkResponse is the body returned by a successful OAuth callback.
type LinkResponse struct {
	AthleteID string `json:"athlete_id"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Linked    bool   `json:"linked"`
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
