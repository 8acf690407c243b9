// Package api exposes the settlement pipeline's public surface over HTTP.
// The handlers are thin: every decision is made by the services against the
// record store, so concurrent requests are safe by construction.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"mintflow/asset"
	"mintflow/claim"
	"mintflow/dispute"
	"mintflow/identity"
	"mintflow/order"
)

// Orders is the coordinator surface the API consumes.
type Orders interface {
	Create(ctx context.Context, params order.CreateParams) (order.Record, error)
	Get(ctx context.Context, id string) (order.Record, error)
	SyncFunding(ctx context.Context, id string) (order.Record, error)
	Finalize(ctx context.Context, id string) (order.Record, error)
}

// Disputes is the dispute-machine surface the API consumes.
type Disputes interface {
	Raise(ctx context.Context, params dispute.RaiseParams) (dispute.Record, error)
	Get(ctx context.Context, id string) (dispute.Record, error)
	SetJudgement(ctx context.Context, id string, upheld bool) (dispute.Record, error)
	Resolve(ctx context.Context, id string) (dispute.Record, error)
	ListByAsset(ctx context.Context, assetID string) ([]dispute.Record, error)
}

// Assets is the asset-catalog surface the API consumes.
type Assets interface {
	Register(ctx context.Context, params asset.RegisterParams) (asset.Record, error)
	Get(ctx context.Context, id string) (asset.Record, error)
	List(ctx context.Context, limit int) ([]asset.Record, error)
}

// Claims is the ownership-claim surface the API consumes.
type Claims interface {
	Claim(ctx context.Context, kind claim.Kind, id, identity string) error
}

// Sessions verifies bearer tokens into acting identities.
type Sessions interface {
	Register(ctx context.Context, req identity.RegisterRequest) (*identity.Principal, error)
	Login(ctx context.Context, req identity.LoginRequest) (identity.LoginResult, error)
	VerifyToken(token string) (principalID, handle string, err error)
}

// Server routes HTTP requests to the pipeline services.
type Server struct {
	orders   Orders
	disputes Disputes
	assets   Assets
	claims   Claims
	sessions Sessions
	logger   *slog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(orders Orders, disputes Disputes, assets Assets, claims Claims, sessions Sessions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orders:   orders,
		disputes: disputes,
		assets:   assets,
		claims:   claims,
		sessions: sessions,
		logger:   logger,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/v1/principals", s.handleRegisterPrincipal).Methods("POST")
	r.HandleFunc("/v1/sessions", s.handleLogin).Methods("POST")

	r.HandleFunc("/v1/assets", s.authed(s.handleRegisterAsset)).Methods("POST")
	r.HandleFunc("/v1/assets", s.handleListAssets).Methods("GET")
	r.HandleFunc("/v1/assets/{id}", s.handleGetAsset).Methods("GET")
	r.HandleFunc("/v1/assets/{id}/disputes", s.handleListAssetDisputes).Methods("GET")

	r.HandleFunc("/v1/orders", s.authed(s.handleCreateOrder)).Methods("POST")
	r.HandleFunc("/v1/orders/{id}", s.handleGetOrder).Methods("GET")
	r.HandleFunc("/v1/orders/{id}/sync-funding", s.handleSyncFunding).Methods("POST")
	r.HandleFunc("/v1/orders/{id}/finalize", s.authed(s.handleFinalize)).Methods("POST")

	r.HandleFunc("/v1/claims/{kind}/{id}", s.authed(s.handleClaim)).Methods("POST")

	r.HandleFunc("/v1/disputes", s.authed(s.handleRaiseDispute)).Methods("POST")
	r.HandleFunc("/v1/disputes/{id}", s.handleGetDispute).Methods("GET")
	r.HandleFunc("/v1/disputes/{id}/judgement", s.authed(s.handleSetJudgement)).Methods("POST")
	r.HandleFunc("/v1/disputes/{id}/resolve", s.authed(s.handleResolveDispute)).Methods("POST")

	return r
}

type actorKey struct{}

// authed resolves the bearer token into the acting identity and stashes it in
// the request context.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, handle, err := s.sessions.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, handle)))
	}
}

func actorFrom(r *http.Request) string {
	if v, ok := r.Context().Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
