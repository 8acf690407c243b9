package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"mintflow/asset"
	"mintflow/claim"
	"mintflow/dispute"
	"mintflow/identity"
	"mintflow/order"
)

// orderView is the public projection of an order record.
type orderView struct {
	ID                    string     `json:"id"`
	AssetID               string     `json:"asset_id"`
	Buyer                 string     `json:"buyer"`
	PaymentMode           string     `json:"payment_mode"`
	DepositTarget         string     `json:"deposit_target"`
	AmountExpected        int64      `json:"amount_expected"`
	AmountReceived        *int64     `json:"amount_received,omitempty"`
	ConfirmationsObserved int        `json:"confirmations_observed"`
	Status                string     `json:"status"`
	SettlementTxRef       *string    `json:"settlement_tx_ref,omitempty"`
	AttestationHash       *string    `json:"attestation_hash,omitempty"`
	AnchorTxRef           *string    `json:"anchor_tx_ref,omitempty"`
	RegistryTokenRef      *string    `json:"registry_token_ref,omitempty"`
	ContentHash           *string    `json:"content_hash,omitempty"`
	CredentialHash        *string    `json:"credential_hash,omitempty"`
	ArchiveHash           *string    `json:"archive_hash,omitempty"`
	ComplianceScore       *int       `json:"compliance_score,omitempty"`
	ClaimedBy             *string    `json:"claimed_by,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	FundedAt              *time.Time `json:"funded_at,omitempty"`
	FinalizedAt           *time.Time `json:"finalized_at,omitempty"`
}

func viewOrder(rec order.Record) orderView {
	return orderView{
		ID:                    rec.ID,
		AssetID:               rec.AssetID,
		Buyer:                 rec.Buyer,
		PaymentMode:           string(rec.PaymentMode),
		DepositTarget:         rec.DepositTarget,
		AmountExpected:        rec.AmountExpected,
		AmountReceived:        rec.AmountReceived,
		ConfirmationsObserved: rec.ConfirmationsObserved,
		Status:                string(rec.Status),
		SettlementTxRef:       rec.SettlementTxRef,
		AttestationHash:       rec.AttestationHash,
		AnchorTxRef:           rec.AnchorTxRef,
		RegistryTokenRef:      rec.RegistryTokenRef,
		ContentHash:           rec.ContentHash,
		CredentialHash:        rec.CredentialHash,
		ArchiveHash:           rec.ArchiveHash,
		ComplianceScore:       rec.ComplianceScore,
		ClaimedBy:             rec.ClaimedBy,
		CreatedAt:             rec.CreatedAt,
		FundedAt:              rec.FundedAt,
		FinalizedAt:           rec.FinalizedAt,
	}
}

type disputeView struct {
	ID          string     `json:"id"`
	AssetID     string     `json:"asset_id"`
	TargetTag   string     `json:"target_tag"`
	EvidenceRef string     `json:"evidence_ref"`
	Status      string     `json:"status"`
	ClaimedBy   *string    `json:"claimed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	JudgedAt    *time.Time `json:"judged_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

func viewDispute(rec dispute.Record) disputeView {
	return disputeView{
		ID:          rec.ID,
		AssetID:     rec.AssetID,
		TargetTag:   rec.TargetTag,
		EvidenceRef: rec.EvidenceRef,
		Status:      string(rec.Status),
		ClaimedBy:   rec.ClaimedBy,
		CreatedAt:   rec.CreatedAt,
		JudgedAt:    rec.JudgedAt,
		ResolvedAt:  rec.ResolvedAt,
	}
}

type assetView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	ContentRef   string    `json:"content_ref"`
	TermsRef     string    `json:"terms_ref"`
	RegisteredBy string    `json:"registered_by"`
	ClaimedBy    *string   `json:"claimed_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func viewAsset(rec asset.Record) assetView {
	return assetView{
		ID:           rec.ID,
		Title:        rec.Title,
		ContentRef:   rec.ContentRef,
		TermsRef:     rec.TermsRef,
		RegisteredBy: rec.RegisteredBy,
		ClaimedBy:    rec.ClaimedBy,
		CreatedAt:    rec.CreatedAt,
	}
}

func (s *Server) handleRegisterPrincipal(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	p, err := s.sessions.Register(r.Context(), req)
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": p.ID, "handle": p.Handle})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req identity.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	res, err := s.sessions.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "handle": res.Principal.Handle})
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		ContentRef string `json:"content_ref"`
		TermsRef   string `json:"terms_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.ID == "" || req.ContentRef == "" || req.TermsRef == "" {
		writeError(w, http.StatusBadRequest, "id, content_ref and terms_ref are required")
		return
	}

	rec, err := s.assets.Register(r.Context(), asset.RegisterParams{
		ID:           req.ID,
		Title:        req.Title,
		ContentRef:   req.ContentRef,
		TermsRef:     req.TermsRef,
		RegisteredBy: actorFrom(r),
	})
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewAsset(rec))
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	rec, err := s.assets.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewAsset(rec))
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.assets.List(r.Context(), limit)
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	views := make([]assetView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewAsset(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID             string `json:"id"`
		AssetID        string `json:"asset_id"`
		PaymentMode    string `json:"payment_mode"`
		AmountExpected int64  `json:"amount_expected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.ID == "" || req.AssetID == "" || req.AmountExpected <= 0 {
		writeError(w, http.StatusBadRequest, "id, asset_id and a positive amount_expected are required")
		return
	}
	mode := order.PaymentMode(req.PaymentMode)
	if mode != order.ModeInstantLedger && mode != order.ModeNativeChain {
		writeError(w, http.StatusBadRequest, "payment_mode must be instant_ledger or native_chain")
		return
	}

	rec, err := s.orders.Create(r.Context(), order.CreateParams{
		ID:             req.ID,
		AssetID:        req.AssetID,
		Buyer:          actorFrom(r),
		PaymentMode:    mode,
		AmountExpected: req.AmountExpected,
	})
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewOrder(rec))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(rec))
}

// handleSyncFunding runs a funding check. A transient monitor failure answers
// 202 with the unchanged snapshot so pollers just try again.
func (s *Server) handleSyncFunding(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.orders.SyncFunding(r.Context(), id)
	if err != nil {
		if retryable(err) {
			s.logger.Warn("funding check deferred", "order", id, "error", err)
			writeJSON(w, http.StatusAccepted, viewOrder(rec))
			return
		}
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(rec))
}

// handleFinalize drives settlement. "Already finalized" is success; transient
// failures answer 202 so automated pollers retry without treating the order
// as failed.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.orders.Finalize(r.Context(), id)
	if err != nil {
		if retryable(err) {
			s.logger.Warn("finalize deferred", "order", id, "error", err)
			if current, getErr := s.orders.Get(r.Context(), id); getErr == nil {
				writeJSON(w, http.StatusAccepted, viewOrder(current))
				return
			}
			writeJSON(w, http.StatusAccepted, errorBody{Error: "finalize pending, retry later"})
			return
		}
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(rec))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := claim.Kind(vars["kind"])
	id := vars["id"]

	if err := s.claims.Claim(r.Context(), kind, id, actorFrom(r)); err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"kind": string(kind), "id": id, "claimed_by": actorFrom(r)})
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		AssetID     string `json:"asset_id"`
		TargetTag   string `json:"target_tag"`
		EvidenceRef string `json:"evidence_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.ID == "" || req.AssetID == "" || req.TargetTag == "" || req.EvidenceRef == "" {
		writeError(w, http.StatusBadRequest, "id, asset_id, target_tag and evidence_ref are required")
		return
	}

	rec, err := s.disputes.Raise(r.Context(), dispute.RaiseParams{
		ID:          req.ID,
		AssetID:     req.AssetID,
		TargetTag:   req.TargetTag,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewDispute(rec))
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputes.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewDispute(rec))
}

func (s *Server) handleListAssetDisputes(w http.ResponseWriter, r *http.Request) {
	recs, err := s.disputes.ListByAsset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	views := make([]disputeView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewDispute(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSetJudgement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Upheld *bool `json:"upheld"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Upheld == nil {
		writeError(w, http.StatusBadRequest, "upheld is required")
		return
	}

	rec, err := s.disputes.SetJudgement(r.Context(), mux.Vars(r)["id"], *req.Upheld)
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewDispute(rec))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputes.Resolve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, status(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewDispute(rec))
}
