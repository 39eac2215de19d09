package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"walletd/internal/ledger"
	"walletd/internal/model"
	"walletd/internal/wallet"
)

type Publisher interface {
	Publish(subject string, data []byte) error
}

type Handler struct {
	svc wallet.Service
	bus Publisher
}

func NewHandler(svc wallet.Service, bus Publisher) *Handler {
	return &Handler{svc: svc, bus: bus}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /funds", h.AddFunds)
	mux.HandleFunc("POST /transfers", h.Transfer)
	mux.HandleFunc("POST /peer/send", h.SendPeer)
	mux.HandleFunc("GET /balance", h.Balance)
	mux.HandleFunc("GET /history", h.History)
	mux.HandleFunc("POST /sync", h.Sync)
	mux.HandleFunc("DELETE /accounts", h.Logout)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) AddFunds(w http.ResponseWriter, r *http.Request) {
	var req model.AddFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := h.svc.AddFunds(r.Context(), req.Owner, req.Amount)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req model.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := h.svc.Transfer(r.Context(), req.Sender, req.Receiver, req.Amount)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) SendPeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addr          string    `json:"addr"`
		Owner         string    `json:"owner"`
		TransactionID uuid.UUID `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Addr == "" || req.Owner == "" || req.TransactionID == uuid.Nil {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	if err := h.svc.SendPeer(r.Context(), req.Addr, req.Owner, req.TransactionID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	acc, err := h.svc.Balance(r.Context(), owner)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, acc)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("account_id")
	accountID, err := uuid.Parse(raw)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	txs, err := h.svc.History(r.Context(), accountID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	h.respondJSON(w, http.StatusOK, txs)
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(model.ReconcileRequest{Reason: "api request", At: time.Now().UTC()})
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "encode_failed")
		return
	}
	if err := h.bus.Publish(model.SubjectReconcile, data); err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "trigger_failed")
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	if err := h.svc.Logout(r.Context(), owner); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wallet.ErrInvalidAmount), errors.Is(err, wallet.ErrSelfTransfer):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, wallet.ErrCounterpartyNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
