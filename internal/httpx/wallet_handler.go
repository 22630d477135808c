package httpx

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pod-fulfillment/internal/wallet"
)

type WalletService interface {
	Balance(ctx context.Context, tenantID int64) (decimal.Decimal, error)
	Entries(ctx context.Context, tenantID int64, limit int) ([]wallet.Entry, error)
	Credit(ctx context.Context, tenantID int64, kind wallet.EntryKind, amount decimal.Decimal, note string) (decimal.Decimal, error)
}

type WalletHandler struct {
	Wallets WalletService
}

func (h *WalletHandler) Register(r chi.Router) {
	r.Get("/wallets/me", h.balance)
	r.Get("/wallets/me/entries", h.entries)
	r.Post("/wallets/{tenantId}/credit", h.credit)
}

func (h *WalletHandler) balance(w http.ResponseWriter, r *http.Request) {
	tenantID, _, good := identity(w, r)
	if !good {
		return
	}
	bal, err := h.Wallets.Balance(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "wallet balance", map[string]any{"tenant_id": tenantID, "balance": bal})
}

func (h *WalletHandler) entries(w http.ResponseWriter, r *http.Request) {
	tenantID, _, good := identity(w, r)
	if !good {
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries, err := h.Wallets.Entries(r.Context(), tenantID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []wallet.Entry{}
	}
	ok(w, http.StatusOK, "wallet entries", entries)
}

type creditRequest struct {
	Amount decimal.Decimal  `json:"amount"`
	Kind   wallet.EntryKind `json:"kind"`
	Note   string           `json:"note"`
}

func (h *WalletHandler) credit(w http.ResponseWriter, r *http.Request) {
	actorID, good := requireActor(w, r)
	if !good {
		return
	}
	tenantID, good := pathID(w, r, "tenantId")
	if !good {
		return
	}
	var req creditRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = wallet.EntryRecharge
	}
	if req.Note == "" {
		req.Note = fmt.Sprintf("credited by user %d", actorID)
	}
	bal, err := h.Wallets.Credit(r.Context(), tenantID, req.Kind, req.Amount, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "wallet credited", map[string]any{"tenant_id": tenantID, "balance": bal})
}
