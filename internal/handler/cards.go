package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Dan9191/card-service/internal/models"
	"github.com/shopspring/decimal"
)

type createCardRequest struct {
	OwnerID int64 `json:"owner_id"`
}

// createdCardResponse is returned once, at issue time; it is the only
// response carrying the CVV
type createdCardResponse struct {
	cardResponse
	CVV string `json:"cvv"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	FromCardID int64           `json:"from_card_id"`
	ToCardID   int64           `json:"to_card_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// CreateCard issues a card to the given owner (admin)
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	card, err := h.svc.CreateCard(r.Context(), req.OwnerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdCardResponse{cardResponse: newCardResponse(card), CVV: card.CVV})
}

func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	card, err := h.svc.GetCard(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCardResponse(card))
}

// ListMyCards lists the caller's own cards
func (h *Handler) ListMyCards(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := models.CardStatus(r.URL.Query().Get("status"))
	result, err := h.svc.ListUserCards(r.Context(), principal(r), status, page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(result))
}

// ListCards lists every card (admin)
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := models.CardStatus(r.URL.Query().Get("status"))
	result, err := h.svc.ListCards(r.Context(), status, page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(result))
}

func (h *Handler) ListPendingBlock(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.ListPendingBlock(r.Context(), page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(result))
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	balance, err := h.svc.Balance(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card_id": id, "balance": balance.Round(2)})
}

func (h *Handler) MaskedNumber(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	masked, err := h.svc.MaskedNumber(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card_id": id, "masked_number": masked})
}

// DecryptNumber returns the full card number to its owner or an admin
func (h *Handler) DecryptNumber(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	number, err := h.svc.Decrypt(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{"card_id": id, "number": number})
}

func (h *Handler) RequestBlock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.RequestBlock(r.Context(), principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"card_id": id, "status": models.CardStatusPendingBlock})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Transfer(r.Context(), principal(r), req.FromCardID, req.ToCardID, req.Amount); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from_card_id": req.FromCardID,
		"to_card_id":   req.ToCardID,
		"amount":       req.Amount.StringFixed(2),
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Credit(r.Context(), id, req.Amount); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.GetCard(w, r)
}

// statusAction adapts the id-only admin card operations
func (h *Handler) statusAction(action func(ctx context.Context, cardID int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := action(r.Context(), id); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.GetCard(w, r)
	}
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.statusAction(h.svc.Activate)(w, r)
}

func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	h.statusAction(h.svc.Block)(w, r)
}

func (h *Handler) ApproveBlock(w http.ResponseWriter, r *http.Request) {
	h.statusAction(h.svc.ApproveBlock)(w, r)
}

func (h *Handler) RejectBlock(w http.ResponseWriter, r *http.Request) {
	h.statusAction(h.svc.RejectBlock)(w, r)
}

func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteCard(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
