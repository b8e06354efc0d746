package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/card-service/internal/middleware"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler adapts HTTP requests to service calls
type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// cardResponse is the public view of a card. The CVV and the encrypted
// number are never listed.
type cardResponse struct {
	ID             int64             `json:"id"`
	OwnerID        int64             `json:"owner_id"`
	MaskedNumber   string            `json:"masked_number"`
	ExpirationDate string            `json:"expiration_date"`
	Status         models.CardStatus `json:"status"`
	Balance        decimal.Decimal   `json:"balance"`
}

func newCardResponse(c *models.Card) cardResponse {
	return cardResponse{
		ID:             c.ID,
		OwnerID:        c.OwnerID,
		MaskedNumber:   c.MaskedNumber(),
		ExpirationDate: c.ExpirationDate.Format(time.DateOnly),
		Status:         c.Status,
		Balance:        c.Balance.Round(2),
	}
}

type pageResponse struct {
	Cards []cardResponse `json:"cards"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
	Total int            `json:"total"`
}

func newPageResponse(p *models.CardPage) pageResponse {
	out := pageResponse{Cards: make([]cardResponse, 0, len(p.Cards)), Page: p.Page, Size: p.Size, Total: p.Total}
	for i := range p.Cards {
		out.Cards = append(out.Cards, newCardResponse(&p.Cards[i]))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var terr *models.TransferError
	switch {
	case errors.As(err, &terr):
		status := http.StatusUnprocessableEntity
		if terr.Retryable {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: models.ErrTransferFailed.Error(), Reason: terr.Reason, Retryable: terr.Retryable})
	case errors.Is(err, models.ErrCardNotFound), errors.Is(err, models.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: models.ErrForbidden.Error()})
	case errors.Is(err, models.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrUserExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrCardBlockRequestRejected), errors.Is(err, models.ErrCardBlockFailed):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrDecryptionFailed):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: models.ErrDecryptionFailed.Error()})
	case errors.Is(err, models.ErrCardCreationFailed):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: models.ErrCardCreationFailed.Error()})
	default:
		h.log.WithField("request_id", middleware.RequestIDFrom(r.Context())).Errorf("Unhandled error on %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", models.ErrInvalidInput, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", models.ErrInvalidInput, name)
	}
	return id, nil
}

// pageParams reads ?page=&size=; absent values are zero and defaulted by
// the service
func pageParams(r *http.Request) (page, size int, err error) {
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			return 0, 0, fmt.Errorf("%w: invalid page", models.ErrInvalidInput)
		}
	}
	if raw := q.Get("size"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil {
			return 0, 0, fmt.Errorf("%w: invalid size", models.ErrInvalidInput)
		}
	}
	return page, size, nil
}

// principal returns the caller set by the auth middleware. Routes using it
// are always mounted behind that middleware.
func principal(r *http.Request) models.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}
