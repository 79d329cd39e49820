package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/newsletter/internal/pkg/httputil"
	"github.com/ignite/newsletter/internal/service/subscription"
)

// SubscriptionService is the part of subscription.Service the HTTP layer uses.
type SubscriptionService interface {
	Register(ctx context.Context, rawName, rawEmail string) (*subscription.Registration, error)
	Confirm(ctx context.Context, token string) error
}

// SubscriptionHandlers serves the public subscribe and confirm endpoints.
type SubscriptionHandlers struct {
	svc SubscriptionService
}

func NewSubscriptionHandlers(svc SubscriptionService) *SubscriptionHandlers {
	return &SubscriptionHandlers{svc: svc}
}

// RegisterRoutes mounts the handlers on r.
func (h *SubscriptionHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.HandleSubscribe)
		r.Get("/confirm", h.HandleConfirm)
	})
}

type subscribeResponse struct {
	Status string `json:"status"`
}

// HandleSubscribe accepts a form or JSON body with name and email.
//
//	POST /subscriptions
func (h *SubscriptionHandlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	fields, err := httputil.ReadFields(r, "name", "email")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if _, err := h.svc.Register(r.Context(), fields["name"], fields["email"]); err != nil {
		respondWorkflowError(w, err)
		return
	}
	httputil.OK(w, subscribeResponse{Status: "pending_confirmation"})
}

// HandleConfirm redeems a confirmation token.
//
//	GET /subscriptions/confirm?token=...
func (h *SubscriptionHandlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Confirm(r.Context(), r.URL.Query().Get("token")); err != nil {
		respondWorkflowError(w, err)
		return
	}
	httputil.OK(w, subscribeResponse{Status: "confirmed"})
}
