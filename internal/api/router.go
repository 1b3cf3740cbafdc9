package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/escrowledger/internal/service"
)

// Options configures the HTTP surface.
type Options struct {
	// AuthSecret enables HMAC bearer tokens whose subject is the caller
	// account.
	AuthSecret string
	// TrustAccountHeader takes the caller from the X-Account header when no
	// AuthSecret is set. Only for local development.
	TrustAccountHeader bool
	RatePerMinute      int
	RateBurst          int
	DevTools           bool
	Logger             *slog.Logger
}

type Handler struct {
	svc    *service.Marketplace
	opts   Options
	logger *slog.Logger
}

func NewHandler(svc *service.Marketplace, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{svc: svc, opts: opts, logger: opts.Logger}
}

// Router wires every route behind the request id, auth, rate limit and
// access log middleware.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID, instrument(h.logger))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")

	limiter := newRateLimiter(h.opts.RatePerMinute, h.opts.RateBurst)
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(authenticate(h.opts.AuthSecret, h.opts.TrustAccountHeader, h.logger), limiter.middleware)

	v1.HandleFunc("/listings", h.CreateListing).Methods("POST")
	v1.HandleFunc("/listings/{id}", h.GetListing).Methods("GET")
	v1.HandleFunc("/listings/{id}", h.UpdateListing).Methods("PUT")
	v1.HandleFunc("/listings/{id}", h.DeleteListing).Methods("DELETE")
	v1.HandleFunc("/listings/{id}/status", h.SetListingStatus).Methods("POST")
	v1.HandleFunc("/listings/{id}/purchases", h.GetListingPurchases).Methods("GET")

	v1.HandleFunc("/purchases", h.CreatePurchase).Methods("POST")
	v1.HandleFunc("/purchases/{id}", h.GetPurchase).Methods("GET")
	v1.HandleFunc("/purchases/{id}/confirm", h.ConfirmDelivery).Methods("POST")
	v1.HandleFunc("/purchases/{id}/claim", h.ClaimAfterTimeout).Methods("POST")
	v1.HandleFunc("/purchases/{id}/claimable", h.GetClaimable).Methods("GET")

	v1.HandleFunc("/me/listings", h.MyListings).Methods("GET")
	v1.HandleFunc("/me/purchases", h.MyPurchases).Methods("GET")
	v1.HandleFunc("/me/balances", h.MyBalances).Methods("GET")
	v1.HandleFunc("/withdrawals", h.Withdraw).Methods("POST")

	v1.HandleFunc("/admin/pause", h.Pause).Methods("POST")
	v1.HandleFunc("/admin/unpause", h.Unpause).Methods("POST")
	v1.HandleFunc("/admin/owner", h.TransferOwnership).Methods("POST")
	v1.HandleFunc("/admin/fees/withdraw", h.WithdrawFees).Methods("POST")

	v1.HandleFunc("/platform/status", h.Status).Methods("GET")
	v1.HandleFunc("/platform/fees", h.PlatformFees).Methods("GET")
	v1.HandleFunc("/platform/custody", h.Custody).Methods("GET")

	if h.opts.DevTools {
		v1.HandleFunc("/dev/faucet", h.Faucet).Methods("POST")
		v1.HandleFunc("/dev/approve", h.Approve).Methods("POST")
		v1.HandleFunc("/dev/transfer", h.TransferNative).Methods("POST")
	}
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
