package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/engine"
	"github.com/punchamoorthee/escrowledger/internal/models"
	"github.com/punchamoorthee/escrowledger/internal/service"
	"github.com/punchamoorthee/escrowledger/internal/token"
	"github.com/punchamoorthee/escrowledger/internal/wallet"
)

const maxBodyBytes = 1 << 20

func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	params, ok := decodeListing(w, r)
	if !ok {
		return
	}
	id, err := h.svc.CreateListing(r.Context(), caller, params)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.respondWithListing(w, http.StatusCreated, id)
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.respondWithListing(w, http.StatusOK, id)
}

func (h *Handler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	params, ok := decodeListing(w, r)
	if !ok {
		return
	}
	if err := h.svc.UpdateListing(r.Context(), caller, id, params); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.respondWithListing(w, http.StatusOK, id)
}

func (h *Handler) SetListingStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req models.StatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := domain.ParseListingStatus(req.Status)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.SetListingStatus(r.Context(), caller, id, status); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.respondWithListing(w, http.StatusOK, id)
}

func (h *Handler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteListing(r.Context(), caller, id); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetListingPurchases(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var out []models.Purchase
	err := h.svc.View(func(v service.Reader) error {
		var err error
		out, err = purchaseViews(v, v.ListingPurchases(id))
		return err
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

// CreatePurchase buys from a listing. An Idempotency-Key header makes the
// request safe to retry: a replay answers 200 with the original purchase.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req models.PurchaseRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	currency, err := domain.ParseCurrency(req.PaymentMethod)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	value, err := models.ParseAmount(req.Value)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	order := service.PurchaseOrder{
		ListingID: req.ListingID,
		Quantity:  req.Quantity,
		Currency:  currency,
		Value:     value,
	}

	var (
		id     uint64
		replay bool
	)
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		hash := sha256.Sum256(bodyBytes)
		id, replay, err = h.svc.PurchaseOnce(r.Context(), caller, key, hex.EncodeToString(hash[:]), order)
	} else {
		id, err = h.svc.Purchase(r.Context(), caller, order)
	}
	if errors.Is(err, service.ErrKeyNotRecorded) {
		// The purchase exists; point the client at it instead of inviting a retry.
		h.logger.ErrorContext(r.Context(), "request_failed", "path", r.URL.Path, "error", err)
		w.Header().Set("Location", fmt.Sprintf("/api/v1/purchases/%d", id))
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}

	status := http.StatusCreated
	if replay {
		status = http.StatusOK
	} else {
		w.Header().Set("Location", fmt.Sprintf("/api/v1/purchases/%d", id))
	}
	h.respondWithPurchase(w, status, id)
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.respondWithPurchase(w, http.StatusOK, id)
}

func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.ConfirmDelivery(r.Context(), caller, id); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.respondWithPurchase(w, http.StatusOK, id)
}

func (h *Handler) ClaimAfterTimeout(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.ClaimAfterTimeout(r.Context(), caller, id); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.respondWithPurchase(w, http.StatusOK, id)
}

func (h *Handler) GetClaimable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var out models.Claimable
	err := h.svc.View(func(v service.Reader) error {
		claimable, err := v.IsClaimable(id)
		if err != nil {
			return err
		}
		at, err := v.ClaimableAt(id)
		if err != nil {
			return err
		}
		out = models.Claimable{PurchaseID: id, Claimable: claimable, ClaimableAt: at}
		return nil
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) MyListings(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	out := []models.Listing{}
	err := h.svc.View(func(v service.Reader) error {
		for _, id := range v.ListingsOf(caller) {
			l, err := v.Listing(id)
			if err != nil {
				return err
			}
			out = append(out, models.NewListing(l, v.PendingPurchaseCount(id), v.SecondaryDecimals()))
		}
		return nil
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) MyPurchases(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var out []models.Purchase
	err := h.svc.View(func(v service.Reader) error {
		var err error
		out, err = purchaseViews(v, v.PurchasesOf(caller))
		return err
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) MyBalances(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	holdings := h.svc.Holdings(caller)
	var (
		earnings domain.Balance
		decimals uint8
	)
	_ = h.svc.View(func(v service.Reader) error {
		earnings = v.EarningsOf(caller)
		decimals = v.SecondaryDecimals()
		return nil
	})
	respondWithJSON(w, http.StatusOK, models.AccountBalances{
		Account:  caller.Hex(),
		Wallet:   models.NewBalance(holdings.Wallet, decimals),
		Earnings: models.NewBalance(earnings, decimals),
		Allowed:  models.NewAmount(&holdings.Allowance, decimals),
	})
}

// Withdraw pays out the caller's earnings. ?emergency=true takes the
// paused-only emergency path.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	emergency := false
	if raw := r.URL.Query().Get("emergency"); raw != "" {
		var err error
		if emergency, err = strconv.ParseBool(raw); err != nil {
			respondWithError(w, http.StatusBadRequest, "emergency must be a boolean")
			return
		}
	}
	paid, err := h.svc.WithdrawEarnings(r.Context(), caller, emergency)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.respondWithBalance(w, paid)
}

func (h *Handler) respondWithListing(w http.ResponseWriter, code int, id uint64) {
	var out models.Listing
	err := h.svc.View(func(v service.Reader) error {
		l, err := v.Listing(id)
		if err != nil {
			return err
		}
		out = models.NewListing(l, v.PendingPurchaseCount(id), v.SecondaryDecimals())
		return nil
	})
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, code, out)
}

func (h *Handler) respondWithPurchase(w http.ResponseWriter, code int, id uint64) {
	var out []models.Purchase
	err := h.svc.View(func(v service.Reader) error {
		var err error
		out, err = purchaseViews(v, []uint64{id})
		return err
	})
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, code, out[0])
}

func (h *Handler) respondWithBalance(w http.ResponseWriter, b domain.Balance) {
	var decimals uint8
	_ = h.svc.View(func(v service.Reader) error {
		decimals = v.SecondaryDecimals()
		return nil
	})
	respondWithJSON(w, http.StatusOK, models.NewBalance(b, decimals))
}

func purchaseViews(v service.Reader, ids []uint64) ([]models.Purchase, error) {
	out := make([]models.Purchase, 0, len(ids))
	for _, id := range ids {
		p, err := v.Purchase(id)
		if err != nil {
			return nil, err
		}
		at, err := v.ClaimableAt(id)
		if err != nil {
			return nil, err
		}
		out = append(out, models.NewPurchase(p, at, v.SecondaryDecimals()))
	}
	return out, nil
}

func decodeListing(w http.ResponseWriter, r *http.Request) (engine.ListingParams, bool) {
	var req models.ListingRequest
	if !decodeJSON(w, r, &req) {
		return engine.ListingParams{}, false
	}
	priceNative, err := models.ParseAmount(req.PriceNative)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return engine.ListingParams{}, false
	}
	priceSecondary, err := models.ParseAmount(req.PriceSecondary)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return engine.ListingParams{}, false
	}
	status := domain.Active
	if req.Status != "" {
		if status, err = domain.ParseListingStatus(req.Status); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return engine.ListingParams{}, false
		}
	}
	return engine.ListingParams{
		PriceNative:      *priceNative,
		PriceSecondary:   *priceSecondary,
		Quantity:         req.Quantity,
		Metadata:         req.Metadata,
		AcceptsNative:    req.AcceptsNative,
		AcceptsSecondary: req.AcceptsSecondary,
		Status:           status,
	}, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "caller account required")
	}
	return caller, ok
}

// statusFor maps engine and service failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrItemDoesNotExist),
		errors.Is(err, engine.ErrInvalidPurchaseID):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized),
		errors.Is(err, engine.ErrNotBuyer),
		errors.Is(err, engine.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidCaller):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrPaused),
		errors.Is(err, engine.ErrNotPaused),
		errors.Is(err, engine.ErrPendingPurchasesExist),
		errors.Is(err, engine.ErrAlreadyConfirmed),
		errors.Is(err, engine.ErrTimeoutNotReached),
		errors.Is(err, engine.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, engine.ErrZeroQuantity),
		errors.Is(err, engine.ErrInvalidPaymentMethod),
		errors.Is(err, engine.ErrZeroPrice),
		errors.Is(err, engine.ErrInvalidStatus),
		errors.Is(err, engine.ErrListingInactive),
		errors.Is(err, engine.ErrExactAmountRequired),
		errors.Is(err, engine.ErrAmountOverflow),
		errors.Is(err, engine.ErrTransferFailed),
		errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInvalidOwner),
		errors.Is(err, engine.ErrDirectTransferNotAccepted),
		errors.Is(err, service.ErrIdempotencyMismatch),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, wallet.ErrZeroAddress),
		errors.Is(err, wallet.ErrRecipientRejected),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrZeroAddress):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondWithEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request_failed", "path", r.URL.Path, "error", err)
		respondWithError(w, code, "Internal Server Error")
		return
	}
	respondWithError(w, code, err.Error())
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
