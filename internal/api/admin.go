package api

import (
	"net/http"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/engine"
	"github.com/punchamoorthee/escrowledger/internal/models"
	"github.com/punchamoorthee/escrowledger/internal/service"
)

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := h.svc.Pause(r.Context(), caller); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.Status(w, r)
}

func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := h.svc.Unpause(r.Context(), caller); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.Status(w, r)
}

func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req models.OwnerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	newOwner, err := service.ParseAccount(req.NewOwner)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, engine.ErrInvalidOwner.Error())
		return
	}
	if err := h.svc.TransferOwnership(r.Context(), caller, newOwner); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.Status(w, r)
}

func (h *Handler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	paid, err := h.svc.WithdrawFees(r.Context(), caller)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.respondWithBalance(w, paid)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var out models.EngineStatus
	_ = h.svc.View(func(v service.Reader) error {
		out = models.EngineStatus{
			Address:           v.Address().Hex(),
			Owner:             v.Owner().Hex(),
			Paused:            v.Paused(),
			SecondaryDecimals: v.SecondaryDecimals(),
			FeeBps:            engine.FeeBps,
		}
		return nil
	})
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) PlatformFees(w http.ResponseWriter, r *http.Request) {
	h.respondWithView(w, func(v service.Reader) domain.Balance { return v.PlatformFees() })
}

// Custody reports what the engine account holds, which always covers
// pending escrow, unwithdrawn earnings and fees.
func (h *Handler) Custody(w http.ResponseWriter, r *http.Request) {
	h.respondWithView(w, func(v service.Reader) domain.Balance { return v.CustodyBalances() })
}

func (h *Handler) respondWithView(w http.ResponseWriter, read func(service.Reader) domain.Balance) {
	var out models.Balance
	_ = h.svc.View(func(v service.Reader) error {
		out = models.NewBalance(read(v), v.SecondaryDecimals())
		return nil
	})
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req models.FaucetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// An empty account funds the caller.
	account, ok := callerFrom(r.Context())
	if req.Account != "" || !ok {
		var err error
		if account, err = service.ParseAccount(req.Account); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	native, err := models.ParseAmount(req.Native)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	secondary, err := models.ParseAmount(req.Secondary)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Faucet(r.Context(), account, native, secondary); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	holdings := h.svc.Holdings(account)
	h.respondWithBalance(w, holdings.Wallet)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req models.ApproveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := models.ParseAmount(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Approve(r.Context(), caller, amount); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	holdings := h.svc.Holdings(caller)
	var decimals uint8
	_ = h.svc.View(func(v service.Reader) error {
		decimals = v.SecondaryDecimals()
		return nil
	})
	respondWithJSON(w, http.StatusOK, map[string]models.Amount{
		"allowance": models.NewAmount(&holdings.Allowance, decimals),
	})
}

func (h *Handler) TransferNative(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req models.NativeTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	to, err := service.ParseAccount(req.To)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := models.ParseAmount(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.TransferNative(r.Context(), caller, to, amount); err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	h.respondWithBalance(w, h.svc.Holdings(caller).Wallet)
}
