// Package api exposes the ledger engine over HTTP: account operations,
// the wallet selector, the admin dashboard and manual recompute triggers,
// plus a WebSocket stream of engine events.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/refledger/ledger-engine/internal/account"
	"github.com/refledger/ledger-engine/internal/dashboard"
	"github.com/refledger/ledger-engine/internal/model"
	"github.com/refledger/ledger-engine/internal/recompute"
	"github.com/refledger/ledger-engine/internal/wallet"
)

// Handler serves the /api/v1 routes.
type Handler struct {
	accounts  *account.Service
	wallets   *wallet.Selector
	engine    *recompute.Scheduler
	dashboard *dashboard.Aggregator
	hub       *WSHub
	secret    []byte
	logger    *zap.Logger
	now       func() time.Time
}

// Deps bundles the collaborators of a Handler. Hub may be nil.
type Deps struct {
	Accounts  *account.Service
	Wallets   *wallet.Selector
	Engine    *recompute.Scheduler
	Dashboard *dashboard.Aggregator
	Hub       *WSHub
	JWTSecret []byte
	Logger    *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		accounts:  d.Accounts,
		wallets:   d.Wallets,
		engine:    d.Engine,
		dashboard: d.Dashboard,
		hub:       d.Hub,
		secret:    d.JWTSecret,
		logger:    logger,
		now:       time.Now,
	}
}

// Routes returns the router to mount at /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Public.
	r.Post("/accounts", h.Register)
	r.Post("/accounts/check-phone", h.CheckPhone)
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.secret, h.logger))

		// Self-service, scoped to the token's account.
		r.Get("/me", h.GetMe)
		r.Put("/me", h.UpdateMe)
		r.Get("/me/statement", h.GetMyStatement)
		r.Post("/me/products", h.BuyProduct)
		r.Post("/me/deposits", h.AddMyDeposit)
		r.Post("/me/withdrawals", h.RequestMyWithdrawal)
		r.Get("/products", h.ListProducts)
		r.Get("/wallets/active", h.GetActiveWallet)

		// Admin.
		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Get("/accounts", h.ListAccounts)
			r.Get("/accounts/{accountID}", h.GetAccount)
			r.Put("/accounts/{accountID}", h.UpdateAccount)
			r.Delete("/accounts/{accountID}", h.DeleteAccount)
			r.Get("/accounts/{accountID}/statement", h.GetStatement)
			r.Post("/accounts/{accountID}/products", h.AddProduct)
			r.Post("/accounts/{accountID}/deposits", h.AddDeposit)
			r.Post("/accounts/{accountID}/withdrawals", h.RequestWithdrawal)
			r.Put("/accounts/{accountID}/deposits/{depositID}/status", h.SetDepositStatus)
			r.Put("/accounts/{accountID}/withdrawals/{withdrawalID}/status", h.SetWithdrawalStatus)
			r.Put("/accounts/{accountID}/invites", h.AdjustInvites)
			r.Put("/status", h.UpdateStatus)

			r.Get("/wallets", h.ListWallets)
			r.Put("/wallets/active", h.ActivateWallet)

			r.Get("/dashboard", h.GetDashboard)
			r.Post("/recompute", h.TriggerRecompute)
			r.Post("/recompute/{accountID}", h.RecomputeAccount)
		})
	})

	return r
}

// --- Request types ---

// StatusRequest is the JSON body for status transitions.
type StatusRequest struct {
	Status *int `json:"status"`
}

// UpdateStatusRequest is the JSON body for PUT /status. Prop is "d" for a
// deposit and "w" for a withdrawal.
type UpdateStatusRequest struct {
	Status    *int   `json:"status"`
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
	Prop      string `json:"prop"`
}

// BuyProductRequest is the JSON body for self-service purchases. Only the
// catalogue name is read; terms and start date come from the server.
type BuyProductRequest struct {
	Name string `json:"name"`
}

// WithdrawalRequest is the JSON body for withdrawal requests.
type WithdrawalRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// InvitesRequest is the JSON body for referral counter adjustments.
type InvitesRequest struct {
	Delta  int             `json:"delta"`
	Profit decimal.Decimal `json:"profit"`
}

// PhoneRequest is the JSON body for the phone availability check.
type PhoneRequest struct {
	Phone string `json:"phone"`
}

// ActivateWalletRequest is the JSON body for wallet activation.
type ActivateWalletRequest struct {
	Name string `json:"name"`
}

// --- Public ---

// Register handles POST /api/v1/accounts
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	acc, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "register account", err)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Message: "account created", Data: acc})
}

// CheckPhone handles POST /api/v1/accounts/check-phone
func (h *Handler) CheckPhone(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ok, err := h.accounts.PhoneAvailable(r.Context(), req.Phone)
	if err != nil {
		writeServiceError(w, h.logger, "check phone", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, Envelope{Success: false, Message: "phone number already exists"})
		return
	}
	writeOK(w, "phone number is available", nil)
}

// --- Self-service ---

func selfID(r *http.Request) string {
	return ClaimsFromContext(r.Context()).ID
}

// GetMe handles GET /api/v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	h.getAccount(w, r, selfID(r))
}

// UpdateMe handles PUT /api/v1/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	h.updateAccount(w, r, selfID(r))
}

// GetMyStatement handles GET /api/v1/me/statement
func (h *Handler) GetMyStatement(w http.ResponseWriter, r *http.Request) {
	h.getStatement(w, r, selfID(r))
}

// BuyProduct handles POST /api/v1/me/products
func (h *Handler) BuyProduct(w http.ResponseWriter, r *http.Request) {
	var req BuyProductRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	acc, err := h.accounts.BuyProduct(r.Context(), selfID(r), req.Name)
	if err != nil {
		writeServiceError(w, h.logger, "buy product", err)
		return
	}
	writeOK(w, "product added", acc)
}

// ListProducts handles GET /api/v1/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	writeOK(w, "products retrieved", h.accounts.Catalogue())
}

// AddMyDeposit handles POST /api/v1/me/deposits
func (h *Handler) AddMyDeposit(w http.ResponseWriter, r *http.Request) {
	h.addDeposit(w, r, selfID(r))
}

// RequestMyWithdrawal handles POST /api/v1/me/withdrawals
func (h *Handler) RequestMyWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.requestWithdrawal(w, r, selfID(r))
}

// --- Admin: accounts ---

// ListAccounts handles GET /api/v1/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "list accounts", err)
		return
	}
	writeOK(w, "accounts retrieved", accounts)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	h.getAccount(w, r, chi.URLParam(r, "accountID"))
}

// UpdateAccount handles PUT /api/v1/accounts/{accountID}
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	h.updateAccount(w, r, chi.URLParam(r, "accountID"))
}

// DeleteAccount handles DELETE /api/v1/accounts/{accountID}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context(), chi.URLParam(r, "accountID")); err != nil {
		writeServiceError(w, h.logger, "delete account", err)
		return
	}
	writeOK(w, "account deleted", nil)
}

// GetStatement handles GET /api/v1/accounts/{accountID}/statement
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	h.getStatement(w, r, chi.URLParam(r, "accountID"))
}

// AddProduct handles POST /api/v1/accounts/{accountID}/products
func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var req account.ProductInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	acc, err := h.accounts.AddProduct(r.Context(), chi.URLParam(r, "accountID"), req)
	if err != nil {
		writeServiceError(w, h.logger, "add product", err)
		return
	}
	writeOK(w, "product added", acc)
}

// AddDeposit handles POST /api/v1/accounts/{accountID}/deposits
func (h *Handler) AddDeposit(w http.ResponseWriter, r *http.Request) {
	h.addDeposit(w, r, chi.URLParam(r, "accountID"))
}

// RequestWithdrawal handles POST /api/v1/accounts/{accountID}/withdrawals
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.requestWithdrawal(w, r, chi.URLParam(r, "accountID"))
}

// SetDepositStatus handles PUT /api/v1/accounts/{accountID}/deposits/{depositID}/status
func (h *Handler) SetDepositStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := decodeStatus(w, r)
	if !ok {
		return
	}
	acc, err := h.accounts.SetDepositStatus(r.Context(),
		chi.URLParam(r, "accountID"), chi.URLParam(r, "depositID"), status)
	if err != nil {
		writeServiceError(w, h.logger, "update deposit status", err)
		return
	}
	writeOK(w, "deposit status updated", acc)
}

// SetWithdrawalStatus handles PUT /api/v1/accounts/{accountID}/withdrawals/{withdrawalID}/status
func (h *Handler) SetWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := decodeStatus(w, r)
	if !ok {
		return
	}
	acc, err := h.accounts.SetWithdrawalStatus(r.Context(),
		chi.URLParam(r, "accountID"), chi.URLParam(r, "withdrawalID"), status)
	if err != nil {
		writeServiceError(w, h.logger, "update withdrawal status", err)
		return
	}
	writeOK(w, "withdrawal status updated", acc)
}

// UpdateStatus handles PUT /api/v1/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Status == nil {
		writeError(w, "status is required", http.StatusBadRequest)
		return
	}
	status := model.Status(*req.Status)

	var err error
	switch req.Prop {
	case "d":
		_, err = h.accounts.SetDepositStatus(r.Context(), req.UserID, req.RequestID, status)
	case "w":
		_, err = h.accounts.SetWithdrawalStatus(r.Context(), req.UserID, req.RequestID, status)
	default:
		writeError(w, "invalid property type", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, "update status", err)
		return
	}
	writeOK(w, "status updated", nil)
}

// AdjustInvites handles PUT /api/v1/accounts/{accountID}/invites
func (h *Handler) AdjustInvites(w http.ResponseWriter, r *http.Request) {
	var req InvitesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	acc, err := h.accounts.AdjustInvites(r.Context(), chi.URLParam(r, "accountID"), req.Delta, req.Profit)
	if err != nil {
		writeServiceError(w, h.logger, "adjust invites", err)
		return
	}
	writeOK(w, "invites updated", acc)
}

// --- Wallets ---

// GetActiveWallet handles GET /api/v1/wallets/active
func (h *Handler) GetActiveWallet(w http.ResponseWriter, r *http.Request) {
	wl, err := h.wallets.GetActive(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "get active wallet", err)
		return
	}
	writeOK(w, "active wallet", wl)
}

// ListWallets handles GET /api/v1/wallets
func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.wallets.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "list wallets", err)
		return
	}
	writeOK(w, "wallets retrieved", wallets)
}

// ActivateWallet handles PUT /api/v1/wallets/active
func (h *Handler) ActivateWallet(w http.ResponseWriter, r *http.Request) {
	var req ActivateWalletRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wl, err := h.wallets.SetActive(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, h.logger, "activate wallet", err)
		return
	}
	writeOK(w, "wallet activated", wl)
}

// --- Dashboard & recompute ---

// GetDashboard handles GET /api/v1/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "build dashboard", err)
		return
	}
	writeOK(w, "dashboard", h.dashboard.Build(accounts, h.now()))
}

// TriggerRecompute handles POST /api/v1/recompute
func (h *Handler) TriggerRecompute(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.RunBatch(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "recompute", err)
		return
	}
	writeOK(w, "balances recomputed", rep)
}

// RecomputeAccount handles POST /api/v1/recompute/{accountID}
func (h *Handler) RecomputeAccount(w http.ResponseWriter, r *http.Request) {
	h.getStatement(w, r, chi.URLParam(r, "accountID"))
}

// --- Shared ---

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	acc, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "get account", err)
		return
	}
	writeOK(w, "account found", acc)
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request, id string) {
	var req account.ProfileUpdate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	acc, err := h.accounts.UpdateProfile(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, h.logger, "update account", err)
		return
	}
	writeOK(w, "account updated", acc)
}

func (h *Handler) getStatement(w http.ResponseWriter, r *http.Request, id string) {
	b, err := h.accounts.Statement(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "get statement", err)
		return
	}
	writeOK(w, "balance statement", b)
}

func (h *Handler) addDeposit(w http.ResponseWriter, r *http.Request, id string) {
	var req account.DepositInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	acc, err := h.accounts.AddDeposit(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, h.logger, "add deposit", err)
		return
	}
	writeOK(w, "deposit added", acc)
}

func (h *Handler) requestWithdrawal(w http.ResponseWriter, r *http.Request, id string) {
	var req WithdrawalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	acc, err := h.accounts.RequestWithdrawal(r.Context(), id, req.Amount)
	if err != nil {
		writeServiceError(w, h.logger, "request withdrawal", err)
		return
	}
	writeOK(w, "withdrawal requested", acc)
}

func decodeStatus(w http.ResponseWriter, r *http.Request) (model.Status, bool) {
	var req StatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	if req.Status == nil {
		writeError(w, "status is required", http.StatusBadRequest)
		return 0, false
	}
	return model.Status(*req.Status), true
}
