package tipio

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/spf13/cast"
	"github.com/twitchtv/twirp"
	"github.com/zyedidia/generic/mapset"
)

func (s *Server) Handler() http.Handler {
	m := chi.NewMux()
	m.Use(middleware.Recoverer)
	m.Use(middleware.RealIP)
	m.Use(middleware.Logger)
	m.Use(middleware.Heartbeat("/hc"))
	m.Use(cors.AllowAll().Handler)
	m.Use(handleAuth(s.cfg.Issuer, s.backend))

	m.Get("/tokens", s.listTokens)
	m.Get("/tokens/{id}", s.getToken)
	m.Put("/tokens", s.addToken)
	m.Post("/tokens/{id}/refresh", s.refreshToken)
	m.Delete("/tokens", s.clearTokens)
	m.Get("/prices", s.listPrices)
	m.Get("/tips", s.listTips)
	m.Get("/balances", s.getBalances)
	m.Post("/withdrawals", s.withdraw)
	m.Post("/withdrawals/bulk", s.withdrawBulk)
	m.Get("/withdrawals", s.listWithdrawals)

	return m
}

func renderJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)

	_ = json.NewEncoder(w).Encode(v)
}

func renderErr(w http.ResponseWriter, err error) {
	var te twirp.Error
	if errors.As(err, &te) {
		_ = twirp.WriteError(w, te)
		return
	}

	var be *BackendError
	var me *MetadataFetchError

	switch {
	case errors.Is(err, ErrInsufficientBalance):
		err = twirp.NewError(twirp.FailedPrecondition, err.Error())
	case errors.Is(err, ErrWalletDisconnected):
		err = twirp.NewError(twirp.FailedPrecondition, err.Error())
	case errors.Is(err, ErrTransferRejected):
		err = twirp.NewError(twirp.Aborted, err.Error())
	case errors.As(err, &be):
		err = twirp.NewError(twirp.Aborted, be.Msg)
	case errors.As(err, &me):
		err = twirp.NewError(twirp.Unavailable, me.Error())
	default:
		err = twirp.InternalErrorWith(err)
	}

	_ = twirp.WriteError(w, err)
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, s.registry.AllTokens())
}

func (s *Server) getToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		renderErr(w, twirp.InvalidArgumentError("id", "required"))
		return
	}

	token, err := s.registry.GetToken(r.Context(), id)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, token)
}

func (s *Server) addToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserFrom(r.Context()); !ok {
		renderErr(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
		return
	}

	var body TokenMetadata
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErr(w, twirp.InvalidArgumentError("body", err.Error()))
		return
	}

	if body.LedgerID == "" || !govalidator.IsPrintableASCII(body.LedgerID) {
		renderErr(w, twirp.InvalidArgumentError("ledger_id", "invalid"))
		return
	}

	if body.Decimals < 0 {
		renderErr(w, twirp.InvalidArgumentError("decimals", "invalid"))
		return
	}

	if err := s.registry.AddToken(body.LedgerID, &body); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, &body)
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.registry.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, token)
}

func (s *Server) clearTokens(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserFrom(r.Context()); !ok {
		renderErr(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
		return
	}

	if err := s.registry.ClearCache(); err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]bool{"cleared": true})
}

func (s *Server) listPrices(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, s.prices.Snapshot())
}

func (s *Server) listTips(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		user, ok := UserFrom(r.Context())
		if !ok {
			renderErr(w, twirp.InvalidArgumentError("username", "required"))
			return
		}

		username = user.Profile.Username
	}

	tips, err := s.backend.ListTipsForUser(r.Context(), username)
	if err != nil {
		renderErr(w, err)
		return
	}

	sort.Slice(tips, func(i, j int) bool {
		return tips[i].CreatedAt > tips[j].CreatedAt
	})

	views := make([]tipView, 0, len(tips))
	for _, tip := range tips {
		views = append(views, tipView{
			Tip:       tip,
			CreatedAt: tipTime(tip.CreatedAt).UTC().Format(time.RFC3339),
		})
	}

	renderJSON(w, views)
}

type tipView struct {
	*Tip
	// CreatedAt shadows the raw nanosecond field with RFC 3339.
	CreatedAt string `json:"created_at"`
}

type balanceEntry struct {
	Token   string `json:"token"`
	Amount  Amount `json:"amount"`
	Display string `json:"display"`
	USD     string `json:"usd"`
}

func (s *Server) getBalances(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserFrom(r.Context()); !ok {
		renderErr(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
		return
	}

	totals, updatedAt := s.agg.Totals()

	entries := make([]balanceEntry, 0, len(totals))
	for symbol, amount := range totals {
		decimals := defaultTokenDecimals
		if token, ok := s.registry.TokenBySymbol(symbol); ok {
			decimals = token.Decimals
		}

		entries = append(entries, balanceEntry{
			Token:   symbol,
			Amount:  amount,
			Display: amount.DisplayCompact(decimals),
			USD:     FormatUSD(s.prices.USDValue(amount, decimals, symbol)),
		})
	}

	renderJSON(w, map[string]any{
		"balances":   entries,
		"updated_at": updatedAt,
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r.Context())
	if !ok {
		renderErr(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
		return
	}

	var body struct {
		TipID string `json:"tip_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TipID == "" {
		renderErr(w, twirp.InvalidArgumentError("tip_id", "required"))
		return
	}

	tip, ok := s.agg.Tip(body.TipID)
	if !ok {
		renderErr(w, twirp.NewError(twirp.NotFound, "tip not found"))
		return
	}

	balance, ok := s.agg.BalanceOf(body.TipID)
	if !ok || balance == 0 {
		renderErr(w, twirp.NewError(twirp.FailedPrecondition, "balance not loaded yet"))
		return
	}

	res := s.withdrawer.Withdraw(r.Context(), user.Profile, tip, balance)
	if res.State == WithdrawStateFailed {
		slog.Error("withdrawal failed", "tip", tip.ID, slog.Any("err", res.Err))
		renderErr(w, res.Err)
		return
	}

	renderJSON(w, res)
}

func (s *Server) withdrawBulk(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r.Context())
	if !ok {
		renderErr(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
		return
	}

	var body struct {
		TipIDs []string `json:"tip_ids"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.TipIDs) == 0 {
		renderErr(w, twirp.InvalidArgumentError("tip_ids", "required"))
		return
	}

	selection := mapset.New[string]()
	for _, id := range body.TipIDs {
		selection.Put(id)
	}

	report := s.withdrawer.WithdrawAll(r.Context(), user.Profile, selection)
	renderJSON(w, report)
}

func (s *Server) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserFrom(r.Context()); !ok {
		renderErr(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
		return
	}

	q := r.URL.Query()
	since := cast.ToTime(q.Get("offset"))
	limit := cast.ToInt(q.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	records, err := ListWithdrawals(s.db, since, limit)
	if err != nil {
		slog.Error("list withdrawals failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, records)
}
