package tipio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	g "github.com/pandodao/generic"
	"github.com/tidwall/gjson"
)

// BackendClient is the remote tip backend. Explicit error results
// come back as *BackendError; transport failures as plain errors.
type BackendClient interface {
	Me(ctx context.Context, token string) (*Profile, error)
	ListTipsForUser(ctx context.Context, username string) ([]*Tip, error)
	AllTipBalances(ctx context.Context) ([]TipBalance, error)
	CalculateWithdrawalFees(ctx context.Context, balance Amount, tokenID string) (*FeeBreakdown, error)
	WithdrawTip(ctx context.Context, tipID string) (*Tip, error)
}

type backendHTTP struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewBackendClient(endpoint, token string) BackendClient {
	return &backendHTTP{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *backendHTTP) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	return c.doAs(ctx, method, path, body, c.token)
}

func (c *backendHTTP) doAs(ctx context.Context, method, path string, body any, token string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(g.Must(json.Marshal(body)))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// The backend reports expected failures as an explicit err field.
	if msg := gjson.GetBytes(b, "err"); msg.Exists() {
		return nil, &BackendError{Msg: msg.String()}
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend %s %s: status %d", method, path, resp.StatusCode)
	}

	return b, nil
}

func (c *backendHTTP) Me(ctx context.Context, token string) (*Profile, error) {
	if token == "" {
		token = c.token
	}

	b, err := c.doAs(ctx, http.MethodGet, "/me", nil, token)
	if err != nil {
		return nil, err
	}

	r := gjson.ParseBytes(b)
	return &Profile{
		Username:        r.Get("username").String(),
		WalletPrincipal: optionalText(r.Get("wallet_principal")),
		WalletType:      optionalText(r.Get("wallet_type")),
		Tier:            tierFrom(r.Get("tier")),
	}, nil
}

func (c *backendHTTP) ListTipsForUser(ctx context.Context, username string) ([]*Tip, error) {
	b, err := c.do(ctx, http.MethodGet, "/tips?username="+url.QueryEscape(username), nil)
	if err != nil {
		return nil, err
	}

	var tips []*Tip
	for _, r := range gjson.ParseBytes(b).Array() {
		tips = append(tips, tipFrom(r))
	}

	return tips, nil
}

func (c *backendHTTP) AllTipBalances(ctx context.Context) ([]TipBalance, error) {
	b, err := c.do(ctx, http.MethodGet, "/tip-balances", nil)
	if err != nil {
		return nil, err
	}

	var balances []TipBalance
	for _, r := range gjson.ParseBytes(b).Array() {
		// Entries arrive as [tipId, balance] pairs.
		pair := r.Array()
		if len(pair) != 2 {
			continue
		}

		balances = append(balances, TipBalance{
			TipID:   pair[0].String(),
			Balance: Amount(pair[1].Uint()),
		})
	}

	return balances, nil
}

func (c *backendHTTP) CalculateWithdrawalFees(ctx context.Context, balance Amount, tokenID string) (*FeeBreakdown, error) {
	b, err := c.do(ctx, http.MethodPost, "/withdrawal-fees", map[string]any{
		"balance":  balance,
		"token_id": tokenID,
	})
	if err != nil {
		return nil, err
	}

	r := gjson.ParseBytes(b)
	return &FeeBreakdown{
		PlatformFee:     Amount(r.Get("platform_fee").Uint()),
		LedgerFee:       Amount(r.Get("ledger_fee").Uint()),
		TotalFees:       Amount(r.Get("total_fees").Uint()),
		AmountToReceive: Amount(r.Get("amount_to_receive").Uint()),
	}, nil
}

func (c *backendHTTP) WithdrawTip(ctx context.Context, tipID string) (*Tip, error) {
	b, err := c.do(ctx, http.MethodPost, "/tips/"+url.PathEscape(tipID)+"/withdraw", nil)
	if err != nil {
		return nil, err
	}

	return tipFrom(gjson.ParseBytes(b).Get("ok")), nil
}

func tipFrom(r gjson.Result) *Tip {
	status, err := TipStatusFromString(r.Get("status").String())
	if err != nil {
		status = TipStatusPending
	}

	return &Tip{
		ID:        r.Get("id").String(),
		Username:  r.Get("username").String(),
		Token:     r.Get("token").String(),
		TokenID:   r.Get("token_id").String(),
		Amount:    Amount(r.Get("amount").Uint()),
		CreatedAt: r.Get("created_at").Int(),
		Message:   r.Get("message").String(),
		Status:    status,
	}
}

func tierFrom(r gjson.Result) Tier {
	if r.String() == "Premium" {
		return TierPremium
	}
	return TierFree
}

// optionalText unwraps the backend's empty-or-one-element list
// encoding of optional fields into a plain optional.
func optionalText(r gjson.Result) *string {
	if r.IsArray() {
		arr := r.Array()
		if len(arr) == 0 {
			return nil
		}

		s := arr[0].String()
		return &s
	}

	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}

	s := r.String()
	return &s
}
