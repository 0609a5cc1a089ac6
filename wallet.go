package tipio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	g "github.com/pandodao/generic"
	"github.com/tidwall/gjson"
)

// Some connectors take their time before the user approves; bound the
// wait instead of hanging.
const walletConnectTimeout = 50 * time.Second

// Wallet is the creator's wallet session.
type Wallet interface {
	Connected() bool
	Connect(ctx context.Context, kind string) error
}

func reconnectWallet(ctx context.Context, w Wallet, kind string) error {
	ctx, cancel := context.WithTimeout(ctx, walletConnectTimeout)
	defer cancel()

	return w.Connect(ctx, kind)
}

// walletBridge drives a wallet connector over its local bridge
// endpoint.
type walletBridge struct {
	endpoint string
	client   *http.Client
}

func NewWalletBridge(endpoint string) Wallet {
	return &walletBridge{
		endpoint: endpoint,
		client:   &http.Client{Timeout: walletConnectTimeout},
	}
}

func (w *walletBridge) Connected() bool {
	resp, err := w.client.Get(w.endpoint + "/session")
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (w *walletBridge) Connect(ctx context.Context, kind string) error {
	body := bytes.NewReader(g.Must(json.Marshal(map[string]string{"kind": kind})))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/connect", body)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWalletDisconnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		if msg := gjson.GetBytes(b, "err"); msg.Exists() {
			return fmt.Errorf("%w: %s", ErrWalletDisconnected, msg.String())
		}

		return fmt.Errorf("%w: connect status %d", ErrWalletDisconnected, resp.StatusCode)
	}

	return nil
}
