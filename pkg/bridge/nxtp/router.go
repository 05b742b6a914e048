package nxtp

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
)

const defaultHTTPTimeout = 15 * time.Second

// Router is the HTTP client for an nxtp router aggregation service. It is
// the production Backend implementation.
type Router struct {
	baseURL    string
	httpClient *http.Client
}

// NewRouter builds a router client. A nil httpClient gets a default with a
// 15s timeout.
func NewRouter(baseURL string, httpClient *http.Client) *Router {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Router{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type bidResponse struct {
	Error         string `json:"error,omitempty"`
	TransactionID string `json:"transaction_id"`
	Router        string `json:"router"`
	Amount        string `json:"amount_received"`
	RouterFee     string `json:"router_fee"`
	GasFee        string `json:"gas_fee"`
	EncodedBid    string `json:"encoded_bid"`
	BidSignature  string `json:"bid_signature"`
	Expiry        int64  `json:"bid_expiry"`
}

type txResponse struct {
	Error    string `json:"error,omitempty"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasLimit uint64 `json:"gas_limit"`
}

type statusResponse struct {
	Error           string `json:"error,omitempty"`
	Status          string `json:"status"`
	FulfilledTxHash string `json:"fulfilled_tx_hash"`
	EncodedBid      string `json:"encoded_bid"`
	BidSignature    string `json:"bid_signature"`
}

// RequestBid implements Backend.
func (r *Router) RequestBid(ctx context.Context, req *BidRequest) (*Bid, error) {
	body := map[string]any{
		"sending_chain_id":   req.SourceChainID,
		"receiving_chain_id": req.DestChainID,
		"sending_asset":      req.SourceToken,
		"receiving_asset":    req.DestToken,
		"amount":             req.Amount.String(),
		"user":               req.Sender,
		"receiving_address":  req.Recipient,
		"expiry":             req.Expiry,
	}
	var resp bidResponse
	if err := r.post(ctx, "/auction", body, &resp, bridge.PhaseQuote); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, routerToBridgeError(resp.Error, bridge.PhaseQuote)
	}

	amount, ok := new(big.Int).SetString(resp.Amount, 10)
	if !ok {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseQuote, "malformed bid amount %q", resp.Amount)
	}
	routerFee, err := decimal.NewFromString(resp.RouterFee)
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseQuote, "malformed router fee %q", resp.RouterFee)
	}
	gasFee, err := decimal.NewFromString(resp.GasFee)
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseQuote, "malformed gas fee %q", resp.GasFee)
	}
	encodedBid, err := decodeHex(resp.EncodedBid)
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseQuote, "malformed encoded bid")
	}
	bidSig, err := decodeHex(resp.BidSignature)
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseQuote, "malformed bid signature")
	}
	return &Bid{
		TransactionID: resp.TransactionID,
		Router:        resp.Router,
		DestAmount:    amount,
		RouterFee:     routerFee,
		GasFee:        gasFee,
		EncodedBid:    encodedBid,
		BidSignature:  bidSig,
		ExpiresAt:     resp.Expiry,
	}, nil
}

// BuildPrepareTx implements Backend.
func (r *Router) BuildPrepareTx(ctx context.Context, bid *Bid) (*UnsignedTx, error) {
	body := map[string]any{
		"transaction_id": bid.TransactionID,
		"encoded_bid":    hex.EncodeToString(bid.EncodedBid),
		"bid_signature":  hex.EncodeToString(bid.BidSignature),
	}
	var resp txResponse
	if err := r.post(ctx, "/prepare", body, &resp, bridge.PhaseSubmit); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, routerToBridgeError(resp.Error, bridge.PhaseSubmit)
	}
	return resp.unsigned(bridge.PhaseSubmit)
}

// TransferStatus implements Backend.
func (r *Router) TransferStatus(ctx context.Context, transactionID string) (*StatusReport, error) {
	body := map[string]any{"transaction_id": transactionID}
	var resp statusResponse
	if err := r.post(ctx, "/status", body, &resp, bridge.PhasePoll); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, routerToBridgeError(resp.Error, bridge.PhasePoll)
	}
	encodedBid, _ := decodeHex(resp.EncodedBid)
	bidSig, _ := decodeHex(resp.BidSignature)
	return &StatusReport{
		Status:          resp.Status,
		FulfilledTxHash: resp.FulfilledTxHash,
		EncodedBid:      encodedBid,
		BidSignature:    bidSig,
	}, nil
}

// BuildFulfillTx implements Backend.
func (r *Router) BuildFulfillTx(ctx context.Context, claim *ClaimData) (*UnsignedTx, error) {
	body := map[string]any{
		"transaction_id": claim.TransactionID,
		"encoded_bid":    hex.EncodeToString(claim.EncodedBid),
		"bid_signature":  hex.EncodeToString(claim.BidSignature),
		"relayer_fee":    claim.RelayerFee,
	}
	var resp txResponse
	if err := r.post(ctx, "/fulfill", body, &resp, bridge.PhaseClaim); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, routerToBridgeError(resp.Error, bridge.PhaseClaim)
	}
	return resp.unsigned(bridge.PhaseClaim)
}

func (t *txResponse) unsigned(phase bridge.Phase) (*UnsignedTx, error) {
	data, err := decodeHex(t.Data)
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, phase, "malformed calldata from router")
	}
	value := new(big.Int)
	if t.Value != "" {
		if _, ok := value.SetString(t.Value, 10); !ok {
			return nil, bridge.Errorf(bridge.CodeBackendUnreachable, phase, "malformed value %q", t.Value)
		}
	}
	return &UnsignedTx{To: t.To, Data: data, Value: value, GasLimit: t.GasLimit}, nil
}

func (r *Router) post(ctx context.Context, path string, body any, out any, phase bridge.Phase) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode router request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create router request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return bridge.NewError(bridge.CodeBackendUnreachable, phase, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return bridge.Errorf(bridge.CodeRateLimited, phase, "router throttled request to %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return bridge.Errorf(bridge.CodeBackendUnreachable, phase,
			"router returned %d for %s: %s", resp.StatusCode, path, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode router response: %w", err)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func routerToBridgeError(msg string, phase bridge.Phase) error {
	lower := strings.ToLower(msg)
	code := bridge.CodeBackendUnreachable
	switch {
	case strings.Contains(lower, "no bids"), strings.Contains(lower, "no route"):
		code = bridge.CodeRouteUnavailable
	case strings.Contains(lower, "rate limit"):
		code = bridge.CodeRateLimited
	case strings.Contains(lower, "already fulfilled"):
		code = bridge.CodeAlreadyClaimed
	case strings.Contains(lower, "expired"):
		code = bridge.CodeClaimExpired
	}
	return bridge.Errorf(code, phase, "router error: %s", msg)
}
