package celer

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

// Gateway is the HTTP client for the cBridge gateway REST API. It is the
// production Backend implementation.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewGateway builds a gateway client. A nil httpClient gets a default with
// a 15s timeout.
func NewGateway(baseURL string, httpClient *http.Client) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type feeResponse struct {
	Err          *gatewayError `json:"err,omitempty"`
	EqValueFee   string        `json:"eq_value_token_amt"`
	BaseFee      string        `json:"base_fee"`
	PercFee      string        `json:"perc_fee"`
	EstimatedOut string        `json:"estimated_receive_amt"`
	SlippageMs   int64         `json:"max_slippage"`
}

type transferTxResponse struct {
	Err      *gatewayError `json:"err,omitempty"`
	To       string        `json:"contract_addr"`
	Calldata string        `json:"calldata"`
	Value    string        `json:"value"`
	GasLimit uint64        `json:"gas_limit"`
}

type statusResponse struct {
	Err        *gatewayError `json:"err,omitempty"`
	Status     string        `json:"status"`
	DestTxHash string        `json:"dst_block_tx_link"`
}

type gatewayError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// EstimateFee implements Backend.
func (g *Gateway) EstimateFee(ctx context.Context, req *FeeRequest) (*FeeEstimate, error) {
	body := map[string]any{
		"src_chain_id": req.SourceChainID,
		"dst_chain_id": req.DestChainID,
		"token_symbol": req.TokenSymbol,
		"amt":          req.Amount.String(),
		"slippage":     req.Slippage.String(),
	}
	var resp feeResponse
	if err := g.post(ctx, "/v2/estimateAmt", body, &resp); err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, gatewayToBridgeError(resp.Err, bridge.PhaseQuote)
	}

	baseFee, err := decimal.NewFromString(resp.BaseFee)
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseQuote, "malformed base fee %q", resp.BaseFee)
	}
	percFee, err := decimal.NewFromString(resp.PercFee)
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseQuote, "malformed percentage fee %q", resp.PercFee)
	}
	out, ok := new(big.Int).SetString(resp.EstimatedOut, 10)
	if !ok {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseQuote, "malformed estimated amount %q", resp.EstimatedOut)
	}
	return &FeeEstimate{
		BaseFee:       baseFee,
		ProtocolFee:   percFee,
		EstimatedOut:  out,
		MaxSlippageMs: resp.SlippageMs,
	}, nil
}

// BuildTransferTx implements Backend.
func (g *Gateway) BuildTransferTx(ctx context.Context, req *TransferRequest) (*UnsignedTx, error) {
	body := map[string]any{
		"src_chain_id": req.SourceChainID,
		"dst_chain_id": req.DestChainID,
		"token_addr":   req.TokenAddress,
		"amt":          req.Amount.String(),
		"sender":       req.Sender,
		"receiver":     req.Recipient,
		"max_slippage": req.MaxSlippageMs,
		"nonce":        req.Nonce,
	}
	var resp transferTxResponse
	if err := g.post(ctx, "/v2/buildTransferTx", body, &resp); err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, gatewayToBridgeError(resp.Err, bridge.PhaseSubmit)
	}

	data, err := hex.DecodeString(strings.TrimPrefix(resp.Calldata, "0x"))
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseSubmit, "malformed calldata from gateway")
	}
	value := new(big.Int)
	if resp.Value != "" {
		if _, ok := value.SetString(resp.Value, 10); !ok {
			return nil, bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhaseSubmit, "malformed value %q", resp.Value)
		}
	}
	return &UnsignedTx{
		To:       resp.To,
		Data:     data,
		Value:    value,
		GasLimit: resp.GasLimit,
	}, nil
}

// TransferStatus implements Backend.
func (g *Gateway) TransferStatus(ctx context.Context, sourceTxHash string) (*StatusReport, error) {
	body := map[string]any{"transfer_id": sourceTxHash}
	var resp statusResponse
	if err := g.post(ctx, "/v2/getTransferStatus", body, &resp); err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, gatewayToBridgeError(resp.Err, bridge.PhasePoll)
	}
	return &StatusReport{Status: resp.Status, DestTxHash: resp.DestTxHash}, nil
}

func (g *Gateway) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhasePoll, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return bridge.Errorf(bridge.CodeRateLimited, bridge.PhaseQuote, "gateway throttled request to %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return bridge.Errorf(bridge.CodeBackendUnreachable, bridge.PhasePoll,
			"gateway returned %d for %s: %s", resp.StatusCode, path, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func gatewayToBridgeError(ge *gatewayError, phase bridge.Phase) error {
	code := bridge.CodeBackendUnreachable
	switch {
	case ge.Code == 429:
		code = bridge.CodeRateLimited
	case strings.Contains(strings.ToLower(ge.Msg), "no route"),
		strings.Contains(strings.ToLower(ge.Msg), "unsupported"):
		code = bridge.CodeRouteUnavailable
	}
	return bridge.Errorf(code, phase, "gateway error %d: %s", ge.Code, ge.Msg)
}
