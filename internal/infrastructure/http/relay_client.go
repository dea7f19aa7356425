package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/repository"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

// maxRelayResponseBytes bounds how much of a relay response is read.
const maxRelayResponseBytes = 1 << 20

type relayClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewRelayClient(httpClient *http.Client, baseURL string) repository.RelayRepository {
	return &relayClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// RelayTransaction posts payload to the relay. Structured relay failures are
// returned as a response with Success=false, not as an error.
func (c *relayClient) RelayTransaction(ctx context.Context, payload model.RelayPayload) (*repository.RelayResponse, error) {
	funcName := util.FuncName()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("error encoding request body: %w", err))
	}

	res, err := doRequest(ctx, c.httpClient, http.MethodPost, c.baseURL+model.RelayTransactionPath, bytes.NewReader(body))
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("error making request: %w", err))
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxRelayResponseBytes))
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("error reading response body: %w", err))
	}

	var relayRes repository.RelayResponse
	if err := json.Unmarshal(raw, &relayRes); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("error decoding response body (status %d): %w", res.StatusCode, err))
	}
	relayRes.StatusCode = res.StatusCode

	return &relayRes, nil
}
