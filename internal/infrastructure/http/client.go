package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/repository"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

const packageName = "http"

type gasStationClient struct {
	httpClient *http.Client
	endpoint   string
}

func NewGasStationClient(httpClient *http.Client, endpoint string) repository.GasStationRepository {
	return &gasStationClient{
		httpClient: httpClient,
		endpoint:   endpoint,
	}
}

type GasPriceRecommendations struct {
	SafeLow     *GasPriceRecommendation `json:"safeLow"`
	Standard    *GasPriceRecommendation `json:"standard"`
	Fast        *GasPriceRecommendation `json:"fast"`
	BaseFee     float32                 `json:"estimatedBaseFee"`
	BlockTime   int64                   `json:"blockTime"`
	BlockNumber int64                   `json:"blockNumber"`
}

type GasPriceRecommendation struct {
	MaxPriorityFee float32 `json:"maxPriorityFee"`
	MaxFee         float32 `json:"maxFee"`
}

func (c *gasStationClient) GetGasPriceRecommendations(ctx context.Context) (*model.GasPriceRecommendations, error) {
	funcName := util.FuncName()

	res, err := doRequest(ctx, c.httpClient, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("error making request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("status code not 200: %d", res.StatusCode))
	}

	var tmp GasPriceRecommendations
	if err := json.NewDecoder(res.Body).Decode(&tmp); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("error decoding response body: %w", err))
	}

	if tmp.SafeLow == nil || tmp.Standard == nil || tmp.Fast == nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("error decoding response body: gas price recommendations are not set"))
	}

	return &model.GasPriceRecommendations{
		SafeLow: &model.GasPriceRecommendation{
			MaxPriorityFee: tmp.SafeLow.MaxPriorityFee,
			MaxFee:         tmp.SafeLow.MaxFee,
		},
		Standard: &model.GasPriceRecommendation{
			MaxPriorityFee: tmp.Standard.MaxPriorityFee,
			MaxFee:         tmp.Standard.MaxFee,
		},
		Fast: &model.GasPriceRecommendation{
			MaxPriorityFee: tmp.Fast.MaxPriorityFee,
			MaxFee:         tmp.Fast.MaxFee,
		},
		EstimatedBaseFee: tmp.BaseFee,
		BlockTime:        tmp.BlockTime,
		BlockNumber:      tmp.BlockNumber,
	}, nil
}

func doRequest(ctx context.Context, httpClient *http.Client, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("error do request: %w", err))
	}

	return resp, nil
}
