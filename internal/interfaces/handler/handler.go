package handler

import (
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/repository"
	"github.com/yukia3e/invite-tier-relayer/internal/metrics"
	"github.com/yukia3e/invite-tier-relayer/internal/usecase/relay"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

const packageName = "handler"

const (
	jsonContentType = "application/json"
	maxBodyBytes    = 1 << 20
)

type Options struct {
	// ExposeCause adds the internal error to failure details. Off in production.
	ExposeCause bool
	Relayer     common.Address
}

type Handler struct {
	relayService *relay.Service
	metrics      *metrics.Metrics
	opts         Options
}

func New(relayService *relay.Service, m *metrics.Metrics, opts Options) *Handler {
	return &Handler{
		relayService: relayService,
		metrics:      m,
		opts:         opts,
	}
}

// NewRouter builds the gin engine serving the relay, health and metrics endpoints.
func NewRouter(h *Handler) *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), RequestID(), AccessLog())

	engine.POST(model.RelayTransactionPath, h.RelayTransaction)
	engine.GET("/healthz", h.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{})))

	engine.NoMethod(h.MethodNotAllowed)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "NotFound", "message": "Not found"})
	})
	return engine
}

func (h *Handler) RelayTransaction(c *gin.Context) {
	funcName := util.FuncName()
	start := time.Now()
	logger := zerolog.Ctx(c.Request.Context())

	if !strings.Contains(c.GetHeader("Content-Type"), jsonContentType) {
		h.fail(c, start, &relay.Error{
			Kind:    relay.KindUnsupportedMediaType,
			Message: "Unsupported Media Type",
			Details: map[string]any{"requiredContentType": jsonContentType},
		})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var payload model.RelayPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		message := "Invalid JSON body"
		if errors.Is(err, io.EOF) {
			message = "Missing request body"
		}
		h.fail(c, start, relay.NewError(relay.KindBadRequest, message, err))
		return
	}

	result, err := h.relayService.Relay(c.Request.Context(), payload)
	if err != nil {
		h.fail(c, start, relay.AsError(err))
		return
	}

	res := repository.RelayResponse{
		Success:  true,
		TxHash:   result.TxHash.Hex(),
		Message:  relay.SuccessMessage,
		GasLimit: strconv.FormatUint(result.GasLimit, 10),
		Nonce:    result.Nonce.String(),
	}
	if result.GasEstimate > 0 {
		res.GasEstimate = strconv.FormatUint(result.GasEstimate, 10)
	}

	h.metrics.ObserveRelay(metrics.OutcomeSuccess, time.Since(start))
	logger.Info().Str("txHash", res.TxHash).Msg(util.WrapLogMessage(packageName, funcName, "relay accepted"))
	c.JSON(http.StatusOK, res)
}

func (h *Handler) MethodNotAllowed(c *gin.Context) {
	if c.Request.URL.Path != model.RelayTransactionPath {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"success": false, "error": string(relay.KindMethodNotAllowed), "message": "Method not allowed"})
		return
	}
	c.Header("Allow", http.MethodPost)
	h.fail(c, time.Now(), &relay.Error{
		Kind:    relay.KindMethodNotAllowed,
		Message: "Method not allowed",
		Details: map[string]any{"allowedMethods": []string{http.MethodPost}},
	})
}

func (h *Handler) Health(c *gin.Context) {
	domain := h.relayService.Domain()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"relayer":  h.opts.Relayer.Hex(),
		"contract": domain.VerifyingContract.Hex(),
		"chainId":  chainIDString(domain.ChainID),
	})
}

func (h *Handler) fail(c *gin.Context, start time.Time, relayErr *relay.Error) {
	funcName := util.FuncName()

	details := make(map[string]any, len(relayErr.Details)+1)
	for k, v := range relayErr.Details {
		details[k] = v
	}
	if h.opts.ExposeCause && relayErr.Cause != nil {
		details["cause"] = relayErr.Cause.Error()
	}
	if len(details) == 0 {
		details = nil
	}

	status := relayErr.Status()
	event := zerolog.Ctx(c.Request.Context()).Info()
	if status >= http.StatusInternalServerError {
		event = zerolog.Ctx(c.Request.Context()).Error()
	}
	event.Err(relayErr).Int("status", status).Msg(util.WrapLogMessage(packageName, funcName, "relay rejected"))

	h.metrics.ObserveRelay(string(relayErr.Kind), time.Since(start))
	c.AbortWithStatusJSON(status, repository.RelayResponse{
		Success: false,
		Error:   string(relayErr.Kind),
		Message: relayErr.Message,
		Details: details,
	})
}

func chainIDString(chainID *big.Int) string {
	if chainID == nil {
		return ""
	}
	return chainID.String()
}
