package api

import (
	"errors"
	"sync"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"
	"MTBridge/internal/usecase"
	xhttp "MTBridge/pkg/http"
	applogger "MTBridge/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var registerOnce sync.Once

func registerValidations() {
	_ = xhttp.RegisterValidation("timeframe", func(fl validator.FieldLevel) bool {
		_, err := models.ParseTimeframe(fl.Field().String())
		return err == nil
	}, "%s is not a supported timeframe")
}

// BridgeEchoHandler serves the REST side of the bridge: health, the timeframe
// catalogue and one-shot candle snapshots.
type BridgeEchoHandler struct {
	logger   *applogger.Logger
	candles  *usecase.CandlesUseCase
	sessions *usecase.SessionRegistry
}

func NewBridgeEchoHandler(logger *applogger.Logger, candles *usecase.CandlesUseCase, sessions *usecase.SessionRegistry) *BridgeEchoHandler {
	if logger == nil {
		logger = applogger.NewNop()
	}
	registerOnce.Do(registerValidations)
	return &BridgeEchoHandler{logger: logger, candles: candles, sessions: sessions}
}

func (h *BridgeEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/health", h.Health)
	g.GET("/timeframes", h.Timeframes)
	g.GET("/candles", h.Candles)
}

func (h *BridgeEchoHandler) Health(c echo.Context) error {
	res := models.HealthResponse{
		Status:          "ok",
		SourceConnected: h.candles.SourceHealthy(c.Request().Context()),
	}
	if h.sessions != nil {
		res.Sessions = h.sessions.Len()
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *BridgeEchoHandler) Timeframes(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.candles.Timeframes())
}

func (h *BridgeEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := models.ParseTimeframe(req.TF)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InvalidFieldError("tf", err.Error()).WithParam("tf", req.TF))
	}

	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    req.Symbol,
		Timeframe: tf,
		Count:     req.Count,
	})
	if err != nil {
		var ute *models.UnknownTimeframeError
		if errors.As(err, &ute) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
		}
		if errors.Is(err, domrepo.ErrSymbolUnavailable) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("ERR_SYMBOL", "symbol not available").WithParam("symbol", req.Symbol))
		}
		h.logger.Error("candles usecase error", applogger.Error(err), applogger.String("symbol", req.Symbol))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError("ERR_SOURCE", "market data source unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}
