package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"candlefeed/shared"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Subscription constraints enforced by the http surface.
var (
	rsiPeriods    = map[int]struct{}{5: {}, 10: {}, 14: {}}
	rsiTimeframes = map[shared.Interval]struct{}{shared.OneMinute: {}, shared.FiveMinute: {}}
)

// APIConfig represents the configuration for the http surface.
type APIConfig struct {
	// ListenAddr is the address the server binds to.
	ListenAddr string
	// Subscribe registers a subscription with the manager.
	Subscribe func(sub shared.Subscription) (string, error)
	// CandleData returns the current candle series for a pair.
	CandleData func(venue shared.Exchange, market shared.Market, interval shared.Interval) ([]shared.Candle, error)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sanely initializes the api.
func (cfg *APIConfig) Validate() error {
	var errs error

	if cfg.ListenAddr == "" {
		errs = errors.Join(errs, fmt.Errorf("listen address cannot be an empty string"))
	}
	if cfg.Subscribe == nil {
		errs = errors.Join(errs, fmt.Errorf("subscribe function cannot be nil"))
	}
	if cfg.CandleData == nil {
		errs = errors.Join(errs, fmt.Errorf("candle data function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// API is the http subscribe surface of the service.
type API struct {
	cfg    *APIConfig
	server *http.Server
}

// NewAPI initializes the http surface from the provided config.
func NewAPI(cfg *APIConfig) (*API, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	api := &API{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/subscribe/market", api.handleSubscribeMarket)
	mux.HandleFunc("/subscribe/indicator", api.handleSubscribeIndicator)
	mux.HandleFunc("/candle", api.handleCandle)
	mux.Handle("/metrics", promhttp.Handler())

	api.server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	return api, nil
}

// fail writes the diagnostic text of the provided error.
func (a *API) fail(w http.ResponseWriter, err error) {
	a.cfg.Logger.Error().Msgf("api: %v", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// respond writes the provided payload as json.
func (a *API) respond(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		a.cfg.Logger.Error().Msgf("api: encoding response: %v", err)
	}
}

// readBody slurps and parses the request body.
func readBody(r *http.Request) (gjson.Result, error) {
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading request body: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, errors.New("request body is not valid json")
	}

	return gjson.ParseBytes(raw), nil
}

// handleSubscribeMarket subscribes the caller to a raw market stream.
func (a *API) handleSubscribeMarket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(r)
	if err != nil {
		a.fail(w, err)
		return
	}

	venue, err := shared.ParseExchange(body.Get("exchange").String())
	if err != nil {
		a.fail(w, err)
		return
	}

	market, err := shared.ParseMarket(body.Get("market").String())
	if err != nil {
		a.fail(w, err)
		return
	}

	dataType, err := shared.ParseDataType(body.Get("data_type").String())
	if err != nil {
		a.fail(w, err)
		return
	}
	if dataType.Indicator() {
		a.fail(w, fmt.Errorf("%s is not a market stream data type", dataType.String()))
		return
	}

	var timeframe shared.Interval
	if dataType == shared.CandleData {
		timeframe, err = shared.ParseInterval(body.Get("timeframe").String())
		if err != nil {
			a.fail(w, err)
			return
		}
	}

	channel, err := a.cfg.Subscribe(shared.NewSubscription(venue, market, dataType, 0, timeframe))
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, map[string]string{"channel": channel})
}

// handleSubscribeIndicator subscribes the caller to an indicator family.
func (a *API) handleSubscribeIndicator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(r)
	if err != nil {
		a.fail(w, err)
		return
	}

	venue, err := shared.ParseExchange(body.Get("exchange").String())
	if err != nil {
		a.fail(w, err)
		return
	}

	market, err := shared.ParseMarket(body.Get("market").String())
	if err != nil {
		a.fail(w, err)
		return
	}

	family, err := shared.ParseDataType(body.Get("indicator").String())
	if err != nil {
		a.fail(w, err)
		return
	}
	if !family.Indicator() {
		a.fail(w, fmt.Errorf("%s is not an indicator family", family.String()))
		return
	}

	period := int(body.Get("period").Int())
	timeframe, err := shared.ParseInterval(body.Get("timeframe").String())
	if err != nil {
		a.fail(w, err)
		return
	}

	if family == shared.RSI {
		if _, ok := rsiPeriods[period]; !ok {
			a.fail(w, fmt.Errorf("unsupported rsi period: %d", period))
			return
		}
		if _, ok := rsiTimeframes[timeframe]; !ok {
			a.fail(w, fmt.Errorf("unsupported rsi timeframe: %s", timeframe.String()))
			return
		}
	}

	channel, err := a.cfg.Subscribe(shared.NewSubscription(venue, market, family, period, timeframe))
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, map[string]string{"channel": channel})
}

// handleCandle returns the current candle series for a pair.
func (a *API) handleCandle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(r)
	if err != nil {
		a.fail(w, err)
		return
	}

	venue, err := shared.ParseExchange(body.Get("exchange").String())
	if err != nil {
		a.fail(w, err)
		return
	}

	market, err := shared.ParseMarket(body.Get("market").String())
	if err != nil {
		a.fail(w, err)
		return
	}

	timeframe, err := shared.ParseInterval(body.Get("timeframe").String())
	if err != nil {
		a.fail(w, err)
		return
	}

	candles, err := a.cfg.CandleData(venue, market, timeframe)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, map[string]interface{}{
		"type":     "candle_snapshot",
		"response": candles,
	})
}

// Run serves the http surface until the context is cancelled.
func (a *API) Run(ctx context.Context) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	a.cfg.Logger.Info().Msgf("api listening on %s", a.cfg.ListenAddr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.cfg.Logger.Error().Msgf("api: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		err := a.server.Shutdown(shutdownCtx)
		if err != nil {
			a.cfg.Logger.Error().Msgf("api: shutting down: %v", err)
		}
	}
}
