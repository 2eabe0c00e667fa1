package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"candlefeed/shared"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config is the configuration struct for the service.
type Config struct {
	// Exchange is the venue streamed from.
	Exchange string
	// Markets represents the tracked markets.
	Markets []string
	// Intervals are the maintained candle intervals.
	Intervals []string
	// IndicatorsPeriods are the indicator periods subscribed at startup.
	IndicatorsPeriods []string
	// ResetTimeThreshold is the soft reset threshold in seconds.
	ResetTimeThreshold int
	// HardResetTimeThreshold is the hard reset threshold in seconds.
	HardResetTimeThreshold int
	// RestartTimeThreshold is the outer watcher cadence in seconds.
	RestartTimeThreshold int
	// LogLevel is the application log level.
	LogLevel string
	// ExchangeNetwork selects the venue network, main or test.
	ExchangeNetwork string
	// RedisAddr enables the redis pub/sub sink when set.
	RedisAddr string
	// APIListen is the http surface bind address.
	APIListen string

	registeredFlags map[string]bool
}

// ParsedExchange returns the typed venue.
func (cfg *Config) ParsedExchange() (shared.Exchange, error) {
	return shared.ParseExchange(cfg.Exchange)
}

// ParsedMarkets returns the typed tracked markets.
func (cfg *Config) ParsedMarkets() ([]shared.Market, error) {
	markets := make([]shared.Market, 0, len(cfg.Markets))
	for _, name := range cfg.Markets {
		market, err := shared.ParseMarket(name)
		if err != nil {
			return nil, err
		}
		markets = append(markets, market)
	}

	return markets, nil
}

// ParsedIntervals returns the typed maintained intervals.
func (cfg *Config) ParsedIntervals() ([]shared.Interval, error) {
	intervals := make([]shared.Interval, 0, len(cfg.Intervals))
	for _, name := range cfg.Intervals {
		interval, err := shared.ParseInterval(name)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, interval)
	}

	return intervals, nil
}

// ParsedPeriods returns the typed indicator periods.
func (cfg *Config) ParsedPeriods() ([]int, error) {
	periods := make([]int, 0, len(cfg.IndicatorsPeriods))
	for _, raw := range cfg.IndicatorsPeriods {
		period, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing indicator period %q: %w", raw, err)
		}
		periods = append(periods, period)
	}

	return periods, nil
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Markets) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no markets provided for candle feed service"))
	}
	if len(cfg.Intervals) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no intervals provided for candle feed service"))
	}
	if cfg.ExchangeNetwork != "main" && cfg.ExchangeNetwork != "test" {
		errs = errors.Join(errs, fmt.Errorf("exchange network must be main or test, got %q", cfg.ExchangeNetwork))
	}
	if cfg.ResetTimeThreshold <= 0 || cfg.HardResetTimeThreshold <= cfg.ResetTimeThreshold {
		errs = errors.Join(errs, fmt.Errorf("reset thresholds must be positive and ordered"))
	}
	if cfg.RestartTimeThreshold <= 0 {
		errs = errors.Join(errs, fmt.Errorf("restart threshold must be positive"))
	}

	if _, err := cfg.ParsedExchange(); err != nil {
		errs = errors.Join(errs, err)
	}
	if _, err := cfg.ParsedMarkets(); err != nil {
		errs = errors.Join(errs, err)
	}
	if _, err := cfg.ParsedIntervals(); err != nil {
		errs = errors.Join(errs, err)
	}
	if _, err := cfg.ParsedPeriods(); err != nil {
		errs = errors.Join(errs, err)
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		errs = errors.Join(errs, fmt.Errorf("parsing log level: %w", err))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
// The flag's default is sourced from the provided environment variable.
func (cfg *Config) registerFlag(name string, envKey string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(envKey)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	err = cfg.registerFlag("exchange", "EXCHANGE", &cfg.Exchange, "the venue streamed from")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("markets", "MARKETS", &cfg.Markets, "the tracked markets")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("intervals", "INTERVALS", &cfg.Intervals, "the maintained candle intervals")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("indicatorsperiods", "INDICATORS_PERIODS", &cfg.IndicatorsPeriods, "the indicator periods subscribed at startup")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("resettimethreshold", "RESET_TIME_THRESHOLD", &cfg.ResetTimeThreshold, "the soft reset threshold in seconds")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("hardresettimethreshold", "HARD_RESET_TIME_THRESHOLD", &cfg.HardResetTimeThreshold, "the hard reset threshold in seconds")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("restarttimethreshold", "RESTART_TIME_THRESHOLD", &cfg.RestartTimeThreshold, "the outer watcher cadence in seconds")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("loglevel", "LOG_LEVEL", &cfg.LogLevel, "the application log level")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("exchangenetwork", "EXCHANGE_NETWORK", &cfg.ExchangeNetwork, "the venue network, main or test")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("redisaddr", "REDIS_ADDR", &cfg.RedisAddr, "the redis address for the pub/sub sink")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("apilisten", "API_LISTEN", &cfg.APIListen, "the http surface bind address")
	if err != nil {
		return err
	}

	// Parse command-line flags.
	flag.Parse()

	// Apply defaults for unset optional values.
	if cfg.Exchange == "" {
		cfg.Exchange = "hyperliquid"
	}
	if cfg.ExchangeNetwork == "" {
		cfg.ExchangeNetwork = "main"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.APIListen == "" {
		cfg.APIListen = "localhost:8090"
	}
	if cfg.ResetTimeThreshold == 0 {
		cfg.ResetTimeThreshold = 20
	}
	if cfg.HardResetTimeThreshold == 0 {
		cfg.HardResetTimeThreshold = 30
	}
	if cfg.RestartTimeThreshold == 0 {
		cfg.RestartTimeThreshold = 10
	}

	return cfg.Validate()
}
