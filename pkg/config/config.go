package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Coin is one tradable symbol with its sizing overrides.
type Coin struct {
	Symbol     string   `yaml:"symbol"`
	Category   string   `yaml:"category"`
	Leverage   int      `yaml:"leverage"`
	Amount     float64  `yaml:"amount"`
	MarginType string   `yaml:"margin_type"`
	Keywords   []string `yaml:"keywords"`
	BTCCorr    *bool    `yaml:"btc_corr"`
}

// FollowsBTC reports whether BTC context is considered for this coin.
// Unset means true.
func (c Coin) FollowsBTC() bool {
	return c.BTCCorr == nil || *c.BTCCorr
}

// Timeframe pairs an interval with the ring buffer capacity kept for it.
type Timeframe struct {
	Interval string
	Limit    int
}

// Safety holds protective-order and entry settings.
type Safety struct {
	TrapSafetySL      float64
	ATRMultiplierTP   float64
	DefaultSLPercent  float64
	DefaultTPPercent  float64
	SLTPRetries       int
	SLTPRetryDelay    time.Duration
	MonitorInterval   time.Duration
	LimitOrderExpiry  time.Duration
	DefaultMarginType string
	CooldownProfit    time.Duration
	CooldownLoss      time.Duration
	ConcurrencyLimit  int
}

// Trailing holds trailing-stop settings.
type Trailing struct {
	Enabled             bool
	ActivationThreshold float64
	CallbackRate        float64
	MinProfitLock       float64
	UpdateCooldown      time.Duration
}

// Decision holds decision service settings.
type Decision struct {
	Backend       string // chat, grpc or none
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	Timeout       time.Duration
	GRPCAddr      string
	RatePerMinute int
	MinConfidence float64
	MinRiskReward float64
	MaxSLDistance float64
	AppURL        string
	AppTitle      string
}

// Config holds environment-driven settings for the execution core.
type Config struct {
	// Binance
	Testnet    bool
	APIKey     string
	APISecret  string
	APITimeout time.Duration
	RecvWindow int64

	Coins        []Coin
	ExecTF       Timeframe
	TrendTF      Timeframe
	SetupTF      Timeframe
	BTCSymbol    string
	BTCEMAPeriod int

	CorrelationThresholdBTC float64

	// Streaming
	WSReconnectDelay    time.Duration
	WSKeepAliveInterval time.Duration
	WhaleThresholdUSDT  float64
	OrderBookRange      float64

	Safety   Safety
	Trailing Trailing
	Decision Decision

	// Scheduler
	LoopSleepDelay          time.Duration
	LoopSkipDelay           time.Duration
	ErrorSleepDelay         time.Duration
	MaxPositionsPerCategory int
	SentimentInterval       time.Duration
	RefreshInterval         time.Duration
	TaskRestartDelay        time.Duration

	TrackerDBPath string

	TelegramToken  string
	TelegramChatID int64

	StatusAddr      string
	EnableStatusAPI bool
	StatusAPISecret string

	LogLevel  string
	LogFormat string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	coins, err := LoadCoins(getEnv("COINS_FILE", "./coins.yaml"))
	if err != nil {
		return nil, err
	}
	if only := splitAndTrim(getEnv("COINS_ENABLED", "")); len(only) > 0 {
		coins = FilterCoins(coins, only)
	}

	cfg := &Config{
		Testnet:    getEnvBool("BINANCE_TESTNET", false),
		APIKey:     os.Getenv("BINANCE_API_KEY"),
		APISecret:  os.Getenv("BINANCE_API_SECRET"),
		APITimeout: getEnvDuration("API_TIMEOUT", 10*time.Second),
		RecvWindow: int64(getEnvInt("RECV_WINDOW", 10000)),

		Coins:        coins,
		ExecTF:       Timeframe{getEnv("TIMEFRAME_EXEC", "15m"), getEnvInt("LIMIT_EXEC", 300)},
		TrendTF:      Timeframe{getEnv("TIMEFRAME_TREND", "1h"), getEnvInt("LIMIT_TREND", 500)},
		SetupTF:      Timeframe{getEnv("TIMEFRAME_SETUP", "30m"), getEnvInt("LIMIT_SETUP", 100)},
		BTCSymbol:    getEnv("BTC_SYMBOL", "BTC/USDT"),
		BTCEMAPeriod: getEnvInt("BTC_EMA_PERIOD", 50),

		CorrelationThresholdBTC: getEnvFloat("CORRELATION_THRESHOLD_BTC", 0.7),

		WSReconnectDelay:    getEnvDuration("WS_RECONNECT_DELAY", 5*time.Second),
		WSKeepAliveInterval: getEnvDuration("WS_KEEPALIVE_INTERVAL", 1800*time.Second),
		WhaleThresholdUSDT:  getEnvFloat("WHALE_THRESHOLD_USDT", 1_000_000),
		OrderBookRange:      getEnvFloat("ORDERBOOK_RANGE_PERCENT", 0.02),

		Safety: Safety{
			TrapSafetySL:      getEnvFloat("TRAP_SAFETY_SL", 2.0),
			ATRMultiplierTP:   getEnvFloat("ATR_MULTIPLIER_TP1", 3.0),
			DefaultSLPercent:  getEnvFloat("DEFAULT_SL_PERCENT", 0.015),
			DefaultTPPercent:  getEnvFloat("DEFAULT_TP_PERCENT", 0.025),
			SLTPRetries:       getEnvInt("ORDER_SLTP_RETRIES", 3),
			SLTPRetryDelay:    getEnvDuration("ORDER_SLTP_RETRY_DELAY", 2*time.Second),
			MonitorInterval:   getEnvDuration("SAFETY_MONITOR_INTERVAL", 60*time.Second),
			LimitOrderExpiry:  getEnvDuration("LIMIT_ORDER_EXPIRY", 7200*time.Second),
			DefaultMarginType: strings.ToUpper(getEnv("DEFAULT_MARGIN_TYPE", "ISOLATED")),
			CooldownProfit:    getEnvDuration("COOLDOWN_IF_PROFIT", 3600*time.Second),
			CooldownLoss:      getEnvDuration("COOLDOWN_IF_LOSS", 7200*time.Second),
			ConcurrencyLimit:  getEnvInt("CONCURRENCY_LIMIT", 20),
		},
		Trailing: Trailing{
			Enabled:             getEnvBool("ENABLE_TRAILING_STOP", true),
			ActivationThreshold: getEnvFloat("TRAILING_ACTIVATION_THRESHOLD", 0.80),
			CallbackRate:        getEnvFloat("TRAILING_CALLBACK_RATE", 0.0075),
			MinProfitLock:       getEnvFloat("TRAILING_MIN_PROFIT_LOCK", 0.005),
			UpdateCooldown:      getEnvDuration("TRAILING_SL_UPDATE_COOLDOWN", 3*time.Second),
		},
		Decision: Decision{
			Backend:       strings.ToLower(getEnv("DECISION_BACKEND", "chat")),
			BaseURL:       getEnv("AI_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:        os.Getenv("AI_API_KEY"),
			Model:         getEnv("AI_MODEL_NAME", "deepseek/deepseek-chat"),
			Temperature:   getEnvFloat("AI_TEMPERATURE", 0.2),
			Timeout:       getEnvDuration("AI_TIMEOUT", 60*time.Second),
			GRPCAddr:      getEnv("DECISION_GRPC_ADDR", "localhost:50051"),
			RatePerMinute: getEnvInt("DECISION_RATE_PER_MIN", 30),
			MinConfidence: getEnvFloat("MIN_CONFIDENCE", 70),
			MinRiskReward: getEnvFloat("MIN_RISK_REWARD_RATIO", 1.5),
			MaxSLDistance: getEnvFloat("MAX_SL_DISTANCE_PERCENT", 0.10),
			AppURL:        getEnv("AI_APP_URL", ""),
			AppTitle:      getEnv("AI_APP_TITLE", "execution-core"),
		},

		LoopSleepDelay:          getEnvDuration("LOOP_SLEEP_DELAY", time.Second),
		LoopSkipDelay:           getEnvDuration("LOOP_SKIP_DELAY", 2*time.Second),
		ErrorSleepDelay:         getEnvDuration("ERROR_SLEEP_DELAY", 5*time.Second),
		MaxPositionsPerCategory: getEnvInt("MAX_POSITIONS_PER_CATEGORY", 5),
		SentimentInterval:       getEnvDuration("SENTIMENT_INTERVAL", 3*time.Hour),
		RefreshInterval:         getEnvDuration("DATA_REFRESH_INTERVAL", time.Hour),
		TaskRestartDelay:        getEnvDuration("TASK_RESTART_DELAY", 5*time.Second),

		TrackerDBPath: getEnv("TRACKER_DB_PATH", "./data/safety_tracker.db"),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),

		StatusAddr:      getEnv("STATUS_ADDR", ":8080"),
		EnableStatusAPI: getEnvBool("ENABLE_STATUS_API", true),
		StatusAPISecret: os.Getenv("STATUS_API_SECRET"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Coins) == 0 {
		return errors.New("config: no coins configured")
	}
	if _, err := ParseTimeframe(c.ExecTF.Interval); err != nil {
		return fmt.Errorf("config: TIMEFRAME_EXEC: %w", err)
	}
	if _, err := ParseTimeframe(c.TrendTF.Interval); err != nil {
		return fmt.Errorf("config: TIMEFRAME_TREND: %w", err)
	}
	if _, err := ParseTimeframe(c.SetupTF.Interval); err != nil {
		return fmt.Errorf("config: TIMEFRAME_SETUP: %w", err)
	}
	if c.Safety.ConcurrencyLimit <= 0 {
		return errors.New("config: CONCURRENCY_LIMIT must be positive")
	}
	if c.Trailing.ActivationThreshold <= 0 || c.Trailing.CallbackRate <= 0 {
		return errors.New("config: trailing threshold and callback rate must be positive")
	}
	switch c.Decision.Backend {
	case "chat", "grpc", "none":
	default:
		return fmt.Errorf("config: unknown DECISION_BACKEND %q", c.Decision.Backend)
	}
	return nil
}

// Symbols returns the tracked symbol list in config order.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Coins))
	for _, coin := range c.Coins {
		out = append(out, coin.Symbol)
	}
	return out
}

// Coin looks up a coin by symbol.
func (c *Config) Coin(symbol string) (Coin, bool) {
	for _, coin := range c.Coins {
		if coin.Symbol == symbol {
			return coin, true
		}
	}
	return Coin{}, false
}

// Timeframes returns every streamed timeframe with its capacity.
func (c *Config) Timeframes() []Timeframe {
	return []Timeframe{c.ExecTF, c.TrendTF, c.SetupTF}
}

// DefaultCoins is used when no coins file exists.
func DefaultCoins() []Coin {
	return []Coin{
		{Symbol: "BTC/USDT", Category: "KING", Leverage: 15, Amount: 20, MarginType: "ISOLATED", Keywords: []string{"bitcoin", "btc"}},
		{Symbol: "ETH/USDT", Category: "L1", Leverage: 15, Amount: 20, MarginType: "ISOLATED", Keywords: []string{"ethereum", "eth"}},
		{Symbol: "SOL/USDT", Category: "L1", Leverage: 15, Amount: 20, MarginType: "ISOLATED", Keywords: []string{"solana", "sol"}},
	}
}

// LoadCoins decodes the coin universe from YAML; a missing file yields defaults.
func LoadCoins(path string) ([]Coin, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultCoins(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read coins file: %w", err)
	}
	return ParseCoins(data)
}

// ParseCoins decodes and normalises a YAML coin list.
func ParseCoins(data []byte) ([]Coin, error) {
	var coins []Coin
	if err := yaml.Unmarshal(data, &coins); err != nil {
		return nil, fmt.Errorf("decode coins: %w", err)
	}
	seen := make(map[string]bool, len(coins))
	for i := range coins {
		c := &coins[i]
		c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
		if c.Symbol == "" || !strings.Contains(c.Symbol, "/") {
			return nil, fmt.Errorf("coin %d: symbol must look like BASE/QUOTE, got %q", i, c.Symbol)
		}
		if seen[c.Symbol] {
			return nil, fmt.Errorf("coin %s listed twice", c.Symbol)
		}
		seen[c.Symbol] = true
		if c.Leverage <= 0 {
			c.Leverage = 15
		}
		if c.Amount <= 0 {
			c.Amount = 20
		}
		if c.MarginType == "" {
			c.MarginType = "ISOLATED"
		}
		c.MarginType = strings.ToUpper(c.MarginType)
		if c.Category == "" {
			c.Category = "UNKNOWN"
		}
	}
	return coins, nil
}

// FilterCoins keeps only the listed symbols, preserving file order.
func FilterCoins(coins []Coin, symbols []string) []Coin {
	keep := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		keep[strings.ToUpper(s)] = true
	}
	out := coins[:0:0]
	for _, c := range coins {
		if keep[c.Symbol] {
			out = append(out, c)
		}
	}
	return out
}

// ParseTimeframe converts "15m", "1h", "1d" style intervals to a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch tf[len(tf)-1] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timeframe unit in %q", tf)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("7200").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
