package config

// Config is the top-level configuration carrier for scalpd.
type Config struct {
	App      AppConfig      `toml:"app"`
	Risk     RiskConfig     `toml:"risk"`
	Sizer    SizerConfig    `toml:"sizer"`
	Leverage LeverageConfig `toml:"leverage"`
	Levels   LevelsConfig   `toml:"levels"`
	Exchange ExchangeConfig `toml:"exchange"`
	Engine   EngineConfig   `toml:"engine"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Store    StoreConfig    `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// RiskConfig bounds the ledger. RiskPerTrade and MaxDailyLossPct are fractions
// of equity (0.01 == 1%).
type RiskConfig struct {
	StartingEquity       float64 `toml:"starting_equity"`
	RiskPerTrade         float64 `toml:"risk_per_trade"`
	MaxOpenRisk          float64 `toml:"max_open_risk"` // currency cap on summed reserved risk
	MaxDailyLossPct      float64 `toml:"max_daily_loss_pct"`
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses"`
	CooldownMinutes      int     `toml:"cooldown_minutes"`
}

// ConfidenceBucket maps a confidence floor to a risk scale factor. Buckets are
// evaluated highest floor first; a signal below every floor is rejected.
type ConfidenceBucket struct {
	Floor float64 `toml:"floor"`
	Scale float64 `toml:"scale"`
}

type SizerConfig struct {
	ConfidenceFloor float64            `toml:"confidence_floor"`
	Buckets         []ConfidenceBucket `toml:"buckets"`
	MinNotionalUSD  float64            `toml:"min_notional_usd"`
}

// LeverageTier selects a leverage for volatility up to MaxATRPct (ATR as a
// percentage of price). Tiers are evaluated in order; the last tier catches
// everything above it.
type LeverageTier struct {
	MaxATRPct float64 `toml:"max_atr_pct"`
	Leverage  int     `toml:"leverage"`
}

type LeverageConfig struct {
	Min   int            `toml:"min"`
	Max   int            `toml:"max"`
	Tiers []LeverageTier `toml:"tiers"`
}

type LevelsConfig struct {
	StopATRMultiplier float64 `toml:"stop_atr_multiplier"`
	TP1Reward         float64 `toml:"tp1_reward"` // reward:risk multiple for TP1
	TP2Reward         float64 `toml:"tp2_reward"`
	TP1CloseRatio     float64 `toml:"tp1_close_ratio"` // fraction of size closed at TP1
}

type RetryConfig struct {
	MaxAttempts    int `toml:"max_attempts"`
	InitialDelayMs int `toml:"initial_delay_ms"`
	MaxDelayMs     int `toml:"max_delay_ms"`
}

type ExchangeConfig struct {
	Mode           string      `toml:"mode"` // "sim" | "binance"
	APIKey         string      `toml:"api_key"`
	APISecret      string      `toml:"api_secret"`
	Testnet        bool        `toml:"testnet"`
	TimeoutSeconds int         `toml:"timeout_seconds"`
	Retry          RetryConfig `toml:"retry"`
}

type EngineConfig struct {
	SignalBuffer       int `toml:"signal_buffer"`
	EventBuffer        int `toml:"event_buffer"`
	FillPollIntervalMs int `toml:"fill_poll_interval_ms"`
	FillTimeoutSeconds int `toml:"fill_timeout_seconds"`
}

type MonitorConfig struct {
	IntervalSeconds     int     `toml:"interval_seconds"`
	TrailingDistancePct float64 `toml:"trailing_distance_pct"` // stop distance as fraction of anchor price
	BreakevenTriggerPct float64 `toml:"breakeven_trigger_pct"` // profit fraction that moves the stop to entry
	MaxHoldMinutes      int     `toml:"max_hold_minutes"`
	VolLookback         int     `toml:"vol_lookback"`
	VolPauseThreshold   float64 `toml:"vol_pause_threshold"` // realized vol that counts as a spike
	VolSpikeTrips       int     `toml:"vol_spike_trips"`     // consecutive spikes before the breaker opens
	VolResumeMinutes    int     `toml:"vol_resume_minutes"`
}

type StoreConfig struct {
	Path string `toml:"path"` // empty disables the sqlite journal
}
