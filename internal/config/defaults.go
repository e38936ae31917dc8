package config

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9985"

	defaultRiskPerTrade     = 0.01
	defaultMaxDailyLossPct  = 0.05
	defaultMaxConsecLosses  = 3
	defaultCooldownMinutes  = 30
	defaultStartingEquity   = 10000
	defaultMaxOpenRiskRatio = 0.03 // 3x risk-per-trade worth of concurrent exposure

	defaultConfidenceFloor = 0.5
	defaultMinNotionalUSD  = 10

	defaultLeverageMin = 2
	defaultLeverageMax = 20

	defaultStopATRMultiplier = 1.5
	defaultTP1Reward         = 1.0
	defaultTP2Reward         = 2.0
	defaultTP1CloseRatio     = 0.5

	defaultExchangeMode    = "sim"
	defaultExchangeTimeout = 10
	defaultRetryAttempts   = 3
	defaultRetryInitialMs  = 250
	defaultRetryMaxMs      = 5000

	defaultSignalBuffer   = 32
	defaultEventBuffer    = 256
	defaultFillPollMs     = 500
	defaultFillTimeoutSec = 30

	defaultMonitorInterval   = 5
	defaultTrailingPct       = 0.003
	defaultBreakevenPct      = 0.005
	defaultMaxHoldMinutes    = 120
	defaultVolLookback       = 60
	defaultVolPauseThreshold = 0.02
	defaultVolSpikeTrips     = 3
	defaultVolResumeMinutes  = 15
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Risk.applyDefaults()
	c.Sizer.applyDefaults()
	c.Leverage.applyDefaults()
	c.Levels.applyDefaults()
	c.Exchange.applyDefaults()
	c.Engine.applyDefaults()
	c.Monitor.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (r *RiskConfig) applyDefaults() {
	if r.StartingEquity <= 0 {
		r.StartingEquity = defaultStartingEquity
	}
	if r.RiskPerTrade <= 0 {
		r.RiskPerTrade = defaultRiskPerTrade
	}
	if r.MaxOpenRisk <= 0 {
		r.MaxOpenRisk = r.StartingEquity * defaultMaxOpenRiskRatio
	}
	if r.MaxDailyLossPct <= 0 {
		r.MaxDailyLossPct = defaultMaxDailyLossPct
	}
	if r.MaxConsecutiveLosses <= 0 {
		r.MaxConsecutiveLosses = defaultMaxConsecLosses
	}
	if r.CooldownMinutes <= 0 {
		r.CooldownMinutes = defaultCooldownMinutes
	}
}

func (s *SizerConfig) applyDefaults() {
	if s.ConfidenceFloor <= 0 {
		s.ConfidenceFloor = defaultConfidenceFloor
	}
	if len(s.Buckets) == 0 {
		s.Buckets = []ConfidenceBucket{
			{Floor: 0.9, Scale: 1.25},
			{Floor: 0.7, Scale: 1.0},
			{Floor: 0.5, Scale: 0.5},
		}
	}
	if s.MinNotionalUSD <= 0 {
		s.MinNotionalUSD = defaultMinNotionalUSD
	}
}

func (l *LeverageConfig) applyDefaults() {
	if l.Min <= 0 {
		l.Min = defaultLeverageMin
	}
	if l.Max <= 0 {
		l.Max = defaultLeverageMax
	}
	if len(l.Tiers) == 0 {
		l.Tiers = []LeverageTier{
			{MaxATRPct: 0.5, Leverage: 20},
			{MaxATRPct: 1.0, Leverage: 15},
			{MaxATRPct: 1.5, Leverage: 10},
			{MaxATRPct: 2.0, Leverage: 7},
			{MaxATRPct: 0, Leverage: 5}, // catch-all
		}
	}
}

func (l *LevelsConfig) applyDefaults() {
	if l.StopATRMultiplier <= 0 {
		l.StopATRMultiplier = defaultStopATRMultiplier
	}
	if l.TP1Reward <= 0 {
		l.TP1Reward = defaultTP1Reward
	}
	if l.TP2Reward <= 0 {
		l.TP2Reward = defaultTP2Reward
	}
	if l.TP1CloseRatio <= 0 || l.TP1CloseRatio >= 1 {
		l.TP1CloseRatio = defaultTP1CloseRatio
	}
}

func (e *ExchangeConfig) applyDefaults() {
	if e.Mode == "" {
		e.Mode = defaultExchangeMode
	}
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = defaultExchangeTimeout
	}
	if e.Retry.MaxAttempts <= 0 {
		e.Retry.MaxAttempts = defaultRetryAttempts
	}
	if e.Retry.InitialDelayMs <= 0 {
		e.Retry.InitialDelayMs = defaultRetryInitialMs
	}
	if e.Retry.MaxDelayMs <= 0 {
		e.Retry.MaxDelayMs = defaultRetryMaxMs
	}
}

func (e *EngineConfig) applyDefaults() {
	if e.SignalBuffer <= 0 {
		e.SignalBuffer = defaultSignalBuffer
	}
	if e.EventBuffer <= 0 {
		e.EventBuffer = defaultEventBuffer
	}
	if e.FillPollIntervalMs <= 0 {
		e.FillPollIntervalMs = defaultFillPollMs
	}
	if e.FillTimeoutSeconds <= 0 {
		e.FillTimeoutSeconds = defaultFillTimeoutSec
	}
}

func (m *MonitorConfig) applyDefaults() {
	if m.IntervalSeconds <= 0 {
		m.IntervalSeconds = defaultMonitorInterval
	}
	if m.TrailingDistancePct <= 0 {
		m.TrailingDistancePct = defaultTrailingPct
	}
	if m.BreakevenTriggerPct <= 0 {
		m.BreakevenTriggerPct = defaultBreakevenPct
	}
	if m.MaxHoldMinutes <= 0 {
		m.MaxHoldMinutes = defaultMaxHoldMinutes
	}
	if m.VolLookback <= 0 {
		m.VolLookback = defaultVolLookback
	}
	if m.VolPauseThreshold <= 0 {
		m.VolPauseThreshold = defaultVolPauseThreshold
	}
	if m.VolSpikeTrips <= 0 {
		m.VolSpikeTrips = defaultVolSpikeTrips
	}
	if m.VolResumeMinutes <= 0 {
		m.VolResumeMinutes = defaultVolResumeMinutes
	}
}
