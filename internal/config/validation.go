package config

import (
	"fmt"
	"sort"
)

func validate(c *Config) error {
	if c.Risk.RiskPerTrade > 0.05 {
		return fmt.Errorf("risk.risk_per_trade %.4f exceeds 5%% hard cap", c.Risk.RiskPerTrade)
	}
	if c.Risk.MaxDailyLossPct >= 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be a fraction below 1, got %.2f", c.Risk.MaxDailyLossPct)
	}
	if c.Leverage.Min > c.Leverage.Max {
		return fmt.Errorf("leverage.min %d exceeds leverage.max %d", c.Leverage.Min, c.Leverage.Max)
	}
	if c.Levels.TP2Reward < c.Levels.TP1Reward {
		return fmt.Errorf("levels.tp2_reward %.2f below tp1_reward %.2f", c.Levels.TP2Reward, c.Levels.TP1Reward)
	}
	if err := validateBuckets(c.Sizer.Buckets, c.Sizer.ConfidenceFloor); err != nil {
		return err
	}
	switch c.Exchange.Mode {
	case "sim":
	case "binance":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange.mode=binance requires api_key and api_secret")
		}
	default:
		return fmt.Errorf("unknown exchange.mode %q", c.Exchange.Mode)
	}
	return nil
}

func validateBuckets(buckets []ConfidenceBucket, floor float64) error {
	for _, b := range buckets {
		if b.Floor < 0 || b.Floor > 1 {
			return fmt.Errorf("sizer bucket floor %.2f outside [0,1]", b.Floor)
		}
		if b.Scale <= 0 {
			return fmt.Errorf("sizer bucket scale must be positive, got %.2f", b.Scale)
		}
	}
	lowest := 1.0
	for _, b := range buckets {
		if b.Floor < lowest {
			lowest = b.Floor
		}
	}
	if len(buckets) > 0 && lowest > floor {
		return fmt.Errorf("lowest sizer bucket floor %.2f leaves a gap above confidence_floor %.2f", lowest, floor)
	}
	if !sort.SliceIsSorted(buckets, func(i, j int) bool { return buckets[i].Floor > buckets[j].Floor }) {
		return fmt.Errorf("sizer buckets must be ordered by descending floor")
	}
	return nil
}
