package types

import "time"

type BarterCreditResponse struct {
	Value               float64   `json:"value"`
	Timestamp           time.Time `json:"timestamp"`
	TotalCoinsProcessed int       `json:"total_coins_processed"`
	ValidCoinsUsed      int       `json:"valid_coins_used"`
	Status              string    `json:"status"`
	Error               string    `json:"error,omitempty"`

	Stale           bool     `json:"stale"`
	Median          *float64 `json:"median,omitempty"`
	Min             *float64 `json:"min,omitempty"`
	Max             *float64 `json:"max,omitempty"`
	FilterRate      *float64 `json:"filter_rate,omitempty"`
	CacheAgeSeconds int      `json:"cache_age_seconds"`
}

type RefreshResponse struct {
	Credit BarterCreditResponse `json:"credit"`
	Shared bool                 `json:"shared"`
	Error  string               `json:"error,omitempty"`
}

type ConvertRequest struct {
	Amount string `form:"amount" binding:"required"`
	From   string `form:"from" binding:"required"`
	To     string `form:"to" binding:"required"`
}

type ConvertResponse struct {
	Amount      float64 `json:"amount"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Result      float64 `json:"result"`
	CreditValue float64 `json:"credit_value"`
	Stale       bool    `json:"stale"`
}

type UsageResponse struct {
	CallsToday           int     `json:"calls_today"`
	MonthlyCallsUsed     int     `json:"monthly_calls_used"`
	MonthlyLimit         int     `json:"monthly_limit"`
	MonthlyRemaining     int     `json:"monthly_remaining"`
	UsagePercentage      float64 `json:"usage_percentage"`
	EstimatedDailyBudget int     `json:"estimated_daily_budget"`
	Month                string  `json:"month"`
}

type SchedulerStatus struct {
	State       string     `json:"state"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	Cycles      int64      `json:"cycles"`
	Failures    int64      `json:"failures"`
}

type HealthResponse struct {
	// healthy when the cached credit is a success, degraded otherwise
	Status          string          `json:"status"`
	Timestamp       time.Time       `json:"timestamp"`
	CacheAgeSeconds *int            `json:"cache_age_seconds"`
	UpdateInterval  int             `json:"update_interval"`
	LastCreditValue *float64        `json:"last_credit_value"`
	Stale           bool            `json:"stale"`
	Scheduler       SchedulerStatus `json:"scheduler"`
	Usage           *UsageResponse  `json:"usage,omitempty"`
}

type StreamEvent struct {
	Type    string                `json:"type"`
	Credit  *BarterCreditResponse `json:"credit,omitempty"`
	Value   *float64              `json:"value,omitempty"`
	Message string                `json:"message,omitempty"`
	SentAt  time.Time             `json:"sent_at"`
}
