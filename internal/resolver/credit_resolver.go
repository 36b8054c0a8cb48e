package resolver

import (
	"context"
	"fmt"
	"time"

	api_types "barter/api-types"
	barter_errors "barter/internal"
	"barter/internal/cache"
	"barter/internal/domain"
	"barter/internal/hub"
	"barter/internal/scheduler"
	"barter/internal/util"

	"github.com/shopspring/decimal"
)

func (r resolverHandler) GetBarterCredit() api_types.BarterCreditResponse {
	return creditResponse(r.CreditService.Current())
}

func (r resolverHandler) RefreshBarterCredit(ctx context.Context) (*api_types.RefreshResponse, error) {
	res, err := r.CreditService.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh barter credit: %w", err)
	}

	// report what's cached now rather than the raw result so age and
	// staleness line up with GET /api/barter-credit
	out := &api_types.RefreshResponse{
		Credit: creditResponse(r.CreditService.Current()),
		Shared: res.Shared,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out, nil
}

func (r resolverHandler) Convert(req api_types.ConvertRequest) (*api_types.ConvertResponse, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, barter_errors.ConversionError{From: req.From, To: req.To, Reason: fmt.Sprintf("invalid amount %q", req.Amount)}
	}
	if amount.IsNegative() {
		return nil, barter_errors.ConversionError{From: req.From, To: req.To, Reason: "amount must not be negative"}
	}

	from := domain.Unit(req.From)
	to := domain.Unit(req.To)
	out, read, err := r.CreditService.Convert(amount, from, to)
	if err != nil {
		return nil, err
	}

	return &api_types.ConvertResponse{
		Amount:      amount.InexactFloat64(),
		From:        string(from),
		To:          string(to),
		Result:      out.InexactFloat64(),
		CreditValue: read.Snapshot.Value.InexactFloat64(),
		Stale:       read.Stale,
	}, nil
}

func (r resolverHandler) GetUsage() (*api_types.UsageResponse, error) {
	usage, ok := r.CreditService.Usage()
	if !ok {
		return nil, fmt.Errorf("usage tracking is not enabled")
	}
	return &api_types.UsageResponse{
		CallsToday:           usage.CallsToday,
		MonthlyCallsUsed:     usage.MonthlyCallsUsed,
		MonthlyLimit:         usage.MonthlyLimit,
		MonthlyRemaining:     usage.MonthlyRemaining,
		UsagePercentage:      usage.UsagePercentage,
		EstimatedDailyBudget: usage.EstimatedDailyBudget,
		Month:                usage.Month,
	}, nil
}

func (r resolverHandler) Health() api_types.HealthResponse {
	read := r.CreditService.Current()
	out := api_types.HealthResponse{
		Status:         "degraded",
		Timestamp:      time.Now().UTC(),
		UpdateInterval: int(r.CreditService.UpdateInterval().Seconds()),
		Stale:          read.Stale,
		Scheduler:      schedulerStatus(r.CreditService.SchedulerStatus()),
	}
	if !read.Empty {
		age := int(read.Age.Seconds())
		value := read.Snapshot.Value.InexactFloat64()
		out.CacheAgeSeconds = &age
		out.LastCreditValue = &value
		if read.Snapshot.Ok() {
			out.Status = "healthy"
		}
	}
	if usage, err := r.GetUsage(); err == nil {
		out.Usage = usage
	}
	return out
}

func (r resolverHandler) SubscribeEvents(buffer int) (hub.Token, <-chan hub.Event) {
	return r.CreditService.SubscribeChan(buffer)
}

func (r resolverHandler) UnsubscribeEvents(token hub.Token) {
	r.CreditService.Unsubscribe(token)
}

func (r resolverHandler) StreamEvent(e hub.Event) api_types.StreamEvent {
	out := api_types.StreamEvent{
		Type:    string(e.Type),
		Message: e.Message,
		SentAt:  e.CreatedAt,
	}
	switch e.Type {
	case hub.EventCreditUpdate:
		credit := snapshotResponse(e.Snapshot, e.Stale)
		out.Credit = &credit
	case hub.EventCreditValue:
		v := e.Value.InexactFloat64()
		out.Value = &v
	}
	return out
}

func creditResponse(read cache.Read) api_types.BarterCreditResponse {
	out := snapshotResponse(read.Snapshot, read.Stale)
	out.CacheAgeSeconds = int(read.Age.Seconds())
	return out
}

func snapshotResponse(s domain.CreditSnapshot, stale bool) api_types.BarterCreditResponse {
	out := api_types.BarterCreditResponse{
		Value:               s.Value.InexactFloat64(),
		Timestamp:           s.Timestamp,
		TotalCoinsProcessed: s.TotalProcessed,
		ValidCoinsUsed:      s.ValidUsed,
		Status:              string(s.Status),
		Error:               s.ErrorMessage,
		Stale:               stale,
	}
	if s.Ok() {
		median := s.Median.InexactFloat64()
		min := s.Min.InexactFloat64()
		max := s.Max.InexactFloat64()
		// one decimal place of percent, like the dashboard shows it
		rate := float64(int(s.FilterRate().AsPercent()*10)) / 10
		out.Median = &median
		out.Min = &min
		out.Max = &max
		out.FilterRate = &rate
	}
	return out
}

func schedulerStatus(s scheduler.Status) api_types.SchedulerStatus {
	out := api_types.SchedulerStatus{
		State:       string(s.State),
		LastOutcome: string(s.LastOutcome),
		LastError:   s.LastError,
		Cycles:      s.Cycles,
		Failures:    s.Failures,
	}
	if s.Stopped {
		out.State = "stopped"
	}
	if !s.LastRun.IsZero() {
		out.LastRun = util.TimePtr(s.LastRun)
	}
	if !s.NextRun.IsZero() {
		out.NextRun = util.TimePtr(s.NextRun)
	}
	return out
}
