package barter_errors

import (
	"errors"
	"fmt"
)

var ErrSchedulerStopped = errors.New("refresh scheduler is stopped")

// FetchError is returned by a price source when the upstream feed
// could not be read. HTTPStatus is zero for transport and decode failures.
type FetchError struct {
	HTTPStatus int
	Message    string
	Err        error
}

func (e FetchError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
		}
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("price fetch failed with status %d: %s", e.HTTPStatus, msg)
	}
	return fmt.Sprintf("price fetch failed: %s", msg)
}

func (e FetchError) Unwrap() error {
	return e.Err
}

func (e FetchError) RateLimited() bool {
	return e.HTTPStatus == 429
}

type AggregationError struct {
	TotalProcessed int
	Message        string
}

func (e AggregationError) Error() string {
	return fmt.Sprintf("aggregation failed after processing %d entries: %s", e.TotalProcessed, e.Message)
}

// ConversionError is a caller input problem and is never recovered by
// the refresh pipeline.
type ConversionError struct {
	From   string
	To     string
	Reason string
}

func (e ConversionError) Error() string {
	if e.From == "" && e.To == "" {
		return fmt.Sprintf("cannot convert: %s", e.Reason)
	}
	return fmt.Sprintf("cannot convert %s to %s: %s", e.From, e.To, e.Reason)
}
