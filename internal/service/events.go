package service

import (
	"time"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/walker"
)

type statusEvent struct {
	Event  string           `json:"event"`
	State  domain.ConnState `json:"state"`
	From   domain.ConnState `json:"from"`
	Reason string           `json:"reason,omitempty"`
	At     time.Time        `json:"at"`
}

type bookEvent struct {
	Event     string    `json:"event"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	walker.Summary
}

func newBookEvent(snap domain.OrderBookSnapshot) bookEvent {
	return bookEvent{
		Event:     "book_update",
		Exchange:  snap.Exchange,
		Symbol:    snap.Symbol,
		Timestamp: snap.Timestamp,
		Summary:   walker.Summarize(snap),
	}
}
