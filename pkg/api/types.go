package api

import "github.com/periljames/amo-portal-sub004/pkg/event"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ActivityResponse struct {
	Events []*event.ActivityEvent `json:"events"`
	Count  int                    `json:"count"`
}

type QueueResponse struct {
	Envelopes []*event.Envelope `json:"envelopes"`
	Count     int               `json:"count"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
