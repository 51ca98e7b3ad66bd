package dto

import "ids/internal/event"

type IngestResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

type EventList struct {
	Count  int           `json:"count"`
	Events []event.Event `json:"events"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
