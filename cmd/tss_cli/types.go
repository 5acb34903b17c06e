package main

import (
	"encoding/json"
	"time"
)

type Response struct {
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       json.RawMessage `json:"result"`
}

type JobResponse struct {
	Kind       string    `json:"kind"`
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Status     string    `json:"status"`
	Info       string    `json:"info"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
