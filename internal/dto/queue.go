package dto

import "time"

type QueueHead struct {
	Seq           uint64    `json:"seq"`
	Type          string    `json:"type"`
	Lane          string    `json:"lane"`
	Status        string    `json:"status"`
	Attempt       int       `json:"attempt"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	LastError     string    `json:"lastError,omitempty"`
}

type QueueStatusResponse struct {
	DeviceID string                    `json:"deviceId"`
	Counts   map[string]map[string]int `json:"counts"`
	Unsent   int                       `json:"unsent"`
	Head     *QueueHead                `json:"head,omitempty"`
}

type RetryFailedResponse struct {
	DeviceID string `json:"deviceId"`
	Reset    int64  `json:"reset"`
}

type SyncResponse struct {
	DeviceID  string              `json:"deviceId"`
	Processed int                 `json:"processed"`
	Queue     QueueStatusResponse `json:"queue"`
}

type TokenRequest struct {
	Subject   string `json:"subject"`
	Role      string `json:"role"`
	DeviceID  string `json:"deviceId,omitempty"`
	CashierID string `json:"cashierId,omitempty"`
	TTL       string `json:"ttl,omitempty"`
}

type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}
