package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// DefaultMaxBodyBytes caps the request body.
const DefaultMaxBodyBytes int64 = 1 << 20

const (
	messageSent   = "Notification sent successfully"
	messageFailed = "Notification could not be delivered to any device"
	messageError  = "Failed to send notification"
)

// Dispatcher is the coordinator capability the handler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.NotificationRequest) (*dispatch.DispatchResult, error)
}

type PushAPI struct {
	Coordinator  Dispatcher
	MaxBodyBytes int64
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
}

func NewPushAPI(coordinator Dispatcher, maxBodyBytes int64, recorder *metrics.Recorder, logger *slog.Logger) *PushAPI {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &PushAPI{
		Coordinator:  coordinator,
		MaxBodyBytes: maxBodyBytes,
		Metrics:      recorder,
		Logger:       logger.With("component", "PushAPI"),
	}
}

// SendResponse is the 200 body.
type SendResponse struct {
	Success    bool                       `json:"success"`
	Message    string                     `json:"message"`
	SentTo     int                        `json:"sent_to"`
	Delivered  int                        `json:"delivered"`
	Failed     int                        `json:"failed"`
	DispatchID string                     `json:"dispatch_id"`
	Outcomes   []dispatch.DeliveryOutcome `json:"outcomes"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SendPush handles POST /send-push-notification.
func (api *PushAPI) SendPush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			api.Logger.Error("SendPush: recovered panic", "panic", fmt.Sprint(rec))
			api.Metrics.ObserveRequest(metrics.ResultError)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Success: false, Error: messageError})
		}
	}()

	// 1. Decode + Validate
	body := http.MaxBytesReader(w, r.Body, api.MaxBodyBytes)
	req, err := pipeline.DecodeNotificationRequest(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			api.Metrics.ObserveRequest(metrics.ResultInvalid)
			response.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, dispatch.ErrInvalidRequest):
			api.Logger.Warn("SendPush: Validation failed", "err", err)
			api.Metrics.ObserveRequest(metrics.ResultInvalid)
			response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		default:
			api.Logger.Error("SendPush: failed to read request", "err", err)
			api.Metrics.ObserveRequest(metrics.ResultError)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Success: false, Error: messageError})
		}
		return
	}

	// 2. Dispatch
	result, err := api.Coordinator.Dispatch(r.Context(), req)
	if err != nil {
		api.Logger.Error("SendPush: dispatch failed", "user_id", req.UserID, "err", err)
		api.Metrics.ObserveRequest(metrics.ResultError)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Success: false, Error: messageError})
		return
	}

	// 3. Respond. Partial and total delivery failure are both 200; detail is per token.
	sent, failed := result.Counts()
	resp := SendResponse{
		Success:    result.OverallSuccess,
		Message:    messageSent,
		SentTo:     len(req.DeviceTokens),
		Delivered:  sent,
		Failed:     failed,
		DispatchID: result.DispatchID,
		Outcomes:   result.Outcomes,
	}
	if !result.OverallSuccess {
		resp.Message = messageFailed
	}
	api.Metrics.ObserveRequest(metrics.ResultOK)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
