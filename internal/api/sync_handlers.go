package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"catalog-sync-service/internal/logger"
	"catalog-sync-service/internal/sync"
)

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	typ, err := sync.ParseSyncType(r.URL.Query().Get("type"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if !h.sync.Trigger(typ) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "type": string(typ)})
}

func (h *Handler) StopSync(w http.ResponseWriter, r *http.Request) {
	status := "idle"
	if h.sync.Cancel() {
		status = "stopping"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type syncStatusResponse struct {
	sync.Status
	Notifications *sync.WorkerStats `json:"notifications,omitempty"`
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := syncStatusResponse{Status: h.sync.Status()}
	if h.notifications != nil {
		stats := h.notifications.Stats()
		resp.Notifications = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetLastSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.LastSyncResult(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no completed sync"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetOperations(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

func (h *Handler) CheckStore(w http.ResponseWriter, r *http.Request) {
	recreated, err := h.sync.CheckStore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recreated": recreated})
}

type webhookEvent struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		ID        string   `json:"id"`
		ObjectIDs []string `json:"object_ids"`
	} `json:"data"`
}

// ReceiveNotification accepts catalog change notifications. Events of other
// types are acknowledged and ignored.
func (h *Handler) ReceiveNotification(w http.ResponseWriter, r *http.Request) {
	var ev webhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid notification body"})
		return
	}
	if ev.Type != "" && ev.Type != "catalog.version.updated" {
		logger.Log.Debug("Ignoring notification", zap.String("event_id", ev.EventID), zap.String("type", ev.Type))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	n := sync.Notification{EventID: ev.EventID, ObjectIDs: ev.Data.ObjectIDs, ReceivedAt: time.Now()}
	if h.notifications == nil || !h.notifications.Submit(n) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "notification queue unavailable"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
