package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"avalive/internal/avatar"
	"avalive/internal/errs"
	"avalive/internal/pipeline"
	"avalive/internal/room"
)

// JoinRoomRequest 加入房间请求体，字段与前端约定一致
type JoinRoomRequest struct {
	LiveID     string `json:"live_id"`
	AvatarType string `json:"avatar_type"`
	Role       string `json:"role"`

	RTCAppID  string `json:"rtc_app_id"`
	RTCRoomID string `json:"rtc_room_id"`
	RTCUid    string `json:"rtc_uid"`
	RTCToken  string `json:"rtc_token"`

	Background  string             `json:"background"`
	VideoConfig *videoConfigParams `json:"video_config"`
	RoleConfig  *roleConfigParams  `json:"role_config"`
}

type videoConfigParams struct {
	VideoWidth  int `json:"video_width"`
	VideoHeight int `json:"video_height"`
	Bitrate     int `json:"bitrate"`
}

type roleConfigParams struct {
	RoleWidth      int `json:"role_width"`
	RoleLeftOffset int `json:"role_left_offset"`
	RoleTopOffset  int `json:"role_top_offset"`
}

// QueryRequest 查询请求体。SessionID 为空时服务端生成；
// 复用已有 SessionID 会先取消同 ID 的在途流
type QueryRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Speaker   string `json:"speaker"`
	LiveID    string `json:"live_id"`
}

type CancelRequest struct {
	SessionID string `json:"session_id"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime_s":  int(time.Since(a.startedAt).Seconds()),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (a *App) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Newf(errs.KindProtocol, "app.join_room", "invalid request body: %v", err))
		return
	}
	if req.LiveID == "" {
		writeError(w, errs.Newf(errs.KindProtocol, "app.join_room", "live_id is required"))
		return
	}
	if req.AvatarType == "" {
		req.AvatarType = "3min"
	}

	join := room.JoinRequest{
		RoomID:     req.LiveID,
		AvatarType: req.AvatarType,
		Role:       req.Role,
		Background: req.Background,
		Streaming:  avatar.NewRTCStreaming(req.RTCAppID, req.RTCRoomID, req.RTCUid, req.RTCToken),
	}
	if vc := req.VideoConfig; vc != nil {
		join.Video = avatar.NewVideoConfig(vc.VideoWidth, vc.VideoHeight, vc.Bitrate)
	}
	if rc := req.RoleConfig; rc != nil {
		join.RoleConf = avatar.NewRoleConfig(rc.RoleWidth, rc.RoleLeftOffset, rc.RoleTopOffset)
	}

	if err := a.coordinator.JoinRoom(r.Context(), join); err != nil {
		a.log.Warnf("join room failed, live_id=%s: %v", req.LiveID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"live_id": req.LiveID,
		"message": "digital human joined room",
	})
}

func (a *App) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	liveID := chi.URLParam(r, "live_id")
	if liveID == "" {
		writeError(w, errs.Newf(errs.KindProtocol, "app.leave_room", "live_id is required"))
		return
	}

	cancelled, err := a.coordinator.LeaveRoom(r.Context(), liveID)
	if err != nil {
		a.log.Warnf("leave room failed, live_id=%s: %v", liveID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "success",
		"live_id":           liveID,
		"cancelled_streams": cancelled,
	})
}

// handleQueryStream 以 SSE 的形式把流水线事件推给客户端。
// 同一 session_id 的新请求会先取消旧流，再以新会话重跑
func (a *App) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Newf(errs.KindProtocol, "app.query_stream", "invalid request body: %v", err))
		return
	}
	if req.Query == "" {
		writeError(w, errs.Newf(errs.KindProtocol, "app.query_stream", "query is required"))
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	} else if n := a.registry.CancelBySession(req.SessionID); n > 0 {
		a.log.Infof("superseding stream, session_id=%s", req.SessionID)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errs.Newf(errs.KindConnection, "app.query_stream", "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	a.orchestrator.Run(r.Context(), pipeline.Request{
		SessionID: req.SessionID,
		RoomID:    req.LiveID,
		UserID:    req.UserID,
		Query:     req.Query,
	}, func(ev pipeline.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			a.log.Errorf("marshal event failed: %v", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	})
}

func (a *App) handleQueryCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Newf(errs.KindProtocol, "app.query_cancel", "invalid request body: %v", err))
		return
	}
	if req.SessionID == "" {
		writeError(w, errs.Newf(errs.KindProtocol, "app.query_cancel", "session_id is required"))
		return
	}

	cancelled := a.registry.CancelBySession(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"session_id": req.SessionID,
		"cancelled":  cancelled,
	})
}

func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.coordinator.Reset(r.Context()); err != nil {
		a.log.Warnf("reset failed: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "all connections reset",
	})
}

func (a *App) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.coordinator.Status())
}

// handleVoiceRecognize 接收裸 PCM 请求体，返回识别文本
func (a *App) handleVoiceRecognize(w http.ResponseWriter, r *http.Request) {
	pcm, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
	if err != nil {
		writeError(w, errs.Newf(errs.KindProtocol, "app.voice_recognize", "read audio: %v", err))
		return
	}
	if len(pcm) == 0 {
		writeError(w, errs.Newf(errs.KindProtocol, "app.voice_recognize", "empty audio body"))
		return
	}

	text, err := a.stt.Recognize(r.Context(), pcm)
	if err != nil {
		a.log.Warnf("recognize failed: %v", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"text":   text,
	})
}

// 单次上传的音频上限，16kHz 16bit 单声道大约 10 分钟
const maxAudioBytes = 32 << 20
