package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"roomsync/internal/errs"
	"roomsync/internal/room"
)

// RoomLister 外部存储中的房间列表（排查用）
type RoomLister interface {
	ListRoomIDs(ctx context.Context) ([]string, error)
}

// API 房间与管理接口
type API struct {
	reg    *room.Registry
	mirror RoomLister
	log    *zap.Logger
}

func NewAPI(reg *room.Registry, mirror RoomLister, log *zap.Logger) *API {
	return &API{reg: reg, mirror: mirror, log: log.Named("api")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf 错误码到 HTTP 状态码
func statusOf(err error) int {
	switch errs.Code(err) {
	case errs.CodeRoomNotFound, errs.CodeNotAMember:
		return http.StatusNotFound
	case errs.CodeRoomFull, errs.CodeAlreadyJoined:
		return http.StatusConflict
	case errs.CodeInvalidInput:
		return http.StatusBadRequest
	case errs.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	code := errs.Code(err)
	if code == "" {
		code = "INTERNAL"
	}
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"code": code, "message": err.Error()})
}

// HandleCreateRoom POST /api/rooms {"name": "..."}
func (a *API) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			a.writeError(w, errs.Wrap(err, errs.CodeInvalidInput, "invalid json"))
			return
		}
	}
	id, err := a.reg.CreateRoom(body.Name)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"room_id": id})
}

// HandleListRooms GET /api/rooms
func (a *API) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.reg.ListRooms())
}

// HandleGetRoom GET /api/rooms/{roomID}
func (a *API) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := a.reg.GetRoom(chi.URLParam(r, "roomID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm.Info())
}

// HandleJoinCheck GET /api/rooms/{roomID}/join-check
// 只反映当前人数，不预留座位
func (a *API) HandleJoinCheck(w http.ResponseWriter, r *http.Request) {
	st, err := a.reg.JoinCheck(chi.URLParam(r, "roomID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleKick DELETE /api/rooms/{roomID}/players/{playerID}
func (a *API) HandleKick(w http.ResponseWriter, r *http.Request) {
	roomID, playerID := chi.URLParam(r, "roomID"), chi.URLParam(r, "playerID")
	if err := a.reg.Leave(roomID, playerID); err != nil {
		a.writeError(w, err)
		return
	}
	a.log.Info("player kicked", zap.String("room", roomID), zap.String("player", playerID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleAdminConfig 提供房间配置的读取与热更新
// GET /admin/config?room=r1  返回当前配置
// POST /admin/config?room=r1 以 JSON 载荷更新部分字段
func (a *API) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	rm, err := a.reg.GetRoom(r.URL.Query().Get("room"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	type cfg struct {
		BroadcastIntervalMs *int64 `json:"broadcastIntervalMs,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		ms := rm.Interval().Milliseconds()
		writeJSON(w, http.StatusOK, cfg{BroadcastIntervalMs: &ms})
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			a.writeError(w, errs.Wrap(err, errs.CodeInvalidInput, "invalid json"))
			return
		}
		if body.BroadcastIntervalMs != nil {
			if err := rm.SetBroadcastInterval(time.Duration(*body.BroadcastIntervalMs) * time.Millisecond); err != nil {
				a.writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		a.log.Info("config updated", zap.String("room", rm.ID), zap.Duration("broadcast_interval", rm.Interval()))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出指定房间的运行指标；不带 room 时输出进程级指标
// GET /metrics?room=r1
func (a *API) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"rooms":   len(a.reg.ListRooms()),
			"metrics": a.reg.Metrics().Snapshot(),
		})
		return
	}
	rm, err := a.reg.GetRoom(roomID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":    roomID,
		"players": rm.Info().PlayerCount,
		"metrics": rm.Metrics().Snapshot(),
	})
}

// HandleMirrorRooms GET /admin/mirror/rooms
func (a *API) HandleMirrorRooms(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	ids, err := a.mirror.ListRoomIDs(ctx)
	if err != nil {
		a.writeError(w, errs.Wrap(err, errs.CodeStoreWriteFailed, "list rooms"))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": ids})
}
