package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/teris-io/shortid"

	"github.com/anonchat/anonchat/internal/stats"
	"github.com/anonchat/anonchat/internal/store"
	"github.com/anonchat/anonchat/internal/types"
)

const maxContentLength = 2000

type IdentityRequest struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmoji string `json:"userEmoji"`
}

type IdentityResponse struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmoji string `json:"userEmoji"`
	Token     string `json:"token,omitempty"`
}

type CreateRoomRequest struct {
	Name      string `json:"name"`
	CreatorID string `json:"creatorId"`
	IsPrivate bool   `json:"isPrivate"`
}

type PersonalRoomRequest struct {
	UserID1    string `json:"userId1"`
	UserID2    string `json:"userId2"`
	UserName1  string `json:"userName1"`
	UserName2  string `json:"userName2"`
	UserEmoji1 string `json:"userEmoji1"`
	UserEmoji2 string `json:"userEmoji2"`
}

type CreateInviteRequest struct {
	OneTime bool `json:"oneTime"`
}

type InviteResponse struct {
	Code string `json:"code"`
}

type SubmitMessageRequest struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserEmoji string    `json:"userEmoji"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type ActivityResponse struct {
	Success     bool               `json:"success"`
	ActiveUsers []types.ActiveUser `json:"activeUsers"`
	Count       int                `json:"count"`
	Timestamp   int64              `json:"timestamp"`
}

func (app *AnonChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.log.Error().Err(err).Msg("json encode")
	}
}

// writeStoreError maps a store failure onto the API error taxonomy.
func (app *AnonChatApp) writeStoreError(w http.ResponseWriter, err error) {
	var errResp *ApiError
	switch {
	case errors.Is(err, store.ErrNotFound):
		errResp = NewNotFoundError()
	case errors.Is(err, store.ErrUnavailable):
		errResp = NewServiceUnavailableError(err)
	case errors.Is(err, store.ErrInviteConsumed):
		errResp = NewConflictError("invite already used")
	default:
		errResp = NewInternalServerError(err)
	}
	app.writeJson(w, errResp.StatusCode, errResp)
}

func (app *AnonChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := app.store.Ping(r.Context()); err != nil {
		app.log.Error().Err(err).Msg("health check")
		errResp := NewServiceUnavailableError(err)
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (app *AnonChatApp) validateIdentity(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.UserID == "" || req.UserName == "" {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if isReservedUsername(req.UserName) {
		errResp := NewForbiddenError("this username is reserved")
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := IdentityResponse{
		UserID:    req.UserID,
		UserName:  req.UserName,
		UserEmoji: req.UserEmoji,
	}

	if len(app.signingKey) > 0 {
		token, err := app.issueIdentityToken(req.UserID)
		if err != nil {
			errResp := NewInternalServerError(err)
			app.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		resp.Token = token
	}

	app.writeJson(w, http.StatusOK, resp)
}

func (app *AnonChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" || req.CreatorID == "" {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := app.store.CreateRoom(r.Context(), store.CreateRoomParams{
		Name:      req.Name,
		CreatorID: req.CreatorID,
		IsPrivate: req.IsPrivate,
	})
	if err != nil {
		app.log.Error().Err(err).Msg("create room")
		app.writeStoreError(w, err)
		return
	}

	app.writeJson(w, http.StatusCreated, room)
}

func (app *AnonChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := app.store.ListRooms(r.Context(), 50)
	if err != nil {
		app.log.Error().Err(err).Msg("list rooms")
		app.writeStoreError(w, err)
		return
	}

	app.writeJson(w, http.StatusOK, rooms)
}

func (app *AnonChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := app.store.GetRoom(r.Context(), r.PathValue("roomId"))
	if err != nil {
		app.writeStoreError(w, err)
		return
	}

	app.writeJson(w, http.StatusOK, room)
}

func (app *AnonChatApp) createPersonalRoom(w http.ResponseWriter, r *http.Request) {
	var req PersonalRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.UserID1 == "" || req.UserID2 == "" || req.UserID1 == req.UserID2 {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := app.store.CreatePersonalRoom(r.Context(), store.PersonalRoomParams{
		P1: types.Participant{ID: req.UserID1, Name: req.UserName1, Emoji: req.UserEmoji1},
		P2: types.Participant{ID: req.UserID2, Name: req.UserName2, Emoji: req.UserEmoji2},
	})
	if err != nil {
		app.log.Error().Err(err).Msg("create personal room")
		app.writeStoreError(w, err)
		return
	}

	app.writeJson(w, http.StatusCreated, map[string]string{"roomId": room.ID})
}

func (app *AnonChatApp) createInvite(w http.ResponseWriter, r *http.Request) {
	var req CreateInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	code, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := app.store.AddInvite(r.Context(), r.PathValue("roomId"), code, req.OneTime); err != nil {
		app.writeStoreError(w, err)
		return
	}

	app.writeJson(w, http.StatusCreated, InviteResponse{Code: code})
}

func (app *AnonChatApp) consumeInvite(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := app.store.ConsumeInvite(r.Context(), r.PathValue("code"), req.UserID)
	if err != nil {
		app.writeStoreError(w, err)
		return
	}

	app.writeJson(w, http.StatusOK, room)
}

func (app *AnonChatApp) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := backlogLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			errResp := NewBadRequestError()
			app.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if n < limit {
			limit = n
		}
	}

	messages, err := app.store.ListRecentMessages(r.Context(), r.PathValue("roomId"), limit)
	if err != nil {
		app.writeStoreError(w, err)
		return
	}

	if messages == nil {
		messages = []types.Message{}
	}
	app.writeJson(w, http.StatusOK, messages)
}

// createMessage is the accept path: validate, auth gate, rate limit, persist,
// then best-effort buffer append and fan-out publish. Only the persist can
// fail the request.
func (app *AnonChatApp) createMessage(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")

	var req SubmitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.UserID == "" || req.UserName == "" || req.Content == "" || len(req.Content) > maxContentLength {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if errResp := app.authorizeIdentity(req.UserID, req.UserName, r.Header.Get(identityTokenHeader)); errResp != nil {
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if errResp := app.checkRateLimits(r, roomID, req.UserID); errResp != nil {
		app.stats.Incr(stats.RateLimited)
		w.Header().Set("Retry-After", strconv.Itoa(errResp.RetryAfter))
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := app.store.SaveMessage(r.Context(), types.Message{
		RoomID:    roomID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		UserEmoji: req.UserEmoji,
		Content:   req.Content,
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		app.log.Error().Err(err).Str("room", roomID).Msg("save message")
		app.writeStoreError(w, err)
		return
	}

	// best effort from here on: a dead cache degrades live delivery but
	// never fails an accepted message
	if err := app.buffer.Append(r.Context(), roomID, msg); err != nil {
		app.log.Warn().Err(err).Str("room", roomID).Msg("recency buffer append failed")
	}
	if err := app.fanout.Publish(r.Context(), roomID, types.NewEnvelope(msg)); err != nil {
		app.log.Warn().Err(err).Str("room", roomID).Msg("fanout publish failed")
	}

	app.stats.Incr(stats.MessagesPublished)
	app.writeJson(w, http.StatusCreated, msg)
}

func (app *AnonChatApp) checkRateLimits(r *http.Request, roomID, userID string) *ApiError {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && ip != "" {
		if d := app.ipLimiter.Allow(r.Context(), "ip:"+ip); !d.Allowed {
			return NewTooManyRequestsError(d.RetryAfter)
		}
	}

	key := fmt.Sprintf("msg:%s:%s", roomID, userID)
	if d := app.msgLimiter.Allow(r.Context(), key); !d.Allowed {
		return NewTooManyRequestsError(d.RetryAfter)
	}
	return nil
}

func (app *AnonChatApp) roomActivity(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.UserID == "" || req.UserName == "" {
		errResp := NewBadRequestError()
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	activeUsers, err := app.store.HeartbeatActiveUser(r.Context(), r.PathValue("roomId"), types.ActiveUser{
		UserID:    req.UserID,
		UserName:  req.UserName,
		UserEmoji: req.UserEmoji,
	})
	if err != nil {
		app.writeStoreError(w, err)
		return
	}

	app.writeJson(w, http.StatusOK, ActivityResponse{
		Success:     true,
		ActiveUsers: activeUsers,
		Count:       len(activeUsers),
		Timestamp:   time.Now().UnixMilli(),
	})
}
