package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fretwise/fretwise/internal/assist"
	"github.com/fretwise/fretwise/internal/common"
)

// failAssist maps a classified error to an immediate JSON rejection. Only
// used before a stream has been committed; failures after that go out as a
// terminal SSE error event instead.
func failAssist(c *gin.Context, e *assist.Error) {
	switch e.Kind {
	case assist.KindInvalidInput:
		common.Fail(c, http.StatusBadRequest, 10001, e.Message)
	case assist.KindNotFound:
		common.Fail(c, http.StatusNotFound, 40404, e.Message)
	case assist.KindRateLimited:
		common.Fail(c, http.StatusTooManyRequests, 42901, e.Message)
	case assist.KindBusy:
		common.Fail(c, http.StatusConflict, 40901, e.Message)
	case assist.KindUpstreamRateLimited:
		common.Fail(c, http.StatusServiceUnavailable, 50301, e.Message)
	case assist.KindUpstreamUnavailable:
		common.Fail(c, http.StatusServiceUnavailable, 50302, e.Message)
	default:
		log.Printf("assist: internal error: %v", e)
		common.Fail(c, http.StatusInternalServerError, 50001, e.Message)
	}
}

// streamEvents writes relay events as SSE until the channel closes. The
// relay guarantees at most one terminal event; this loop only frames.
func streamEvents(c *gin.Context, events <-chan assist.Event) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	// avoid gin writing a JSON response later
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"error\":\"streaming not supported\"}\n\n")
		return
	}

	writeEvent := func(ev assist.Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"error\":\"encoding failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\n", ev.Type)
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(ev)

		case <-ticker.C:
			writeEvent(assist.Event{Type: assist.EventPing, TS: time.Now().Unix()})

		case <-ctx.Done():
			return
		}
	}
}

type chatReq struct {
	Message        string              `json:"message" binding:"required"`
	ConversationID string              `json:"conversation_id"`
	Context        *assist.ChatContext `json:"context"`
}

func (h *Handler) Chat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, aerr := h.AssistSvc.Chat(c.Request.Context(), uid, assist.ChatRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Context:        req.Context,
	})
	if aerr != nil {
		failAssist(c, aerr)
		return
	}
	common.OK(c, res)
}

func (h *Handler) ChatStream(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	events, aerr := h.AssistSvc.StreamChat(c.Request.Context(), uid, assist.ChatRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Context:        req.Context,
	})
	if aerr != nil {
		failAssist(c, aerr)
		return
	}
	streamEvents(c, events)
}

func songIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("song_id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) AnalyzeSong(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	songID, okk := songIDParam(c)
	if !okk {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid song id")
		return
	}

	var req struct {
		Focus string `json:"focus"`
	}
	_ = c.ShouldBindJSON(&req) // allow empty {}

	events, aerr := h.AssistSvc.StreamSongAnalysis(c.Request.Context(), uid, songID, assist.ParseFocus(req.Focus))
	if aerr != nil {
		failAssist(c, aerr)
		return
	}
	streamEvents(c, events)
}

func (h *Handler) SuggestSection(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	songID, okk := songIDParam(c)
	if !okk {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid song id")
		return
	}

	var req struct {
		SectionID uint64 `json:"section_id"`
	}
	_ = c.ShouldBindJSON(&req)

	events, aerr := h.AssistSvc.StreamSectionSuggestion(c.Request.Context(), uid, songID, req.SectionID)
	if aerr != nil {
		failAssist(c, aerr)
		return
	}
	streamEvents(c, events)
}

func (h *Handler) PracticeInsights(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	events, aerr := h.AssistSvc.StreamPracticeInsights(c.Request.Context(), uid)
	if aerr != nil {
		failAssist(c, aerr)
		return
	}
	streamEvents(c, events)
}

func (h *Handler) ListConversationTurns(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	conversationID := c.Param("conversation_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	turns, err := h.AssistSvc.ListTurns(c.Request.Context(), uid, conversationID, limit, beforeID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40404, "conversation not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(turns) > 0 {
		nextBeforeID = turns[len(turns)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       turns,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	conversationID := c.Param("conversation_id")
	if err := h.AssistSvc.DeleteConversation(c.Request.Context(), uid, conversationID); err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40404, "conversation not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to delete conversation")
		return
	}
	common.OK(c, gin.H{"deleted": conversationID})
}

type createAnalysisJobReq struct {
	SongID uint64 `json:"song_id" binding:"required"`
	Focus  string `json:"focus"`
}

func (h *Handler) CreateAnalysisJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createAnalysisJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	// quota is consumed at enqueue time; the worker never rate-limits
	if aerr := h.AssistSvc.AdmitAnalysis(c.Request.Context(), uid); aerr != nil {
		failAssist(c, aerr)
		return
	}

	if err := h.AssistSvc.VerifySongOwner(c.Request.Context(), uid, req.SongID); err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40404, "song not found")
			return
		}
		log.Printf("[CreateAnalysisJob] VerifySongOwner failed uid=%d song_id=%d err=%v", uid, req.SongID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		log.Printf("[CreateAnalysisJob] NewULID failed uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j := &assist.AnalysisJob{
		ID:             jobID,
		UserID:         uid,
		SongID:         req.SongID,
		Focus:          string(assist.ParseFocus(req.Focus)),
		IdempotencyKey: idempoKeyPtr,
		Status:         assist.JobQueued,
	}

	job, created, err := h.AssistSvc.CreateJobOrGetExisting(c.Request.Context(), j)
	if err != nil {
		log.Printf("[CreateAnalysisJob] CreateJobOrGetExisting failed uid=%d song_id=%d err=%v", uid, req.SongID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), job.ID); err != nil {
			log.Printf("[CreateAnalysisJob] PublishJob failed uid=%d job_id=%s err=%v", uid, job.ID, err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": job.ID})
}

func (h *Handler) GetAnalysisJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.AssistSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":          j.ID,
			"song_id":     j.SongID,
			"focus":       j.Focus,
			"status":      j.Status,
			"result":      j.Result,
			"tokens_used": j.TokensUsed,
			"error":       j.Error,
			"created_at":  j.CreatedAt,
			"updated_at":  j.UpdatedAt,
		},
	})
}
