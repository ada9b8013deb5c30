package handlers

import (
	"net/http"
	"sync"

	"returns-chat-api/pkg/models"
	"returns-chat-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ChatHandler 会話APIのハンドラー。セッションごとの会話状態はここで保持します
// （コーディネータ自体はセッションを持たないため、呼び出し側が所有する）。
type ChatHandler struct {
	coordinator *services.CoordinatorService

	mu       sync.Mutex
	sessions map[string]models.ConversationState
}

// NewChatHandler は新しいChatHandlerを作成します。
func NewChatHandler(coordinator *services.CoordinatorService) *ChatHandler {
	return &ChatHandler{
		coordinator: coordinator,
		sessions:    make(map[string]models.ConversationState),
	}
}

// HandleMessage 1ターンぶんのチャットメッセージを処理します。
func (h *ChatHandler) HandleMessage(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストの形式が正しくありません: " + err.Error()})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "メッセージが必要です。"})
		return
	}

	// セッションIDが指定されていない場合は新規生成
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	h.mu.Lock()
	state := h.sessions[req.SessionID]
	h.mu.Unlock()

	reply, newState := h.coordinator.HandleMessage(c.Request.Context(), req.Message, state)

	h.mu.Lock()
	h.sessions[req.SessionID] = newState
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"response": models.ChatResponse{
			SessionID: req.SessionID,
			Reply:     reply,
			Mode:      newState.Mode,
		},
	})
}

// ResetSession セッションの会話状態を破棄します。
func (h *ChatHandler) ResetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sessionID,
	})
}
