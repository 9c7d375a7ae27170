// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

import "shop-assist/internal/core/domain"

// Coze chat statuses returned by /v3/chat and /v3/chat/retrieve
const (
	CozeStatusCreated        = "created"
	CozeStatusInProgress     = "in_progress"
	CozeStatusCompleted      = "completed"
	CozeStatusFailed         = "failed"
	CozeStatusRequiresAction = "requires_action"
	CozeStatusCanceled       = "canceled"
)

// CozeEnvelope wraps every Coze open API response
// Ref: https://www.coze.cn/open/docs/developer_guides/chat_v3
type CozeEnvelope[T any] struct {
	Code int    `json:"code"` // 0 on success
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// CozeMessage is one entry of additional_messages / message list
type CozeMessage struct {
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ChatID         string `json:"chat_id,omitempty"`
	Role           string `json:"role"`           // user | assistant
	Type           string `json:"type,omitempty"` // answer | function_call | tool_response | follow_up | verbose
	Content        string `json:"content"`
	ContentType    string `json:"content_type"` // text | object_string | card
}

// IsAnswer reports whether the message is visible assistant answer text.
func (m CozeMessage) IsAnswer() bool {
	return m.Role == "assistant" && m.Type == "answer"
}

// CozeChatRequest is the body of POST /v3/chat
type CozeChatRequest struct {
	BotID              string        `json:"bot_id"`
	UserID             string        `json:"user_id"`
	Stream             bool          `json:"stream"`
	AutoSaveHistory    bool          `json:"auto_save_history"`
	AdditionalMessages []CozeMessage `json:"additional_messages"`
}

// NewCozeChatRequest builds a single-turn text request.
func NewCozeChatRequest(req domain.ChatRequest, stream bool) CozeChatRequest {
	return CozeChatRequest{
		BotID:           req.BotID,
		UserID:          req.UserID,
		Stream:          stream,
		AutoSaveHistory: true,
		AdditionalMessages: []CozeMessage{{
			Role:        "user",
			Content:     req.Message,
			ContentType: "text",
		}},
	}
}

// CozeUsage mirrors the usage object of a chat
type CozeUsage struct {
	TokenCount  int `json:"token_count"`
	OutputCount int `json:"output_count"`
	InputCount  int `json:"input_count"`
}

// ToDomain converts usage, returning nil for a missing object.
func (u *CozeUsage) ToDomain() *domain.Usage {
	if u == nil {
		return nil
	}
	return &domain.Usage{TokenCount: u.TokenCount, OutputCount: u.OutputCount, InputCount: u.InputCount}
}

// CozeLastError is populated when a chat ends in failed status
type CozeLastError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// CozeChat is the chat object returned by create / retrieve and
// carried by conversation.chat.* stream events
type CozeChat struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	BotID          string         `json:"bot_id"`
	Status         string         `json:"status"`
	Usage          *CozeUsage     `json:"usage,omitempty"`
	LastError      *CozeLastError `json:"last_error,omitempty"`
}

// IsTerminalFailure reports statuses that will never produce an answer.
func (c CozeChat) IsTerminalFailure() bool {
	switch c.Status {
	case CozeStatusFailed, CozeStatusCanceled, CozeStatusRequiresAction:
		return true
	}
	return false
}

// CozeStreamError is the data of an `error` stream event
type CozeStreamError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ============================================================================
// OAuth (JWT bearer grant)
// ============================================================================

// CozeTokenRequest is the body of POST /api/permission/oauth2/token
type CozeTokenRequest struct {
	GrantType       string `json:"grant_type"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// CozeJWTGrantType is the grant used to exchange a signed assertion
const CozeJWTGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// CozeTokenResponse carries the access token. ExpiresIn is returned either as a
// lifetime in seconds or as an absolute unix timestamp depending on the region.
type CozeTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type,omitempty"`

	// Error fields (present on failure)
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ============================================================================
// Knowledge base documents
// ============================================================================

// CozeDocumentListRequest is the body of POST /open_api/knowledge/document/list
type CozeDocumentListRequest struct {
	DatasetID string `json:"dataset_id"`
	Page      int    `json:"page"`
	Size      int    `json:"size"`
}

// CozeDocumentInfo describes one stored document
type CozeDocumentInfo struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
}

// CozeDocumentListResponse lists documents of a dataset
type CozeDocumentListResponse struct {
	Code          int                `json:"code"`
	Msg           string             `json:"msg"`
	DocumentInfos []CozeDocumentInfo `json:"document_infos"`
	Total         int                `json:"total"`
}

// CozeDocumentDeleteRequest is the body of POST /open_api/knowledge/document/delete
type CozeDocumentDeleteRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// CozeSourceInfo carries an inline file upload
type CozeSourceInfo struct {
	FileBase64 string `json:"file_base64"`
	FileType   string `json:"file_type"`
}

// CozeDocumentBase is one document to create
type CozeDocumentBase struct {
	Name       string         `json:"name"`
	SourceInfo CozeSourceInfo `json:"source_info"`
}

// CozeChunkStrategy controls segmentation; chunk_type 0 is automatic
type CozeChunkStrategy struct {
	ChunkType int `json:"chunk_type"`
}

// CozeDocumentCreateRequest is the body of POST /open_api/knowledge/document/create
type CozeDocumentCreateRequest struct {
	DatasetID     string             `json:"dataset_id"`
	DocumentBases []CozeDocumentBase `json:"document_bases"`
	ChunkStrategy *CozeChunkStrategy `json:"chunk_strategy,omitempty"`
}

// CozeBasicResponse is a {code,msg} response without data
type CozeBasicResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
