package domain

// ============================================================
// AI Assistant
// ============================================================

// Vector collections.
const (
	CollectionUserInfo = "budget_user_info"
	CollectionTips     = "budget_tips"
)

// AssistantRequest is the body of POST /api/assistant and /api/assistant/raw-query.
type AssistantRequest struct {
	Question string `json:"question"`
}

// AssistantResponse is the body returned by POST /api/assistant.
type AssistantResponse struct {
	Answer string `json:"answer"`
}

// RawQueryResponse is the retrieval context returned without generation.
type RawQueryResponse struct {
	Question      string     `json:"question"`
	UserDocuments []string   `json:"userDocuments"`
	Tips          []string   `json:"tips"`
	History       []ChatTurn `json:"history"`
}

// ChatTurn is one entry of the bounded conversation history.
type ChatTurn struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ============================================================
// LLM & vector store payloads
// ============================================================

// ChatMessage is one message of a chat-completions request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is sent to the LLM provider.
type CompletionRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []ChatMessage `json:"messages"`
}

// Completion is the first choice of a chat-completions response.
type Completion struct {
	Content    string
	TokensUsed TokenUsage
}

// TokenUsage tracks LLM token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// VectorDocument is a text stored in a vector collection.
type VectorDocument struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// VectorQuery asks a collection for the k nearest documents to Text.
type VectorQuery struct {
	Collection string
	Text       string
	K          int
	Where      map[string]any
}

// AssistantMetrics is returned by GET /api/metrics/assistant.
type AssistantMetrics struct {
	TotalRequests       int64   `json:"totalRequests"`
	ErrorRate           float64 `json:"errorRate"`
	AvgTokensPerRequest float64 `json:"avgTokensPerRequest"`
	PromptTokens        int64   `json:"promptTokens"`
	CompletionTokens    int64   `json:"completionTokens"`
	StatsCacheHitRate   float64 `json:"statsCacheHitRate"`
	Period              string  `json:"period"`
}
