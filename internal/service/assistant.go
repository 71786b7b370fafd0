package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/assistant")

const (
	userDocsK       = 5
	tipsK           = 3
	historyTurns    = 6
	maxQuestionSize = 2000
)

const systemPrompt = `You are a friendly personal budget coach. Answer in a few short sentences.
Base your answer on the user's own spending when it is relevant and say so when the data does not cover the question.
Give concrete, practical advice. Never invent purchases or amounts.`

// Assistant answers budget questions with retrieval-augmented generation:
// the user's indexed purchases and general tips from the vector store, the
// recent conversation, then one LLM completion.
type Assistant struct {
	vectors port.VectorStore
	llm     port.LLM
	history port.ChatHistory
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAssistant creates the assistant service. vectors may be nil, in which
// case the prompt carries no retrieved context.
func NewAssistant(
	vectors port.VectorStore,
	llm port.LLM,
	history port.ChatHistory,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Assistant {
	return &Assistant{
		vectors: vectors,
		llm:     llm,
		history: history,
		metrics: metrics,
		logger:  logger,
	}
}

// Ask answers a question and records the exchange in the chat history.
func (a *Assistant) Ask(ctx context.Context, userID, question string) (*domain.AssistantResponse, error) {
	// Bail out early if the caller already cancelled.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Assistant.Ask")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	question, err := validQuestion(question)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		a.metrics.RecordRequestDuration("assistant", time.Since(start))
	}()

	// --- Step 1: retrieval + history ---
	rc := a.retrieve(ctx, userID, question)

	// --- Step 2: completion ---
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: buildPrompt(rc)},
	}

	llmStart := time.Now()
	completion, err := a.llm.Complete(ctx, messages)
	a.metrics.RecordRequestDuration("llm", time.Since(llmStart))
	if err != nil {
		a.logger.Error("llm call failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		a.metrics.IncrExternalError("mistral")
		a.metrics.IncrAssistant("error")
		return nil, fmt.Errorf("llm completion: %w", err)
	}

	a.metrics.RecordTokens(completion.TokensUsed.PromptTokens, completion.TokensUsed.CompletionTokens)
	a.metrics.IncrAssistant("success")

	// --- Step 3: remember the exchange ---
	answer := strings.TrimSpace(completion.Content)
	if err := a.history.Append(ctx, userID,
		domain.ChatTurn{Role: domain.RoleUser, Content: question},
		domain.ChatTurn{Role: domain.RoleAssistant, Content: answer},
	); err != nil {
		a.logger.Warn("failed to store chat history", zap.String("user_id", userID), zap.Error(err))
	}

	return &domain.AssistantResponse{Answer: answer}, nil
}

// RawQuery returns the retrieval context Ask would use, without generation.
func (a *Assistant) RawQuery(ctx context.Context, userID, question string) (*domain.RawQueryResponse, error) {
	ctx, span := tracer.Start(ctx, "Assistant.RawQuery")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	question, err := validQuestion(question)
	if err != nil {
		return nil, err
	}

	rc := a.retrieve(ctx, userID, question)
	return &domain.RawQueryResponse{
		Question:      question,
		UserDocuments: rc.userDocs,
		Tips:          rc.tips,
		History:       rc.history,
	}, nil
}

type retrieval struct {
	question string
	userDocs []string
	tips     []string
	history  []domain.ChatTurn
}

// retrieve runs the two vector queries and the history read concurrently.
// Each source degrades to empty on failure; the answer is still useful
// without it.
func (a *Assistant) retrieve(ctx context.Context, userID, question string) retrieval {
	rc := retrieval{question: question, userDocs: []string{}, tips: []string{}, history: []domain.ChatTurn{}}

	g, gCtx := errgroup.WithContext(ctx)

	if a.vectors != nil {
		g.Go(func() error {
			docs, err := a.vectors.Query(gCtx, domain.VectorQuery{
				Collection: domain.CollectionUserInfo,
				Text:       question,
				K:          userDocsK,
				Where:      map[string]any{"user_id": userID},
			})
			if err != nil {
				a.logger.Warn("user documents retrieval failed", zap.String("user_id", userID), zap.Error(err))
				a.metrics.IncrExternalError("chroma")
				return nil
			}
			rc.userDocs = docs
			return nil
		})

		g.Go(func() error {
			docs, err := a.vectors.Query(gCtx, domain.VectorQuery{
				Collection: domain.CollectionTips,
				Text:       question,
				K:          tipsK,
			})
			if err != nil {
				a.logger.Warn("tips retrieval failed", zap.Error(err))
				a.metrics.IncrExternalError("chroma")
				return nil
			}
			rc.tips = docs
			return nil
		})
	}

	g.Go(func() error {
		turns, err := a.history.Recent(gCtx, userID, historyTurns)
		if err != nil {
			a.logger.Warn("chat history read failed", zap.String("user_id", userID), zap.Error(err))
			return nil
		}
		if turns != nil {
			rc.history = turns
		}
		return nil
	})

	_ = g.Wait()
	return rc
}

func validQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", &domain.ErrValidation{Field: "question", Message: "question is required"}
	}
	if len(q) > maxQuestionSize {
		return "", &domain.ErrValidation{Field: "question", Message: fmt.Sprintf("question must be at most %d characters", maxQuestionSize)}
	}
	return q, nil
}

func buildPrompt(rc retrieval) string {
	var b strings.Builder

	b.WriteString("Conversation so far:\n")
	if len(rc.history) == 0 {
		b.WriteString("(none)\n")
	}
	for _, t := range rc.history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	b.WriteString("\nWhat we know about the user's spending:\n")
	writeList(&b, rc.userDocs)

	b.WriteString("\nGeneral budgeting tips:\n")
	writeList(&b, rc.tips)

	fmt.Fprintf(&b, "\nQuestion: %s\n", rc.question)
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("(nothing relevant)\n")
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
