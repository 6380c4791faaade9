package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-switchboard/backend/internal/config"
	"github.com/zhouzirui/z-switchboard/backend/internal/service/session"
)

// ModelFactory creates a chat model owned by a single engine.
type ModelFactory func(ctx context.Context) (model.BaseChatModel, error)

// Service builds one conversational engine per room.
type Service struct {
	ctx     context.Context
	factory ModelFactory
	opts    EngineOptions
}

// NewService creates a new AI service backed by the Ark chat model in cfg.
func NewService(ctx context.Context, cfg config.AIConfig, prompts *PromptBuilder) (*Service, error) {
	factory := func(ctx context.Context) (model.BaseChatModel, error) {
		return cfg.NewChatModel(ctx)
	}

	// Fail fast on bad credentials instead of on the first call.
	if _, err := factory(ctx); err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	return NewServiceWithFactory(ctx, factory, EngineOptions{
		MaxToolRounds: cfg.MaxToolRounds,
		HistoryLimit:  cfg.HistoryLimit,
		Screening:     cfg.Screening,
		Prompt:        prompts,
	}), nil
}

// NewServiceWithFactory creates a service around an arbitrary model source.
func NewServiceWithFactory(ctx context.Context, factory ModelFactory, opts EngineOptions) *Service {
	return &Service{ctx: ctx, factory: factory, opts: opts}
}

// NewEngine implements session.EngineFactory. The room must be able to speak.
func (s *Service) NewEngine(r session.Room) (session.Engine, error) {
	speaker, ok := r.(Speaker)
	if !ok {
		return nil, fmt.Errorf("room %s cannot play audio lines", r.Name())
	}

	chatModel, err := s.factory(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	log.Printf("[ai] engine created for room=%s", r.Name())
	return NewEngine(chatModel, speaker, s.opts), nil
}
