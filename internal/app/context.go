package app

import (
	"context"

	"github.com/datallboy/hlsget/internal/config"
	"github.com/datallboy/hlsget/internal/domain"
	"github.com/datallboy/hlsget/internal/logger"
)

// Runner executes one download job from manifest fetch to muxed output.
type Runner interface {
	RunJob(ctx context.Context, job *domain.Job) error
}

// History is the persistence surface the queue and the API share.
type History interface {
	Save(job *domain.Job) error
	Get(id string) (*domain.Job, error)
	List() ([]*domain.Job, error)
}

// Queue is what the HTTP controllers see of the queue manager.
type Queue interface {
	Add(url, output string, compress bool) (*domain.Job, error)
	Items() []*domain.Job
	Item(id string) (*domain.Job, bool)
	Cancel(id string) bool
}

// Context holds the shared environment for one hlsget process.
type Context struct {
	Config  *config.Config
	Logger  *logger.Logger
	History History
	Queue   Queue
}
