// Package jobs holds the batch tasks an external scheduler triggers through
// the CLI: daily reminders, monthly doctor reports and patient history
// exports. Every job only reads booking data.
package jobs

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hospital/booking/internal/platform/blobstore"
	"github.com/hospital/booking/internal/platform/db"
	"github.com/hospital/booking/internal/platform/notification"
)

type snapshotRunner interface {
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}

// Runner executes jobs against the booking database.
type Runner struct {
	pool      db.Querier
	tx        snapshotRunner
	events    notification.Emitter
	templates *notification.TemplateEngine
	exports   blobstore.BlobStore
	logger    zerolog.Logger
}

func NewRunner(pool db.Beginner, events notification.Emitter, exports blobstore.BlobStore, logger zerolog.Logger) *Runner {
	return &Runner{
		pool:      pool,
		tx:        db.NewTxManager(pool),
		events:    events,
		templates: notification.NewTemplateEngine(),
		exports:   exports,
		logger:    logger,
	}
}

// render falls back to the raw template id so a broken template never drops
// an event.
func (r *Runner) render(id string, data map[string]string) (string, string) {
	subject, body, err := r.templates.Render(id, data)
	if err != nil {
		r.logger.Warn().Err(err).Str("template", id).Msg("render failed")
		return id, ""
	}
	return subject, body
}
