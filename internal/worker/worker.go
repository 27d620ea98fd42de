package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"desiai/internal/metrics"
	"desiai/internal/queue"
)

type ObjectDeleter interface {
	Delete(ctx context.Context, objectURL string) error
}

// Worker drains the upload cleanup stream and removes objects from storage.
type Worker struct {
	objects       ObjectDeleter
	queue         *queue.StreamQueue
	maxJobRetries int
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type Config struct {
	Objects       ObjectDeleter
	Queue         *queue.StreamQueue
	MaxJobRetries int
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	return &Worker{
		objects:       cfg.Objects,
		queue:         cfg.Queue,
		maxJobRetries: cfg.MaxJobRetries,
		logger:        cfg.Logger.With().Str("component", "cleanup_worker").Logger(),
		metrics:       m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read cleanup stream")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, msg := range messages {
			w.handle(ctx, log, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, log zerolog.Logger, msg queue.Message) {
	err := w.objects.Delete(ctx, msg.Job.ObjectURL)
	if err == nil {
		w.metrics.CleanupProcessed.Inc()
		if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
		}
		return
	}

	w.metrics.CleanupFailed.Inc()
	log.Error().Err(err).
		Str("job_id", msg.Job.JobID).
		Int64("upload_id", msg.Job.UploadID).
		Int("attempt", msg.Job.Attempts).
		Msg("object cleanup failed")

	if msg.Job.Attempts < w.maxJobRetries {
		msg.Job.Attempts++
		if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
			log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue failed job")
			return
		}
	} else {
		log.Warn().Str("job_id", msg.Job.JobID).Str("object_url", msg.Job.ObjectURL).Msg("giving up on object cleanup")
	}
	if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
		log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack failed message")
	}
}
