package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"inboxkb/internal/app"
	"inboxkb/internal/kb"
	"inboxkb/internal/model"
)

// ReindexWorker consumes reindex jobs and re-runs the ingestion pipeline
// from the stored document content. Transient pipeline failures are
// redelivered once; everything else is dropped after the document row is
// marked failed by the service.
type ReindexWorker struct {
	conn       *amqp.Connection
	docService *app.DocumentService
	queueName  string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReindexWorker(conn *amqp.Connection, docService *app.DocumentService, queueName string) *ReindexWorker {
	return &ReindexWorker{
		conn:       conn,
		docService: docService,
		queueName:  queueName,
	}
}

func (w *ReindexWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *ReindexWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job model.ReindexJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Printf("worker decode reindex job failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.docService.ProcessReindex(ctx, job.DocumentID); err != nil {
		// Requeue once on transient upstream trouble; the redelivered flag
		// stops an unavailable dependency from spinning the queue.
		requeue := kb.IsTransient(err) && !d.Redelivered
		log.Printf("worker reindex document %d failed (requeue=%v): %v", job.DocumentID, requeue, err)
		_ = d.Nack(false, requeue)
		return
	}

	_ = d.Ack(false)
}

func (w *ReindexWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
