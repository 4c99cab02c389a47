package embedding

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Batcher coalesces concurrent single-text embedding requests into batched
// upstream calls. Add and retrieval embed one text at a time; the backfill
// job embeds many concurrently, and without batching each would be its own
// round trip to the embedding service.
type Batcher struct {
	client    Client
	batchSize int
	window    time.Duration

	mu     sync.Mutex
	queue  []batchItem
	timer  *time.Timer
	stopCh chan struct{}
}

type batchItem struct {
	text     string
	resultCh chan<- batchResult
}

type batchResult struct {
	embedding []float32
	err       error
}

// NewBatcher wraps client; requests flush when batchSize texts are queued or
// window elapses, whichever comes first.
func NewBatcher(client Client, batchSize int, window time.Duration) *Batcher {
	if batchSize <= 0 {
		batchSize = 16
	}
	if window <= 0 {
		window = 25 * time.Millisecond
	}

	b := &Batcher{
		client:    client,
		batchSize: batchSize,
		window:    window,
		queue:     make([]batchItem, 0, batchSize),
		stopCh:    make(chan struct{}),
	}

	go b.run()
	return b
}

// EmbedSingle queues one text and blocks until its batch is embedded.
func (b *Batcher) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	resultCh := make(chan batchResult, 1)

	b.mu.Lock()
	b.queue = append(b.queue, batchItem{
		text:     text,
		resultCh: resultCh,
	})

	// Start timer if this is the first item
	if len(b.queue) == 1 {
		b.timer = time.AfterFunc(b.window, func() {
			b.flush()
		})
	}

	// Flush if batch is full
	if len(b.queue) >= b.batchSize {
		if b.timer != nil {
			b.timer.Stop()
		}
		b.mu.Unlock()
		b.flush()
	} else {
		b.mu.Unlock()
	}

	// Wait for result
	select {
	case result := <-resultCh:
		return result.embedding, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flush processes the current batch
func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}

	items := b.queue
	b.queue = make([]batchItem, 0, b.batchSize)
	b.mu.Unlock()

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.text
	}

	log.Debug().
		Int("batch_size", len(texts)).
		Msg("Processing embedding batch")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	embeddings, err := b.client.Embed(ctx, texts)

	// Send results back
	for i, item := range items {
		result := batchResult{err: err}
		if err == nil && i < len(embeddings) {
			result.embedding = embeddings[i]
		}

		select {
		case item.resultCh <- result:
		default:
			log.Warn().Msg("Failed to send batch result")
		}
	}
}

// run is the background goroutine that handles batch processing
func (b *Batcher) run() {
	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stopCh:
			b.flush()
			return
		}
	}
}

// Stop stops the batcher
func (b *Batcher) Stop() {
	close(b.stopCh)
}
