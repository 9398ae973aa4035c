package usage

import (
	"context"
	"sync"
	"time"

	"github.com/Egham-7/token-gate/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const recordTimeout = 5 * time.Second

// Recorder accepts usage events for asynchronous persistence.
type Recorder interface {
	Submit(event *models.UsageEvent)
}

// Worker persists usage events off the request path with a fixed pool.
// Submissions never block: a full buffer drops the event.
type Worker struct {
	service *Service
	tasks   chan *models.UsageEvent
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewWorker(service *Service, poolSize, bufferSize int) *Worker {
	if poolSize <= 0 {
		poolSize = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}

	w := &Worker{
		service: service,
		tasks:   make(chan *models.UsageEvent, bufferSize),
	}

	for range poolSize {
		w.wg.Add(1)
		go w.run()
	}

	return w
}

func (w *Worker) Submit(event *models.UsageEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		fiberlog.Warnf("[%s] Usage worker stopped, dropping event", event.RequestID)
		return
	}

	select {
	case w.tasks <- event:
	default:
		fiberlog.Warnf("[%s] Usage buffer full, dropping event", event.RequestID)
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for event := range w.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := w.service.RecordEvent(ctx, event); err != nil {
			fiberlog.Errorf("[%s] Failed to record usage event: %v", event.RequestID, err)
		}
		cancel()
	}
}

// Stop refuses new events, drains the buffer and waits for the pool.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.tasks)
	w.mu.Unlock()

	w.wg.Wait()
}
