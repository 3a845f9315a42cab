package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/ports"
	"github.com/99minutos/tracking-relay/internal/metrics"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// ErrStopped is returned for samples submitted after the dispatcher stopped.
var ErrStopped = errors.New("dispatcher stopped")

// Result is handed back to Submit once a sample was processed.
type Result struct {
	Ingest *ports.IngestResult
	Err    error
}

type job struct {
	sample domain.DriverLocation
	reply  chan<- Result
}

// Dispatcher routes location samples to a fixed set of workers using
// consistent hashing on the driver id, guaranteeing per-driver ordering and a
// single writer per driver stream.
type Dispatcher struct {
	workers []chan job
	service ports.IngestService
	log     zerolog.Logger
	done    chan struct{}
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, service ports.IngestService, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan job, numWorkers),
		service: service,
		log:     log,
		done:    make(chan struct{}),
	}
	for i := range d.workers {
		d.workers[i] = make(chan job, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
	go func() {
		<-ctx.Done()
		close(d.done)
	}()
}

// Submit queues a sample on its driver's worker and waits for the result.
func (d *Dispatcher) Submit(ctx context.Context, sample domain.DriverLocation) (*ports.IngestResult, error) {
	reply := make(chan Result, 1)
	idx := d.shardIndex(sample.DriverID)

	select {
	case d.workers[idx] <- job{sample: sample, reply: reply}:
	case <-d.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	metrics.IngestQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))

	select {
	case res := <-reply:
		return res.Ingest, res.Err
	case <-d.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shardIndex maps a driver id deterministically to a worker index.
func (d *Dispatcher) shardIndex(driverID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(driverID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan job) {
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-ch:
			if !ok {
				return
			}
			metrics.IngestQueueDepth.WithLabelValues(label).Set(float64(len(ch)))

			res, err := d.service.Ingest(ctx, j.sample)
			if err != nil && !errors.Is(err, domain.ErrInvalidSample) {
				d.log.Error().Err(err).
					Str("driver_id", j.sample.DriverID).
					Int("worker_id", id).
					Msg("sample processing failed")
			}
			j.reply <- Result{Ingest: res, Err: err}
		}
	}
}
