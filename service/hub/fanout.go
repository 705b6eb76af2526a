package hub

import (
	"sync"

	"PPChat/module/chat/event"
	"PPChat/service/metrics"

	"go.uber.org/zap"
)

type fanoutJob struct {
	subs []Subscriber
	env  *event.Envelope
}

// fanout delivers jobs on a fixed set of workers. Jobs of one chat always go
// to the same worker, so every subscriber sees them in publish order.
type fanout struct {
	queues []chan fanoutJob
	wg     sync.WaitGroup
	log    *zap.Logger
	stats  *Stats
}

func newFanout(workers, queue int, log *zap.Logger, stats *Stats) *fanout {
	f := &fanout{queues: make([]chan fanoutJob, workers), log: log, stats: stats}
	for i := range f.queues {
		q := make(chan fanoutJob, queue)
		f.queues[i] = q
		f.wg.Add(1)
		go f.run(q)
	}
	return f
}

func (f *fanout) run(q <-chan fanoutJob) {
	defer f.wg.Done()
	for job := range q {
		for _, s := range job.subs {
			if s.Deliver(job.env) {
				f.stats.Delivered.Inc()
				continue
			}
			f.stats.Dropped.Inc()
			metrics.EventsDropped.Inc()
			f.log.Warn("subscriber queue full, event dropped",
				zap.Int64("chat_id", job.env.ChatID),
				zap.String("type", string(job.env.Event.Kind())),
				zap.String("subscriber", s.ID()))
		}
	}
}

func (f *fanout) enqueue(job fanoutJob) {
	f.queues[uint64(job.env.ChatID)%uint64(len(f.queues))] <- job
}

// stop closes the queues and waits for queued jobs to drain.
func (f *fanout) stop() {
	for _, q := range f.queues {
		close(q)
	}
	f.wg.Wait()
}
