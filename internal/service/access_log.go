package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/capture"
	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
	"github.com/GoPolymarket/capturegate/internal/pkg/metrics"
	"github.com/GoPolymarket/capturegate/internal/policy"
	"github.com/GoPolymarket/capturegate/internal/sink"
)

// Direction carries what the request path collected for one side of the
// exchange. Header is a private copy; Session is nil when the body was not
// buffered.
type Direction struct {
	Header  http.Header
	Session *capture.Session
}

// PendingRecord is a record whose bodies may still be in flight on the
// capture workers.
type PendingRecord struct {
	Record        *model.LogRecord
	Request       Direction
	Response      Direction
	RedactVisible int
}

func (p *PendingRecord) abort() {
	for _, s := range []*capture.Session{p.Request.Session, p.Response.Session} {
		if s != nil {
			s.Abort("")
		}
	}
}

type AccessLogOptions struct {
	Workers   int
	QueueSize int
	RecentMax int
	// WaitTimeout bounds how long a worker waits for body capture to finish.
	WaitTimeout time.Duration
}

// AccessLogService completes records off the request path and hands them to
// the dispatcher. The last records are also kept in memory for inspection.
type AccessLogService struct {
	store      body.Store
	dispatcher *sink.Dispatcher
	opts       AccessLogOptions

	queue  chan *PendingRecord
	buffer *recordBuffer

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAccessLogService(store body.Store, dispatcher *sink.Dispatcher, opts AccessLogOptions) *AccessLogService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 30 * time.Second
	}
	svc := &AccessLogService{
		store:      store,
		dispatcher: dispatcher,
		opts:       opts,
		queue:      make(chan *PendingRecord, opts.QueueSize),
		buffer:     newRecordBuffer(opts.RecentMax),
	}
	for i := 0; i < opts.Workers; i++ {
		svc.wg.Add(1)
		go svc.process()
	}
	return svc
}

// Store is the body store records are read back from.
func (s *AccessLogService) Store() body.Store {
	return s.store
}

// Submit queues p without blocking. When the queue is full the record is
// dropped and its capture sessions are aborted.
func (s *AccessLogService) Submit(p *PendingRecord) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		p.abort()
		return false
	}
	select {
	case s.queue <- p:
		return true
	default:
		metrics.RecordsDropped.Inc()
		logger.Warn("Access log queue full, dropping record", "request_id", p.Record.ID)
		p.abort()
		return false
	}
}

func (s *AccessLogService) process() {
	defer s.wg.Done()
	for p := range s.queue {
		s.handle(p)
	}
}

func (s *AccessLogService) handle(p *PendingRecord) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Access log worker panicked", "request_id", p.Record.ID, "panic", r)
		}
	}()
	rec := s.Complete(p)
	s.buffer.Add(rec)
	if s.dispatcher == nil {
		return
	}

	out := s.dispatcher.Dispatch(context.Background(), rec)
	for _, o := range out.Outcomes {
		outcome := "ok"
		if o.Err != nil {
			outcome = "error"
			logger.Warn("Access log delivery failed", "request_id", rec.ID, "sink", o.Sink, "error", o.Err)
		}
		metrics.SinkDeliveries.WithLabelValues(o.Sink, outcome).Inc()
	}
}

// Complete waits for the bodies of p and fills in headers and body fields of
// its record according to the record's policy.
func (s *AccessLogService) Complete(p *PendingRecord) *model.LogRecord {
	rec := p.Record
	rec.Request = s.exchange(rec.ID, p.Request, rec.Policy.Request, p.RedactVisible)
	rec.Response = s.exchange(rec.ID, p.Response, rec.Policy.Response, p.RedactVisible)
	return rec
}

func (s *AccessLogService) exchange(id string, d Direction, pol policy.DirectionalPolicy, visible int) model.Exchange {
	ex := model.Exchange{BodySize: -1}
	if d.Header != nil {
		ex.Headers = pol.HeaderPolicy().Filter(d.Header, visible)
	}
	if d.Session == nil {
		return ex
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WaitTimeout)
	defer cancel()
	h, err := d.Session.Wait(ctx)
	if err != nil {
		// the handle will be picked up by retention
		logger.Warn("Body capture did not finish in time", "request_id", id, "direction", d.Session.Direction())
		ex.CaptureFailed = true
		return ex
	}
	ex.Partial = h.Partial
	ex.CaptureFailed = h.Failed

	if !h.Failed && pol.Body != policy.LevelNone {
		if n, err := body.DecodedSize(s.store, h); err != nil {
			logger.Debug("Could not measure body", "request_id", id, "error", err)
			ex.BodySize = h.Size
		} else {
			ex.BodySize = n
		}
	}
	if pol.Raw == policy.LevelStore {
		ex.Raw = h
	}
	if pol.Body == policy.LevelStore {
		ex.Body = h
	}
	if !pol.StoresBytes() && s.store != nil {
		if err := s.store.Remove(h); err != nil {
			logger.Warn("Failed to remove measured body", "request_id", id, "error", err)
		}
	}
	return ex
}

// Recent lists the newest records first, optionally only those of one matcher.
func (s *AccessLogService) Recent(limit int, matcherID string) []*model.LogRecord {
	return s.buffer.List(matcherID, limit)
}

// Close stops accepting records and waits for the queued ones to be delivered.
func (s *AccessLogService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

type recordBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.LogRecord
	nextIndex int
}

func newRecordBuffer(maxSize int) *recordBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &recordBuffer{
		maxSize: maxSize,
		records: make([]*model.LogRecord, 0, maxSize),
	}
}

func (b *recordBuffer) Add(entry *model.LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

func (b *recordBuffer) List(matcherID string, limit int) []*model.LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.LogRecord, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if entry == nil {
			continue
		}
		if matcherID != "" && entry.MatcherID != matcherID {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}
