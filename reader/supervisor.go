package reader

import (
	"context"
	"errors"
	"sync"
	"time"

	"spreadflow/logger"
	"spreadflow/metrics"
	"spreadflow/models"

	"golang.org/x/time/rate"
)

var (
	ErrShutdownTimeout = errors.New("supervisor shutdown timed out")
	ErrAlreadyStarted  = errors.New("supervisor already started")
	ErrStopped         = errors.New("supervisor stopped")
)

// FrameHandler consumes one raw frame received on a feed of the given
// market. A returned error drops the frame; the feed keeps streaming.
type FrameHandler interface {
	Handle(market models.MarketType, frame []byte) error
}

// Supervisor runs one goroutine per feed and tracks each feed's state.
type Supervisor struct {
	feeds         []FeedSpec
	handler       FrameHandler
	opts          DialOptions
	progressEvery time.Duration
	log           *logger.Log

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	conns   map[string]*Conn
	states  map[string]FeedState
	errs    map[string]error

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// NewSupervisor prepares feeds without connecting. progressEvery throttles
// the per-feed progress log; zero logs every frame.
func NewSupervisor(feeds []FeedSpec, handler FrameHandler, opts DialOptions, progressEvery time.Duration) *Supervisor {
	states := make(map[string]FeedState, len(feeds))
	for _, f := range feeds {
		states[f.Name] = StateIdle
	}
	return &Supervisor{
		feeds:         feeds,
		handler:       handler,
		opts:          opts,
		progressEvery: progressEvery,
		log:           logger.GetLogger(),
		conns:         make(map[string]*Conn, len(feeds)),
		states:        states,
		errs:          make(map[string]error),
	}
}

// Start launches every feed and returns immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	for _, feed := range s.feeds {
		s.states[feed.Name] = StateConnecting
		metrics.FeedState.WithLabelValues(feed.Name).Set(float64(StateConnecting))
		s.wg.Add(1)
		go s.run(ctx, feed)
	}
	s.mu.Unlock()

	s.log.WithComponent("supervisor").WithFields(logger.Fields{"feeds": len(s.feeds)}).Info("supervisor started")
	return nil
}

func (s *Supervisor) run(ctx context.Context, feed FeedSpec) {
	defer s.wg.Done()
	defer s.setState(feed.Name, StateClosed)

	log := s.log.WithComponent("supervisor").WithFields(logger.Fields{"feed": feed.Name, "endpoint": feed.Endpoint})

	conn, err := Dial(ctx, feed.Endpoint, s.opts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.recordError(feed.Name, err)
		log.WithError(err).Error("feed connection failed")
		return
	}
	defer conn.Close()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.conns[feed.Name] = conn
	s.mu.Unlock()

	limit := rate.Inf
	if s.progressEvery > 0 {
		limit = rate.Every(s.progressEvery)
	}
	limiter := rate.NewLimiter(limit, 1)

	conn.OnMessage(func(frame []byte) {
		s.handleFrame(feed, frame, limiter, log)
	})
	conn.OnError(func(err error) {
		log.WithError(err).Warn("feed connection error")
	})

	s.setState(feed.Name, StateStreaming)
	log.Info("feed streaming")

	if err := conn.Run(); err != nil {
		s.recordError(feed.Name, err)
		return
	}
	log.Info("feed closed")
}

func (s *Supervisor) handleFrame(feed FeedSpec, frame []byte, limiter *rate.Limiter, log *logger.Entry) {
	logger.RecordFrame(feed.Name, len(frame))
	metrics.FramesReceived.WithLabelValues(feed.Name).Inc()

	if err := s.handler.Handle(feed.Market, frame); err != nil {
		logger.RecordDecodeError(feed.Name)
		metrics.DecodeErrors.WithLabelValues(feed.Name).Inc()
		log.WithError(err).Warn("dropping frame")
		return
	}

	if limiter.Allow() {
		log.WithFields(logger.Fields{"frames": logger.FeedFrames(feed.Name)}).Infof("%s data from %s", feed.Kind, feed.Endpoint)
	}
}

func (s *Supervisor) setState(name string, state FeedState) {
	s.mu.Lock()
	s.states[name] = state
	s.mu.Unlock()
	metrics.FeedState.WithLabelValues(name).Set(float64(state))
}

func (s *Supervisor) recordError(name string, err error) {
	s.mu.Lock()
	s.errs[name] = err
	s.mu.Unlock()
	s.setState(name, StateError)
}

// Stop closes every connection, cancels pending dials and waits up to
// timeout for the feed goroutines. Later calls return the first result.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
		conns := make([]*Conn, 0, len(s.conns))
		for name, conn := range s.conns {
			if s.states[name] == StateStreaming {
				s.states[name] = StateClosing
				metrics.FeedState.WithLabelValues(name).Set(float64(StateClosing))
			}
			conns = append(conns, conn)
		}
		s.mu.Unlock()

		log := s.log.WithComponent("supervisor")
		log.WithFields(logger.Fields{"connections": len(conns)}).Info("stopping supervisor")
		for _, conn := range conns {
			if err := conn.Close(); err != nil {
				log.WithError(err).WithFields(logger.Fields{"endpoint": conn.Endpoint()}).Debug("close returned error")
			}
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			log.Info("supervisor stopped")
		case <-time.After(timeout):
			s.stopErr = ErrShutdownTimeout
			log.WithError(ErrShutdownTimeout).Error("feeds did not stop in time")
		}
	})
	return s.stopErr
}

// States returns a copy of the current state of every feed.
func (s *Supervisor) States() map[string]FeedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]FeedState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// Errors returns the last connection error of each failed feed.
func (s *Supervisor) Errors() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]error, len(s.errs))
	for k, v := range s.errs {
		out[k] = v
	}
	return out
}
