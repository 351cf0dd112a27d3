package reader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spreadflow/config"
	"spreadflow/metrics"
	"spreadflow/models"
	"spreadflow/processor"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames map[models.MarketType][]string
	fail   string
}

func (h *recordingHandler) Handle(market models.MarketType, frame []byte) error {
	if string(frame) == h.fail {
		return errors.New("bad frame")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frames == nil {
		h.frames = make(map[models.MarketType][]string)
	}
	h.frames[market] = append(h.frames[market], string(frame))
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, f := range h.frames {
		n += len(f)
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSupervisorIsolatesFailedFeed(t *testing.T) {
	_, spotURL := fakeFeed{frames: []string{"s1", "bad", "s2"}}.serve(t)
	_, perpURL := fakeFeed{frames: []string{"p1"}}.serve(t)

	feeds := []FeedSpec{
		{Name: "spot-book", Endpoint: spotURL, Market: models.MarketSpot, Kind: KindBook},
		{Name: "perp-book", Endpoint: perpURL, Market: models.MarketPerpetual, Kind: KindBook},
		{Name: "broken", Endpoint: "ws://127.0.0.1:1/stream", Market: models.MarketSpot, Kind: KindTrade},
	}
	h := &recordingHandler{fail: "bad"}
	sup := NewSupervisor(feeds, h, DialOptions{HandshakeTimeout: time.Second}, time.Second)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start returned %v", err)
	}

	waitFor(t, func() bool { return h.count() == 3 })
	waitFor(t, func() bool { return sup.States()["broken"] == StateClosed })

	states := sup.States()
	if states["spot-book"] != StateStreaming || states["perp-book"] != StateStreaming {
		t.Errorf("healthy feeds should still stream: %v", states)
	}

	if err := sup.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sup.Stop(2 * time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	for name, state := range sup.States() {
		if state != StateClosed {
			t.Errorf("feed %s state %s after stop", name, state)
		}
	}

	errs := sup.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected one feed error, got %v", errs)
	}
	var ferr *FeedConnectionError
	if !errors.As(errs["broken"], &ferr) || ferr.Op != "dial" {
		t.Errorf("unexpected error for broken feed: %v", errs["broken"])
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if got := h.frames[models.MarketSpot]; len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Errorf("spot frames: %v", got)
	}
	if got := h.frames[models.MarketPerpetual]; len(got) != 1 {
		t.Errorf("perp frames: %v", got)
	}
}

func TestSupervisorStopBeforeStart(t *testing.T) {
	sup := NewSupervisor(nil, &recordingHandler{}, DialOptions{}, 0)
	if err := sup.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sup.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("start after stop returned %v", err)
	}
}

func TestSupervisorFeedsIntoPipeline(t *testing.T) {
	depth := `{"stream":"btcusdt@depth","data":{"e":"depthUpdate","E":100,"s":"BTCUSDT","b":[["100","1"]],"a":[["110","2"]]}}`
	trade := `{"stream":"btcusdt@trade","data":{"e":"trade","E":100,"T":100,"s":"BTCUSDT","p":"100.1","q":"1000"}}`
	_, bookURL := fakeFeed{frames: []string{depth}}.serve(t)
	_, tradeURL := fakeFeed{frames: []string{trade}}.serve(t)

	store := processor.NewStore()
	feeds := []FeedSpec{
		{Name: "spot-book", Endpoint: bookURL, Market: models.MarketSpot, Kind: KindBook},
		{Name: "spot-trade", Endpoint: tradeURL, Market: models.MarketSpot, Kind: KindTrade},
	}
	sup := NewSupervisor(feeds, processor.NewPipeline(store), DialOptions{}, 0)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return store.Book.Len() == 3 && store.Trades.Len() == 1 })
	if err := sup.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	rec := store.Trades.Snapshot()[0]
	if rec.Instrument != "BTCUSDT_spot" || rec.Volume != 100100 {
		t.Errorf("unexpected trade record: %+v", rec)
	}
}

func TestFeedSpecs(t *testing.T) {
	specs := FeedSpecs(config.FeedsConfig{
		SpotURL:      "wss://spot/stream?streams=",
		PerpURL:      "wss://perp/stream?streams=",
		BookStreams:  "btcusdt@depth",
		TradeStreams: "btcusdt@trade",
	})
	want := []FeedSpec{
		{Name: "spot-trade", Endpoint: "wss://spot/stream?streams=btcusdt@trade", Market: models.MarketSpot, Kind: KindTrade},
		{Name: "perp-trade", Endpoint: "wss://perp/stream?streams=btcusdt@trade", Market: models.MarketPerpetual, Kind: KindTrade},
		{Name: "spot-book", Endpoint: "wss://spot/stream?streams=btcusdt@depth", Market: models.MarketSpot, Kind: KindBook},
		{Name: "perp-book", Endpoint: "wss://perp/stream?streams=btcusdt@depth", Market: models.MarketPerpetual, Kind: KindBook},
	}
	if len(specs) != len(want) {
		t.Fatalf("got %d specs", len(specs))
	}
	for i := range want {
		if specs[i] != want[i] {
			t.Errorf("spec %d = %+v, want %+v", i, specs[i], want[i])
		}
	}
}

// blockingHandler holds every frame until release is closed.
type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *blockingHandler) Handle(models.MarketType, []byte) error {
	h.once.Do(func() { close(h.entered) })
	<-h.release
	return nil
}

func TestSupervisorStopTimesOut(t *testing.T) {
	_, url := fakeFeed{frames: []string{"held"}}.serve(t)

	h := &blockingHandler{entered: make(chan struct{}), release: make(chan struct{})}
	feeds := []FeedSpec{{Name: "slow-book", Endpoint: url, Market: models.MarketSpot, Kind: KindBook}}
	sup := NewSupervisor(feeds, h, DialOptions{}, 0)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-h.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("frame never reached the handler")
	}

	start := time.Now()
	err := sup.Stop(200 * time.Millisecond)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("expected ErrShutdownTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stop waited %v", elapsed)
	}
	if state := sup.States()["slow-book"]; state != StateClosing {
		t.Errorf("state = %s, want closing", state)
	}
	if got := testutil.ToFloat64(metrics.FeedState.WithLabelValues("slow-book")); got != float64(StateClosing) {
		t.Errorf("feed state gauge = %v, want %v", got, float64(StateClosing))
	}
	if err := sup.Stop(time.Second); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("second stop returned %v", err)
	}

	close(h.release)
	waitFor(t, func() bool { return sup.States()["slow-book"] == StateClosed })
}
