package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"streamocr-worker-go/internal/config"
	"streamocr-worker-go/internal/logging"
	"streamocr-worker-go/internal/models"
	"streamocr-worker-go/internal/services/frames"
	"streamocr-worker-go/internal/services/recognition"
	"streamocr-worker-go/internal/services/results"
	"streamocr-worker-go/internal/storage"
)

type fakeSource struct {
	mu    sync.Mutex
	shade float64
	err   error
	calls int
}

func (s *fakeSource) Acquire(ctx context.Context, uri string) (gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return gocv.Mat{}, s.err
	}
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(s.shade, s.shade, s.shade, 0), 40, 60, gocv.MatTypeCV8UC3), nil
}

func (s *fakeSource) set(shade float64, err error) {
	s.mu.Lock()
	s.shade, s.err = shade, err
	s.mu.Unlock()
}

type fakeEngine struct {
	mu    sync.Mutex
	texts []string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (e *fakeEngine) Recognize(ctx context.Context, images [][]byte, _ map[string]any) ([]recognition.Result, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([]recognition.Result, len(images))
	for i := range images {
		out[i] = recognition.Result{Text: e.texts[i%len(e.texts)], Confidence: 80 + float64(i)*10}
	}
	return out, nil
}

func (e *fakeEngine) set(err error, texts ...string) {
	e.mu.Lock()
	e.err = err
	if texts != nil {
		e.texts = texts
	}
	e.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []models.SourceEvent
}

func (r *recorder) Notify(ev models.SourceEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofType(t models.EventType) []models.SourceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SourceEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	appCfg   *config.Config
	source   *fakeSource
	engine   *fakeEngine
	events   *recorder
	deps     Deps
	known    map[string]bool
	execLog  *logging.ExecutionLog
	resStore *results.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "ocr.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	appCfg := &config.Config{
		ThumbnailDir:     t.TempDir(),
		ThumbnailTTL:     time.Minute,
		ThumbnailWidth:   30,
		ThumbnailQuality: 80,
		JPEGQuality:      90,
		OcrDefaultEngine: "fake",
		OverlayColor:     "#00FF00",
	}

	f := &fixture{
		appCfg: appCfg,
		source: &fakeSource{shade: 50},
		engine: &fakeEngine{texts: []string{"12", ".5"}},
		events: &recorder{},
		known:  map[string]bool{},
	}

	engines := recognition.NewRegistry(appCfg)
	engines.Register("fake", func(*config.Config) (recognition.Engine, error) { return f.engine, nil })

	bridge := recognition.NewBridge(2, 8, 5*time.Second, time.Second, zerolog.Nop())
	t.Cleanup(func() { bridge.Shutdown() })

	f.resStore = results.NewStore(db, zerolog.Nop())
	f.execLog = logging.NewExecutionLog(db, func(id string) bool { return f.known[id] }, zerolog.Nop())
	f.deps = Deps{
		Source:   f.source,
		Bridge:   bridge,
		Engines:  engines,
		Results:  f.resStore,
		ExecLog:  f.execLog,
		Observer: f.events,
	}
	return f
}

func testConfig(id string) models.SourceConfig {
	return models.SourceConfig{
		ID:                 id,
		URI:                "rtsp://camera/" + id,
		ProcessingSettings: models.DefaultProcessingSettings(),
		OcrSettings:        models.OcrSettings{Engine: "fake"},
		RegionBoxes: []models.RegionBox{
			{ID: "int", Top: 5, Left: 5, Width: 10, Height: 10},
			{ID: "dec", Top: 5, Left: 20, Width: 6, Height: 8},
		},
		SchedulingSettings: models.SchedulingSettings{ExecutionMode: models.ExecutionModeManual},
	}
}

func (f *fixture) handler(id string) *Handler {
	f.known[id] = true
	return NewHandler(f.appCfg, testConfig(id), f.deps, zerolog.Nop())
}

func TestRunOcrParsesConcatenatedText(t *testing.T) {
	f := newFixture(t)
	h := f.handler("meter")

	res, err := h.RunOcr(context.Background())
	if err != nil {
		t.Fatalf("RunOcr: %v", err)
	}
	if res.Outcome != results.Accepted {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	agg := res.Document.Aggregate
	if agg.Value != 12.5 {
		t.Errorf("value = %v, want 12.5", agg.Value)
	}
	if agg.Confidence != 85 {
		t.Errorf("confidence = %v, want 85", agg.Confidence)
	}
	if len(res.Document.Results) != 2 || res.Document.Results[0].BoxID != "int" || res.Document.Results[1].BoxID != "dec" {
		t.Errorf("region results = %+v", res.Document.Results)
	}
	if h.Status() != models.SourceStatusOK {
		t.Errorf("status = %s", h.Status())
	}

	entries, err := f.execLog.List(context.Background(), "meter", 10)
	if err != nil || len(entries) == 0 {
		t.Fatalf("execution log entries = %v, err %v", entries, err)
	}
}

func TestRunOcrFingerprintShortCircuit(t *testing.T) {
	f := newFixture(t)
	h := f.handler("meter")

	first, err := h.RunOcr(context.Background())
	if err != nil {
		t.Fatalf("first RunOcr: %v", err)
	}
	second, err := h.RunOcr(context.Background())
	if err != nil {
		t.Fatalf("second RunOcr: %v", err)
	}

	if got := f.engine.calls.Load(); got != 1 {
		t.Fatalf("engine calls = %d, want 1", got)
	}
	if second.Outcome != results.Unchanged {
		t.Errorf("second outcome = %s, want unchanged", second.Outcome)
	}
	if first.Document.Aggregate != second.Document.Aggregate {
		t.Errorf("aggregates differ: %+v vs %+v", first.Document.Aggregate, second.Document.Aggregate)
	}
}

func TestRunOcrRejectsDecrease(t *testing.T) {
	f := newFixture(t)
	h := f.handler("meter")

	if _, err := h.RunOcr(context.Background()); err != nil {
		t.Fatalf("RunOcr: %v", err)
	}

	f.source.set(90, nil)
	f.engine.set(nil, "1", "0")
	res, err := h.RunOcr(context.Background())
	if err != nil {
		t.Fatalf("RunOcr: %v", err)
	}
	if res.Outcome != results.RejectedDecrease || res.Document.Aggregate.Value != 12.5 {
		t.Fatalf("outcome=%s value=%v", res.Outcome, res.Document.Aggregate.Value)
	}
	if got := len(f.events.ofType(models.EventTypeOcrResult)); got != 1 {
		t.Errorf("ocr_result events = %d, want 1", got)
	}
}

func TestStatusIsEdgeTriggered(t *testing.T) {
	f := newFixture(t)
	h := f.handler("meter")
	ctx := context.Background()

	if _, err := h.GrabFrameRaw(ctx, true); err != nil {
		t.Fatalf("GrabFrameRaw: %v", err)
	}
	if _, err := h.GrabFrameRaw(ctx, true); err != nil {
		t.Fatalf("GrabFrameRaw: %v", err)
	}

	f.source.set(50, frames.ErrNoConnection)
	for i := 0; i < 2; i++ {
		if _, err := h.GrabFrameRaw(ctx, true); !errors.Is(err, frames.ErrNoConnection) {
			t.Fatalf("err = %v, want ErrNoConnection", err)
		}
	}

	f.source.set(50, frames.ErrNoStream)
	h.GrabFrameRaw(ctx, true)

	f.source.set(50, frames.ErrTimeout)
	h.GrabFrameRaw(ctx, true)

	statuses := f.events.ofType(models.EventTypeStatus)
	want := []models.SourceStatus{
		models.SourceStatusOK,
		models.SourceStatusNoConnection,
		models.SourceStatusNoStream,
		models.SourceStatusTimeout,
	}
	if len(statuses) != len(want) {
		t.Fatalf("status events = %+v, want %v", statuses, want)
	}
	for i, ev := range statuses {
		if ev.Status != want[i] || ev.SourceID != "meter" {
			t.Errorf("event %d = %+v, want %s", i, ev, want[i])
		}
	}
}

func TestCancelledRequestLeavesStatusUnchanged(t *testing.T) {
	f := newFixture(t)
	h := f.handler("meter")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.GrabFrameRaw(ctx, true); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if h.Status() != models.SourceStatusUnknown {
		t.Errorf("status = %s, want UNKNOWN", h.Status())
	}
	if got := len(f.events.ofType(models.EventTypeStatus)); got != 0 {
		t.Errorf("status events = %d, want 0", got)
	}
}

func TestRunOcrIgnoresCancellationButKeepsDeadline(t *testing.T) {
	f := newFixture(t)
	h := f.handler("meter")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.RunOcr(cancelled); err != nil {
		t.Fatalf("RunOcr with cancelled context: %v", err)
	}

	f.source.set(90, nil)
	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()
	if _, err := h.RunOcr(expired); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunOcr past deadline err = %v, want context.DeadlineExceeded", err)
	}
	if got := f.engine.calls.Load(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	if h.Status() != models.SourceStatusOK {
		t.Errorf("status = %s, want OK", h.Status())
	}
}

func TestOcrRunningSignalledAroundFailure(t *testing.T) {
	f := newFixture(t)
	h := f.handler("meter")

	boom := errors.New("engine exploded")
	f.engine.set(boom)
	_, err := h.RunOcr(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want engine error", err)
	}
	if h.Status() != models.SourceStatusError {
		t.Errorf("status = %s, want ERROR", h.Status())
	}
	if h.OcrRunning() {
		t.Error("ocrRunning still set")
	}

	running := f.events.ofType(models.EventTypeOcrRunning)
	if len(running) != 2 || !*running[0].OcrRunning || *running[1].OcrRunning {
		t.Fatalf("ocr_running events = %+v", running)
	}
}

func TestRunOcrNoValidRegions(t *testing.T) {
	f := newFixture(t)
	f.known["meter"] = true
	cfg := testConfig("meter")
	cfg.RegionBoxes = []models.RegionBox{{ID: "off", Top: 500, Left: 500, Width: 10, Height: 10}}
	h := NewHandler(f.appCfg, cfg, f.deps, zerolog.Nop())

	if _, err := h.RunOcr(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if h.Status() != models.SourceStatusError {
		t.Errorf("status = %s, want ERROR", h.Status())
	}
	if got := f.engine.calls.Load(); got != 0 {
		t.Errorf("engine calls = %d, want 0", got)
	}
}

func TestConcurrentRunOcrIsSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.engine.delay = 100 * time.Millisecond
	h := f.handler("meter")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.RunOcr(context.Background()); err != nil {
				t.Errorf("RunOcr: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.engine.calls.Load(); got != 1 {
		t.Fatalf("engine calls = %d, want 1", got)
	}
}

func TestGrabOperations(t *testing.T) {
	f := newFixture(t)
	h := f.handler("meter")
	ctx := context.Background()

	raw, err := h.GrabFrameRaw(ctx, false)
	if err != nil || len(raw) == 0 {
		t.Fatalf("GrabFrameRaw: %d bytes, %v", len(raw), err)
	}
	framed, err := h.GrabFrame(ctx, true, false)
	if err != nil || len(framed) == 0 {
		t.Fatalf("GrabFrame: %d bytes, %v", len(framed), err)
	}

	computed, err := h.GrabComputedFrame(ctx, false)
	if err != nil {
		t.Fatalf("GrabComputedFrame: %v", err)
	}
	img, err := gocv.IMDecode(computed, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("decode composite: %v", err)
	}
	if img.Cols() != 16 || img.Rows() != 10 {
		t.Errorf("composite size = %dx%d, want 16x10", img.Cols(), img.Rows())
	}
	img.Close()

	thumb, err := h.GrabThumbnail(ctx)
	if err != nil {
		t.Fatalf("GrabThumbnail: %v", err)
	}
	img, err = gocv.IMDecode(thumb, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if img.Cols() != 30 {
		t.Errorf("thumbnail width = %d, want 30", img.Cols())
	}
	img.Close()
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]string
}

func (s *fakeScheduler) AddJob(expr, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Validate(expr) != nil {
		return
	}
	s.jobs[id] = expr
}

func (s *fakeScheduler) RemoveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *fakeScheduler) Validate(expr string) error {
	if expr == "" || expr == "bad" {
		return errors.New("bad cron")
	}
	return nil
}

type memoryStore struct {
	saved []models.SourceConfig
}

func (m *memoryStore) Load() ([]models.SourceConfig, error) { return m.saved, nil }

func (m *memoryStore) Save(c []models.SourceConfig) error {
	m.saved = c
	return nil
}

func TestManagerLifecycle(t *testing.T) {
	f := newFixture(t)
	sched := &fakeScheduler{jobs: map[string]string{}}
	store := &memoryStore{}
	mgr := NewManager(f.appCfg, f.deps, sched, store, zerolog.Nop())
	ctx := context.Background()

	cfg := testConfig("")
	cfg.SchedulingSettings = models.SchedulingSettings{ExecutionMode: models.ExecutionModeCron, Cron: "*/5 * * * *"}
	added, err := mgr.Add(cfg)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" {
		t.Fatal("no id generated")
	}
	f.known[added.ID] = true
	if sched.jobs[added.ID] != "*/5 * * * *" {
		t.Fatalf("jobs = %v", sched.jobs)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d", len(store.saved))
	}

	if _, err := mgr.Add(added); !errors.Is(err, ErrSourceExists) {
		t.Fatalf("duplicate add err = %v", err)
	}

	bad := testConfig("other")
	bad.SchedulingSettings = models.SchedulingSettings{ExecutionMode: models.ExecutionModeCron, Cron: "bad"}
	if _, err := mgr.Add(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("invalid add err = %v", err)
	}

	updated, err := mgr.Update(added.ID, func(c *models.SourceConfig) {
		c.SchedulingSettings.ExecutionMode = models.ExecutionModeManual
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.SchedulingSettings.ExecutionMode != models.ExecutionModeManual {
		t.Fatalf("updated = %+v", updated.SchedulingSettings)
	}
	if _, ok := sched.jobs[added.ID]; ok {
		t.Fatal("cron job not removed after switching to manual")
	}

	if _, err := mgr.RunOcr(ctx, added.ID); err != nil {
		t.Fatalf("RunOcr: %v", err)
	}
	resp := mgr.Describe(ctx, mustGet(t, mgr, added.ID))
	if resp.Aggregate == nil || resp.Aggregate.Value != 12.5 || resp.Status != models.SourceStatusOK {
		t.Fatalf("describe = %+v", resp)
	}

	if err := mgr.Remove(ctx, added.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if mgr.Has(added.ID) {
		t.Fatal("source still registered")
	}
	if agg, _ := f.resStore.Aggregate(ctx, added.ID); agg != nil {
		t.Fatal("aggregate not deleted")
	}
	if len(store.saved) != 0 {
		t.Fatalf("saved = %d after remove", len(store.saved))
	}
	if removed := f.events.ofType(models.EventTypeRemoved); len(removed) != 1 {
		t.Fatalf("removed events = %d", len(removed))
	}
	if _, err := mgr.RunOcr(ctx, added.ID); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("RunOcr after remove err = %v", err)
	}
}

func TestManagerRejectsUnsafeIDs(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(f.appCfg, f.deps, &fakeScheduler{jobs: map[string]string{}}, &memoryStore{}, zerolog.Nop())

	for _, id := range []string{"../escape", "a/b", "a.b", "meter.*", "meter>", "with space", strings.Repeat("x", 65)} {
		if _, err := mgr.Add(testConfig(id)); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Add(%q) err = %v, want ErrInvalidConfig", id, err)
		}
	}
	for _, id := range []string{"meter-1", "Meter_2", strings.Repeat("x", 64)} {
		if _, err := mgr.Add(testConfig(id)); err != nil {
			t.Errorf("Add(%q): %v", id, err)
		}
	}
}

func TestManagerConcurrentUpdatesAreSerialized(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(f.appCfg, f.deps, &fakeScheduler{jobs: map[string]string{}}, &memoryStore{}, zerolog.Nop())
	cfg := testConfig("meter")
	cfg.RegionBoxes = nil
	if _, err := mgr.Add(cfg); err != nil {
		t.Fatalf("Add: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.Update("meter", func(c *models.SourceConfig) {
				c.RegionBoxes = append(c.RegionBoxes, models.RegionBox{ID: fmt.Sprintf("box-%d", i), Width: 2, Height: 2})
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(mustGet(t, mgr, "meter").Config().RegionBoxes); got != 16 {
		t.Fatalf("region boxes = %d, want 16", got)
	}
}

func TestManagerUpdateAfterRemoveKeepsNoJob(t *testing.T) {
	f := newFixture(t)
	sched := &fakeScheduler{jobs: map[string]string{}}
	mgr := NewManager(f.appCfg, f.deps, sched, &memoryStore{}, zerolog.Nop())
	if _, err := mgr.Add(testConfig("meter")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err := mgr.Update("meter", func(c *models.SourceConfig) {
		if err := mgr.Remove(context.Background(), "meter"); err != nil {
			t.Errorf("Remove: %v", err)
		}
		c.SchedulingSettings = models.SchedulingSettings{ExecutionMode: models.ExecutionModeCron, Cron: "*/5 * * * *"}
	})
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("Update err = %v, want ErrSourceNotFound", err)
	}
	if len(sched.jobs) != 0 {
		t.Fatalf("jobs = %v, want none", sched.jobs)
	}
}

func TestManagerLoadAllRebuildsJobs(t *testing.T) {
	f := newFixture(t)
	sched := &fakeScheduler{jobs: map[string]string{}}
	cron := testConfig("a")
	cron.SchedulingSettings = models.SchedulingSettings{ExecutionMode: models.ExecutionModeCron, Cron: "0 * * * *"}
	store := &memoryStore{saved: []models.SourceConfig{cron, testConfig("b")}}

	mgr := NewManager(f.appCfg, f.deps, sched, store, zerolog.Nop())
	if err := mgr.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(mgr.List()) != 2 {
		t.Fatalf("handlers = %d", len(mgr.List()))
	}
	if len(sched.jobs) != 1 || sched.jobs["a"] != "0 * * * *" {
		t.Fatalf("jobs = %v", sched.jobs)
	}
}

func mustGet(t *testing.T, m *Manager, id string) *Handler {
	t.Helper()
	h, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return h
}
