package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"truckpress/internal/compose"
	"truckpress/internal/config"
	"truckpress/internal/dedup"
	"truckpress/internal/domain"
	"truckpress/internal/filter"
	"truckpress/internal/ports"
)

// --- fakes -----------------------------------------------------------------

type fakeSource struct {
	mu       sync.Mutex
	items    []domain.RawItem
	err      error
	started  chan struct{}
	release  chan struct{}
	calls    int
	fetchErr error // ctx.Err() observed during the last Fetch
}

func (f *fakeSource) Fetch(ctx context.Context) ([]domain.RawItem, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.fetchErr = ctx.Err()
	f.mu.Unlock()
	return f.items, f.err
}

type fakeArticles struct {
	mu        sync.Mutex
	byURL     map[string]domain.Article
	recent    []domain.Article
	purged    int64
	purgedCut time.Time
}

func newFakeArticles() *fakeArticles {
	return &fakeArticles{byURL: make(map[string]domain.Article)}
}

func (f *fakeArticles) Upsert(ctx context.Context, article domain.Article) (domain.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.byURL[article.URL]; ok {
		return stored, nil
	}
	f.byURL[article.URL] = article
	return article, nil
}

func (f *fakeArticles) Get(ctx context.Context, url string) (domain.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byURL[url]
	if !ok {
		return domain.Article{}, domain.ErrNotFound
	}
	return stored, nil
}

func (f *fakeArticles) Recent(ctx context.Context, since time.Time) ([]domain.Article, error) {
	return f.recent, nil
}

func (f *fakeArticles) MarkProcessed(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byURL[url]
	if !ok {
		return domain.ErrNotFound
	}
	stored.IsProcessed = true
	f.byURL[url] = stored
	return nil
}

func (f *fakeArticles) CountProcessed(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.byURL {
		if a.IsProcessed {
			n++
		}
	}
	return n, nil
}

func (f *fakeArticles) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgedCut = cutoff
	return f.purged, nil
}

type fakePosts struct {
	mu        sync.Mutex
	byID      map[string]domain.QueuedPost
	order     []string
	metrics   map[string]domain.EngagementMetrics
	purgedCut time.Time
}

func newFakePosts(posts ...domain.QueuedPost) *fakePosts {
	f := &fakePosts{
		byID:    make(map[string]domain.QueuedPost),
		metrics: make(map[string]domain.EngagementMetrics),
	}
	for _, p := range posts {
		f.byID[p.ID] = p
		f.order = append(f.order, p.ID)
	}
	return f
}

func (f *fakePosts) Insert(ctx context.Context, post domain.QueuedPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[post.ID] = post
	f.order = append(f.order, post.ID)
	return nil
}

func (f *fakePosts) Get(ctx context.Context, id string) (domain.QueuedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.byID[id]
	if !ok {
		return domain.QueuedPost{}, domain.ErrNotFound
	}
	return post, nil
}

func (f *fakePosts) List(ctx context.Context, status domain.PostStatus, limit int) ([]domain.QueuedPost, error) {
	return f.InStatus(ctx, status)
}

func (f *fakePosts) Due(ctx context.Context, now time.Time) ([]domain.QueuedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []domain.QueuedPost
	for _, id := range f.order {
		p := f.byID[id]
		if p.Status == domain.StatusPending && !p.ScheduledTime.After(now) {
			due = append(due, p)
		}
	}
	return due, nil
}

func (f *fakePosts) InStatus(ctx context.Context, status domain.PostStatus) ([]domain.QueuedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.QueuedPost
	for _, id := range f.order {
		if p := f.byID[id]; p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePosts) CountByStatus(ctx context.Context) (map[domain.PostStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.PostStatus]int)
	for _, p := range f.byID {
		counts[p.Status]++
	}
	return counts, nil
}

func (f *fakePosts) MarkPosting(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.Status != domain.StatusPending {
		return false, nil
	}
	p.Status = domain.StatusPosting
	f.byID[id] = p
	return true, nil
}

func (f *fakePosts) MarkPosted(ctx context.Context, id, externalID string, postedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.Status != domain.StatusPosting {
		return domain.ErrNotFound
	}
	p.Status = domain.StatusPosted
	p.ExternalPostID = externalID
	p.PostedAt = &postedAt
	f.byID[id] = p
	return nil
}

func (f *fakePosts) MarkFailed(ctx context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.Status != domain.StatusPosting {
		return domain.ErrNotFound
	}
	p.Status = domain.StatusFailed
	p.ErrorMessage = message
	f.byID[id] = p
	return nil
}

func (f *fakePosts) RevertToPending(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.Status != domain.StatusPosting {
		return domain.ErrNotFound
	}
	p.Status = domain.StatusPending
	f.byID[id] = p
	return nil
}

func (f *fakePosts) SaveMetrics(ctx context.Context, id string, metrics domain.EngagementMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[id] = metrics
	return nil
}

func (f *fakePosts) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgedCut = cutoff
	return 0, nil
}

type fakeDelivery struct {
	mu          sync.Mutex
	createErrs  []error
	createCalls int
	receipt     ports.PostReceipt
	metrics     domain.EngagementMetrics
	metricsErr  error
	known       map[string]bool
}

func (f *fakeDelivery) CreatePost(ctx context.Context, req ports.CreatePostRequest) (ports.PostReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return ports.PostReceipt{}, err
	}
	return f.receipt, nil
}

func (f *fakeDelivery) GetMetrics(ctx context.Context, externalPostID string) (domain.EngagementMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.known != nil && !f.known[externalPostID] {
		return domain.EngagementMetrics{}, &domain.DeliveryError{Op: "get metrics", StatusCode: 404, Err: errors.New("unknown post")}
	}
	return f.metrics, f.metricsErr
}

func (f *fakeDelivery) RefreshToken(ctx context.Context) error { return nil }

// --- helpers ---------------------------------------------------------------

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		TimeSlots:          []string{"08:00", "12:00", "17:00"},
		JitterMinutes:      1,
		RecentWindow:       7 * 24 * time.Hour,
		Retention:          30 * 24 * time.Hour,
		Retry:              config.RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second},
		ImmediateThreshold: 0.85,
	}
}

type fixture struct {
	orch     *Orchestrator
	source   *fakeSource
	articles *fakeArticles
	posts    *fakePosts
	delivery *fakeDelivery
	sleeps   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fx := &fixture{
		source:   &fakeSource{},
		articles: newFakeArticles(),
		posts:    newFakePosts(),
		delivery: &fakeDelivery{receipt: ports.PostReceipt{ExternalPostID: "ext-1"}},
	}

	filterCfg := config.FilterConfig{
		MinWordCount:       5,
		RequiredKeywords:   []string{"truck", "trucking", "freight"},
		HighValueKeywords:  []string{"accident", "regulation", "shortage"},
		IndustryTerms:      []string{"freight", "carrier", "diesel"},
		BreakingIndicators: []string{"breaking", "urgent"},
	}
	composeCfg := config.ComposeConfig{
		MaxLength:        280,
		MaxHashtags:      8,
		BaselineHashtags: []string{"#Trucking", "#Logistics"},
	}
	simCfg := config.SimilarityConfig{Threshold: 0.7, TitleWeight: 0.5, BodyWeight: 0.3, URLWeight: 0.2}

	fx.orch = New(Deps{
		Source:   fx.source,
		Articles: fx.articles,
		Posts:    fx.posts,
		Delivery: fx.delivery,
		Filter:   filter.New(filterCfg, zerolog.Nop()),
		Dedup:    dedup.New(simCfg),
		Composer: compose.New(composeCfg),
		Logger:   zerolog.Nop(),
	}, testPipelineConfig())

	fx.orch.jitter = func(int) int { return 0 }
	fx.orch.sleep = func(ctx context.Context, d time.Duration) error {
		fx.sleeps = append(fx.sleeps, d)
		return nil
	}
	return fx
}

func retryableErr() error {
	return &domain.DeliveryError{Op: "create post", StatusCode: 503, Retryable: true, Err: errors.New("upstream unavailable")}
}

func terminalErr() error {
	return &domain.DeliveryError{Op: "create post", StatusCode: 400, Retryable: false, Err: errors.New("rejected")}
}

func pendingPost(id string, scheduled time.Time) domain.QueuedPost {
	return domain.QueuedPost{
		ID:            id,
		ArticleURL:    "https://news.example.com/story-" + id,
		Text:          "Freight story update for drivers everywhere. #Trucking",
		ScheduledTime: scheduled,
		Status:        domain.StatusPending,
	}
}

func rawItem(url, title string) domain.RawItem {
	return domain.RawItem{
		Title:   title,
		URL:     url,
		Summary: "Spot rates keep rising across the whole freight market.",
		Body: "Freight rates climbed again this week across midwest truck lanes. " +
			"Carriers report steady demand from shippers moving retail goods. " +
			"Analysts expect the trend to continue into next quarter.",
		Source:      "freight-daily",
		PublishedAt: time.Now().Add(-2 * time.Hour),
	}
}

// --- publishing ------------------------------------------------------------

func TestPublishTickDeliversDuePost(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	now := time.Now()
	fx.posts.byID["p1"] = pendingPost("p1", now.Add(-time.Minute))
	fx.posts.order = []string{"p1"}

	fx.orch.PublishTick(context.Background())

	got, _ := fx.posts.Get(context.Background(), "p1")
	if got.Status != domain.StatusPosted {
		t.Fatalf("status = %s, want posted", got.Status)
	}
	if got.ExternalPostID != "ext-1" {
		t.Fatalf("external id = %q, want ext-1", got.ExternalPostID)
	}
	if got.PostedAt == nil {
		t.Fatal("posted_at not recorded")
	}
}

func TestPublishTickSkipsFuturePosts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.posts.byID["p1"] = pendingPost("p1", time.Now().Add(time.Hour))
	fx.posts.order = []string{"p1"}

	fx.orch.PublishTick(context.Background())

	if fx.delivery.createCalls != 0 {
		t.Fatalf("delivery called %d times for a future post", fx.delivery.createCalls)
	}
}

func TestPublishTickTerminalFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.delivery.createErrs = []error{terminalErr()}
	fx.posts.byID["p1"] = pendingPost("p1", time.Now().Add(-time.Minute))
	fx.posts.order = []string{"p1"}

	fx.orch.PublishTick(context.Background())

	got, _ := fx.posts.Get(context.Background(), "p1")
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
	if fx.delivery.createCalls != 1 {
		t.Fatalf("terminal failure retried: %d calls", fx.delivery.createCalls)
	}
	if len(fx.sleeps) != 0 {
		t.Fatalf("terminal failure backed off: %v", fx.sleeps)
	}
}

func TestPublishTickRetriesWithLinearBackoff(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.delivery.createErrs = []error{retryableErr(), retryableErr()}
	fx.posts.byID["p1"] = pendingPost("p1", time.Now().Add(-time.Minute))
	fx.posts.order = []string{"p1"}

	fx.orch.PublishTick(context.Background())

	got, _ := fx.posts.Get(context.Background(), "p1")
	if got.Status != domain.StatusPosted {
		t.Fatalf("status = %s, want posted after retries", got.Status)
	}
	if fx.delivery.createCalls != 3 {
		t.Fatalf("delivery calls = %d, want 3", fx.delivery.createCalls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(fx.sleeps) != len(want) {
		t.Fatalf("backoffs = %v, want %v", fx.sleeps, want)
	}
	for i := range want {
		if fx.sleeps[i] != want[i] {
			t.Fatalf("backoff %d = %v, want %v", i, fx.sleeps[i], want[i])
		}
	}
}

func TestPublishTickExhaustsRetries(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.delivery.createErrs = []error{retryableErr(), retryableErr(), retryableErr()}
	fx.posts.byID["p1"] = pendingPost("p1", time.Now().Add(-time.Minute))
	fx.posts.order = []string{"p1"}

	fx.orch.PublishTick(context.Background())

	got, _ := fx.posts.Get(context.Background(), "p1")
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed after exhausted retries", got.Status)
	}
	if fx.delivery.createCalls != 3 {
		t.Fatalf("delivery calls = %d, want 3", fx.delivery.createCalls)
	}
	// No backoff after the final attempt.
	if len(fx.sleeps) != 2 {
		t.Fatalf("backoffs = %v, want 2 entries", fx.sleeps)
	}
}

func TestPublishTickOneFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.delivery.createErrs = []error{terminalErr()}
	due := time.Now().Add(-time.Minute)
	fx.posts.byID["p1"] = pendingPost("p1", due)
	fx.posts.byID["p2"] = pendingPost("p2", due)
	fx.posts.order = []string{"p1", "p2"}

	fx.orch.PublishTick(context.Background())

	first, _ := fx.posts.Get(context.Background(), "p1")
	second, _ := fx.posts.Get(context.Background(), "p2")
	if first.Status != domain.StatusFailed {
		t.Fatalf("p1 status = %s, want failed", first.Status)
	}
	if second.Status != domain.StatusPosted {
		t.Fatalf("p2 status = %s, want posted", second.Status)
	}
}

// fixedDuePosts returns a canned due list regardless of status, standing in
// for a storage layer whose guarantees have drifted.
type fixedDuePosts struct {
	*fakePosts
	due []domain.QueuedPost
}

func (f *fixedDuePosts) Due(ctx context.Context, now time.Time) ([]domain.QueuedPost, error) {
	return f.due, nil
}

func TestPublishTickSkipsPostsOutsidePending(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	stale := pendingPost("p1", time.Now().Add(-time.Minute))
	stale.Status = domain.StatusPosted
	fx.orch.posts = &fixedDuePosts{fakePosts: fx.posts, due: []domain.QueuedPost{stale}}

	fx.orch.PublishTick(context.Background())

	if fx.delivery.createCalls != 0 {
		t.Fatalf("delivery called %d times for a non-pending post", fx.delivery.createCalls)
	}
}

func TestPublishTickAttachesArticleImage(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	post := pendingPost("p1", time.Now().Add(-time.Minute))
	fx.posts.byID["p1"] = post
	fx.posts.order = []string{"p1"}
	fx.articles.byURL[post.ArticleURL] = domain.Article{
		URL:      post.ArticleURL,
		ImageURL: "https://img.example.com/story.jpg",
	}

	var gotReq ports.CreatePostRequest
	capture := &capturingDelivery{inner: fx.delivery, req: &gotReq}
	fx.orch.delivery = capture

	fx.orch.PublishTick(context.Background())

	if gotReq.ImageURL != "https://img.example.com/story.jpg" {
		t.Fatalf("image url = %q, want article image", gotReq.ImageURL)
	}
}

type capturingDelivery struct {
	inner ports.DeliveryClient
	req   *ports.CreatePostRequest
}

func (c *capturingDelivery) CreatePost(ctx context.Context, req ports.CreatePostRequest) (ports.PostReceipt, error) {
	*c.req = req
	return c.inner.CreatePost(ctx, req)
}

func (c *capturingDelivery) GetMetrics(ctx context.Context, id string) (domain.EngagementMetrics, error) {
	return c.inner.GetMetrics(ctx, id)
}

func (c *capturingDelivery) RefreshToken(ctx context.Context) error {
	return c.inner.RefreshToken(ctx)
}

// --- ingestion -------------------------------------------------------------

func TestTriggerIngestionSingleFlight(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.source.started = make(chan struct{})
	fx.source.release = make(chan struct{})
	started := fx.source.started

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fx.orch.TriggerIngestion(context.Background()); err != nil {
			t.Errorf("first trigger failed: %v", err)
		}
	}()

	<-started
	if !fx.orch.Busy() {
		t.Fatal("orchestrator not busy during run")
	}
	if err := fx.orch.TriggerIngestion(context.Background()); !errors.Is(err, domain.ErrIngestionBusy) {
		t.Fatalf("concurrent trigger = %v, want ErrIngestionBusy", err)
	}

	close(fx.source.release)
	<-done
	if fx.orch.Busy() {
		t.Fatal("orchestrator still busy after run")
	}
}

func TestTriggerIngestionAsyncOutlivesCaller(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.source.items = []domain.RawItem{
		rawItem("https://news.example.com/rates-climb", "Freight Rates Climb Across Midwest Lanes"),
	}
	fx.source.started = make(chan struct{})
	fx.source.release = make(chan struct{})
	started := fx.source.started

	ctx, cancel := context.WithCancel(context.Background())
	if err := fx.orch.TriggerIngestionAsync(ctx); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	// The HTTP handler returns and its request context dies mid-run.
	cancel()

	<-started
	close(fx.source.release)

	deadline := time.After(2 * time.Second)
	for fx.orch.Busy() {
		select {
		case <-deadline:
			t.Fatal("ingestion run did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}

	fx.source.mu.Lock()
	fetchErr := fx.source.fetchErr
	fx.source.mu.Unlock()
	if fetchErr != nil {
		t.Fatalf("run context died with its caller: %v", fetchErr)
	}
	pending, _ := fx.posts.InStatus(context.Background(), domain.StatusPending)
	if len(pending) != 1 {
		t.Fatalf("queued posts = %d, want 1", len(pending))
	}
}

func TestIngestQueuesAdmittedArticles(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.source.items = []domain.RawItem{
		rawItem("https://news.example.com/rates-climb", "Freight Rates Climb Across Midwest Lanes"),
		{
			Title: "Diesel Prices Fall For Third Straight Week",
			URL:   "https://news.example.com/diesel-falls",
			Body: "Diesel prices dropped for the third straight week nationwide. " +
				"Fleet managers welcomed the relief at the truck stop pump. " +
				"Analysts credit softer crude markets for the decline.",
			Source:      "fuel-watch",
			PublishedAt: time.Now().Add(-3 * time.Hour),
		},
	}

	if err := fx.orch.TriggerIngestion(context.Background()); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	pending, _ := fx.posts.InStatus(context.Background(), domain.StatusPending)
	if len(pending) != 2 {
		t.Fatalf("queued posts = %d, want 2", len(pending))
	}
	for _, p := range pending {
		if p.Text == "" || p.ScheduledTime.IsZero() {
			t.Fatalf("incomplete queued post: %+v", p)
		}
		art, err := fx.articles.Get(context.Background(), p.ArticleURL)
		if err != nil {
			t.Fatalf("article %s not persisted", p.ArticleURL)
		}
		if !art.IsProcessed {
			t.Fatalf("article %s not marked processed", p.ArticleURL)
		}
	}
}

func TestIngestSkipsAlreadyProcessedArticles(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	item := rawItem("https://news.example.com/rates-climb", "Freight Rates Climb Across Midwest Lanes")
	fx.source.items = []domain.RawItem{item}
	fx.articles.byURL[item.URL] = domain.Article{URL: item.URL, IsProcessed: true}

	if err := fx.orch.TriggerIngestion(context.Background()); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	pending, _ := fx.posts.InStatus(context.Background(), domain.StatusPending)
	if len(pending) != 0 {
		t.Fatalf("re-queued an already processed article: %d posts", len(pending))
	}
}

func TestIngestPersistsDuplicatesAsProcessed(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	a := rawItem("https://a.example.com/news/regs-update", "New Trucking Regulations Announced Today")
	b := rawItem("https://b.example.com/news/regs-story", "Trucking Regulations Announced Today")
	fx.source.items = []domain.RawItem{a, b}

	if err := fx.orch.TriggerIngestion(context.Background()); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	pending, _ := fx.posts.InStatus(context.Background(), domain.StatusPending)
	if len(pending) != 1 {
		t.Fatalf("queued posts = %d, want 1", len(pending))
	}

	dupCount := 0
	fx.articles.mu.Lock()
	for _, art := range fx.articles.byURL {
		if art.IsDuplicate {
			dupCount++
			if !art.IsProcessed {
				t.Errorf("duplicate %s not marked processed", art.URL)
			}
		}
	}
	fx.articles.mu.Unlock()
	if dupCount != 1 {
		t.Fatalf("persisted duplicates = %d, want 1", dupCount)
	}
}

func TestIngestSchedulesHighRelevanceImmediately(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	now := time.Now().Truncate(time.Second)
	fx.orch.now = func() time.Time { return now }

	item := rawItem("https://news.example.com/pileup", "Breaking: Major Truck Accident Shuts Down Interstate")
	item.PublishedAt = now.Add(-30 * time.Minute)
	fx.source.items = []domain.RawItem{item}

	if err := fx.orch.TriggerIngestion(context.Background()); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	pending, _ := fx.posts.InStatus(context.Background(), domain.StatusPending)
	if len(pending) != 1 {
		t.Fatalf("queued posts = %d, want 1", len(pending))
	}
	if want := now.Add(time.Minute); !pending[0].ScheduledTime.Equal(want) {
		t.Fatalf("scheduled = %v, want immediate slot %v", pending[0].ScheduledTime, want)
	}
}

func TestIngestDiscardsInvalidComposition(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	item := rawItem("https://news.example.com/rates-climb", "Freight Rates Climb But CLICK HERE For More")
	item.Summary = "Truck freight news, click here for the market details."
	fx.source.items = []domain.RawItem{item}

	if err := fx.orch.TriggerIngestion(context.Background()); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	pending, _ := fx.posts.InStatus(context.Background(), domain.StatusPending)
	if len(pending) != 0 {
		t.Fatalf("queued an invalid post: %d", len(pending))
	}
	art, err := fx.articles.Get(context.Background(), item.URL)
	if err != nil {
		t.Fatal("article not persisted")
	}
	if !art.IsProcessed {
		t.Fatal("discarded article must still count as processed")
	}
}

// --- metrics, cleanup, recovery --------------------------------------------

func TestMetricsTickRefreshesDeliveredPosts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.delivery.metrics = domain.EngagementMetrics{Likes: 12, Comments: 3, Shares: 1}

	posted := pendingPost("p1", time.Now())
	posted.Status = domain.StatusPosted
	posted.ExternalPostID = "ext-1"
	missing := pendingPost("p2", time.Now())
	missing.Status = domain.StatusPosted
	fx.posts.byID["p1"] = posted
	fx.posts.byID["p2"] = missing
	fx.posts.order = []string{"p1", "p2"}

	fx.orch.MetricsTick(context.Background())

	if got, ok := fx.posts.metrics["p1"]; !ok || got.Likes != 12 {
		t.Fatalf("metrics for p1 = %+v, ok=%v", got, ok)
	}
	if _, ok := fx.posts.metrics["p2"]; ok {
		t.Fatal("metrics fetched for a post with no external id")
	}
}

func TestCleanupTickUsesRetentionCutoff(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	fx.orch.now = func() time.Time { return now }

	fx.orch.CleanupTick(context.Background())

	want := now.Add(-30 * 24 * time.Hour)
	if !fx.posts.purgedCut.Equal(want) {
		t.Fatalf("posts cutoff = %v, want %v", fx.posts.purgedCut, want)
	}
	if !fx.articles.purgedCut.Equal(want) {
		t.Fatalf("articles cutoff = %v, want %v", fx.articles.purgedCut, want)
	}
}

func TestRecoverReconcilesStuckPosts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.delivery.known = map[string]bool{"ext-confirmed": true}

	confirmed := pendingPost("p1", time.Now())
	confirmed.Status = domain.StatusPosting
	confirmed.ExternalPostID = "ext-confirmed"
	unconfirmed := pendingPost("p2", time.Now())
	unconfirmed.Status = domain.StatusPosting
	unconfirmed.ExternalPostID = "ext-vanished"
	noID := pendingPost("p3", time.Now())
	noID.Status = domain.StatusPosting
	fx.posts.byID["p1"] = confirmed
	fx.posts.byID["p2"] = unconfirmed
	fx.posts.byID["p3"] = noID
	fx.posts.order = []string{"p1", "p2", "p3"}

	if err := fx.orch.Recover(context.Background()); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	p1, _ := fx.posts.Get(context.Background(), "p1")
	p2, _ := fx.posts.Get(context.Background(), "p2")
	p3, _ := fx.posts.Get(context.Background(), "p3")
	if p1.Status != domain.StatusPosted {
		t.Fatalf("confirmed post = %s, want posted", p1.Status)
	}
	if p2.Status != domain.StatusPending {
		t.Fatalf("unconfirmed post = %s, want pending", p2.Status)
	}
	if p3.Status != domain.StatusPending {
		t.Fatalf("post without external id = %s, want pending", p3.Status)
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[domain.PostStatus][]domain.PostStatus{
		domain.StatusPending: {domain.StatusPosting},
		domain.StatusPosting: {domain.StatusPosted, domain.StatusFailed},
	}
	all := []domain.PostStatus{domain.StatusPending, domain.StatusPosting, domain.StatusPosted, domain.StatusFailed}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}
