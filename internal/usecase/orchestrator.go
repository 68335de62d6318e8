package usecase

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"truckpress/internal/compose"
	"truckpress/internal/config"
	"truckpress/internal/dedup"
	"truckpress/internal/domain"
	"truckpress/internal/filter"
	"truckpress/internal/ports"
)

// Run-state token for the ingestion single-flight guard.
const (
	runStateIdle int32 = iota
	runStateRunning
)

// Deps wires all collaborators into the orchestrator.
type Deps struct {
	Source   ports.FeedSource
	Articles ports.ArticleRepository
	Posts    ports.PostRepository
	Delivery ports.DeliveryClient
	Filter   *filter.Filter
	Dedup    *dedup.Detector
	Composer *compose.Composer
	Logger   zerolog.Logger
}

// Orchestrator owns the content pipeline's periodic work: ingestion runs,
// publishing ticks, metrics refresh, cleanup, and crash recovery. It is the
// sole owner of QueuedPost status transitions.
type Orchestrator struct {
	source   ports.FeedSource
	articles ports.ArticleRepository
	posts    ports.PostRepository
	delivery ports.DeliveryClient

	filter   *filter.Filter
	dedup    *dedup.Detector
	composer *compose.Composer

	cfg   config.PipelineConfig
	slots []config.TimeSlot

	state       atomic.Int32
	postPace    *rate.Limiter
	metricsPace *rate.Limiter

	log    zerolog.Logger
	now    func() time.Time
	jitter func(n int) int
	sleep  func(ctx context.Context, d time.Duration) error
}

// New constructs the orchestrator. The pipeline config must already be
// validated; Slots() is assumed to parse.
func New(deps Deps, cfg config.PipelineConfig) *Orchestrator {
	slots, _ := cfg.Slots()

	return &Orchestrator{
		source:      deps.Source,
		articles:    deps.Articles,
		posts:       deps.Posts,
		delivery:    deps.Delivery,
		filter:      deps.Filter,
		dedup:       deps.Dedup,
		composer:    deps.Composer,
		cfg:         cfg,
		slots:       slots,
		postPace:    rate.NewLimiter(rate.Every(nonZero(cfg.PostDelay)), 1),
		metricsPace: rate.NewLimiter(rate.Every(nonZero(cfg.MetricsDelay)), 1),
		log:         deps.Logger,
		now:         time.Now,
		jitter:      rand.Intn,
		sleep:       sleepCtx,
	}
}

// Busy reports whether an ingestion run is in flight.
func (o *Orchestrator) Busy() bool {
	return o.state.Load() == runStateRunning
}

// TriggerIngestion runs one ingestion cycle synchronously. A trigger while
// a run is in flight is a no-op returning domain.ErrIngestionBusy.
func (o *Orchestrator) TriggerIngestion(ctx context.Context) error {
	if !o.state.CompareAndSwap(runStateIdle, runStateRunning) {
		o.log.Info().Msg("ingestion trigger skipped, run already in progress")
		return domain.ErrIngestionBusy
	}
	defer o.state.Store(runStateIdle)

	o.ingest(ctx)
	return nil
}

// TriggerIngestionAsync starts an ingestion run in the background, used by
// the control surface. The busy check happens before returning so a
// concurrent trigger gets an immediate conflict.
func (o *Orchestrator) TriggerIngestionAsync(ctx context.Context) error {
	if !o.state.CompareAndSwap(runStateIdle, runStateRunning) {
		return domain.ErrIngestionBusy
	}
	// The caller is an HTTP handler whose context dies with the response;
	// the run must outlive it.
	run := context.WithoutCancel(ctx)
	go func() {
		defer o.state.Store(runStateIdle)
		o.ingest(run)
	}()
	return nil
}

// IngestTick is the scheduler entrypoint for the periodic ingestion run.
func (o *Orchestrator) IngestTick(ctx context.Context) {
	_ = o.TriggerIngestion(ctx)
}

// ingest pulls raw items, filters, de-duplicates, composes, and queues
// posts. Individual item failures are logged and skipped; only fetch or
// window-query failures abort the run.
func (o *Orchestrator) ingest(ctx context.Context) {
	started := o.now()
	log := o.log.With().Time("run_started", started).Logger()

	items, err := o.source.Fetch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("feed fetch failed")
		return
	}

	admitted := o.filter.Filter(items)
	log.Info().Int("raw", len(items)).Int("admitted", len(admitted)).Msg("filter done")
	if len(admitted) == 0 {
		return
	}

	candidates := make([]domain.Article, 0, len(admitted))
	for _, item := range admitted {
		candidates = append(candidates, o.toArticle(item))
	}

	recent, err := o.articles.Recent(ctx, started.Add(-o.cfg.RecentWindow))
	if err != nil {
		log.Error().Err(err).Msg("recent-window query failed")
		return
	}

	kept, dropped := o.dedup.DedupeGroups(candidates, recent)
	log.Info().Int("kept", len(kept)).Int("duplicates", len(dropped)).Msg("dedup done")

	for _, dup := range dropped {
		dup.IsProcessed = true
		if _, err := o.articles.Upsert(ctx, dup); err != nil {
			log.Warn().Err(err).Str("url", dup.URL).Msg("persist duplicate failed")
		}
	}

	sl := newSlotter(o.slots, o.cfg.Location(), o.cfg.JitterMinutes, o.jitter, started)
	queued := 0
	for _, art := range kept {
		if o.queueArticle(ctx, log, art, sl) {
			queued++
		}
	}

	log.Info().Int("queued", queued).Dur("took", o.now().Sub(started)).Msg("ingestion run complete")
}

// queueArticle persists one article and, when it composes a valid post,
// inserts the queued post. Returns true when a post was queued.
func (o *Orchestrator) queueArticle(ctx context.Context, log zerolog.Logger, art domain.Article, sl *slotter) bool {
	stored, err := o.articles.Upsert(ctx, art)
	if err != nil {
		log.Warn().Err(err).Str("url", art.URL).Msg("persist article failed")
		return false
	}
	if stored.IsProcessed {
		log.Debug().Str("url", stored.URL).Msg("article already processed")
		return false
	}

	post := o.composer.Compose(stored)
	if result := o.composer.Validate(post.Text); !result.IsValid {
		// Discarded, not retried: the article still counts as processed
		// so it never loops back through composition.
		log.Warn().Str("url", stored.URL).Strs("issues", result.Issues).Msg("composed post rejected")
		o.markProcessed(ctx, log, stored.URL)
		return false
	}

	scheduled := sl.next()
	if art.RelevanceScore >= o.cfg.ImmediateThreshold {
		// High-relevance items jump the rotation and go out within minutes.
		scheduled = o.now().Add(time.Duration(o.jitter(5)+1) * time.Minute)
	}

	queued := domain.QueuedPost{
		ID:            uuid.NewString(),
		ArticleURL:    stored.URL,
		Text:          post.Text,
		ScheduledTime: scheduled,
		Status:        domain.StatusPending,
	}
	if err := o.posts.Insert(ctx, queued); err != nil {
		log.Warn().Err(err).Str("url", stored.URL).Msg("queue post failed")
		return false
	}

	o.markProcessed(ctx, log, stored.URL)
	log.Debug().Str("url", stored.URL).Time("scheduled", scheduled).Msg("post queued")
	return true
}

func (o *Orchestrator) markProcessed(ctx context.Context, log zerolog.Logger, url string) {
	if err := o.articles.MarkProcessed(ctx, url); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("mark processed failed")
	}
}

func (o *Orchestrator) toArticle(item domain.RawItem) domain.Article {
	score := o.filter.Score(item)
	return domain.Article{
		URL:             item.URL,
		Title:           item.Title,
		Summary:         item.Summary,
		Body:            item.Body,
		Source:          item.Source,
		PublishedAt:     item.PublishedAt,
		ImageURL:        item.ImageURL,
		Tags:            item.Tags,
		EngagementScore: score,
		RelevanceScore:  score,
	}
}

// PublishTick selects due pending posts and drives each through
// posting -> posted/failed. Posts are processed sequentially with pacing;
// one failure never blocks the others.
func (o *Orchestrator) PublishTick(ctx context.Context) {
	due, err := o.posts.Due(ctx, o.now())
	if err != nil {
		o.log.Error().Err(err).Msg("due-posts query failed")
		return
	}
	if len(due) == 0 {
		return
	}
	o.log.Info().Int("due", len(due)).Msg("publishing tick")

	for _, post := range due {
		if !post.Status.CanTransition(domain.StatusPosting) {
			o.log.Warn().Str("post", post.ID).Str("status", string(post.Status)).Msg("due post outside pending, skipping")
			continue
		}
		if err := o.postPace.Wait(ctx); err != nil {
			return
		}

		claimed, err := o.posts.MarkPosting(ctx, post.ID)
		if err != nil {
			o.log.Warn().Err(err).Str("post", post.ID).Msg("claim failed")
			continue
		}
		if !claimed {
			continue
		}

		receipt, err := o.deliver(ctx, post)
		if err != nil {
			o.log.Warn().Err(err).Str("post", post.ID).Msg("delivery failed")
			if err := o.posts.MarkFailed(ctx, post.ID, err.Error()); err != nil {
				o.log.Error().Err(err).Str("post", post.ID).Msg("mark failed failed")
			}
			continue
		}

		if err := o.posts.MarkPosted(ctx, post.ID, receipt.ExternalPostID, o.now()); err != nil {
			o.log.Error().Err(err).Str("post", post.ID).Msg("mark posted failed")
			continue
		}
		o.log.Info().Str("post", post.ID).Str("external_id", receipt.ExternalPostID).Msg("post delivered")
	}
}

// deliver invokes the Delivery Client with bounded retries and linearly
// increasing backoff. Terminal failures return immediately.
func (o *Orchestrator) deliver(ctx context.Context, post domain.QueuedPost) (ports.PostReceipt, error) {
	req := ports.CreatePostRequest{Text: post.Text, ArticleURL: post.ArticleURL}
	if article, err := o.articles.Get(ctx, post.ArticleURL); err == nil {
		req.ImageURL = article.ImageURL
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Retry.MaxAttempts; attempt++ {
		receipt, err := o.delivery.CreatePost(ctx, req)
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		if !domain.IsRetryableDelivery(err) {
			return ports.PostReceipt{}, err
		}
		if attempt == o.cfg.Retry.MaxAttempts {
			break
		}

		backoff := o.cfg.Retry.BaseDelay * time.Duration(attempt)
		o.log.Debug().Str("post", post.ID).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying delivery")
		if err := o.sleep(ctx, backoff); err != nil {
			return ports.PostReceipt{}, err
		}
	}
	return ports.PostReceipt{}, lastErr
}

// MetricsTick refreshes engagement metrics for delivered posts, tolerating
// per-post failures and pacing calls against the API's rate limits.
func (o *Orchestrator) MetricsTick(ctx context.Context) {
	posted, err := o.posts.InStatus(ctx, domain.StatusPosted)
	if err != nil {
		o.log.Error().Err(err).Msg("posted-posts query failed")
		return
	}

	refreshed := 0
	for _, post := range posted {
		if post.ExternalPostID == "" {
			continue
		}
		if err := o.metricsPace.Wait(ctx); err != nil {
			return
		}

		metrics, err := o.delivery.GetMetrics(ctx, post.ExternalPostID)
		if err != nil {
			o.log.Warn().Err(err).Str("post", post.ID).Msg("metrics refresh failed")
			continue
		}
		if err := o.posts.SaveMetrics(ctx, post.ID, metrics); err != nil {
			o.log.Warn().Err(err).Str("post", post.ID).Msg("save metrics failed")
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		o.log.Info().Int("refreshed", refreshed).Msg("metrics tick complete")
	}
}

// CleanupTick purges processed articles and completed or failed posts older
// than the retention window.
func (o *Orchestrator) CleanupTick(ctx context.Context) {
	cutoff := o.now().Add(-o.cfg.Retention)

	postsPurged, err := o.posts.PurgeBefore(ctx, cutoff)
	if err != nil {
		o.log.Error().Err(err).Msg("purge posts failed")
		return
	}
	articlesPurged, err := o.articles.PurgeProcessedBefore(ctx, cutoff)
	if err != nil {
		o.log.Error().Err(err).Msg("purge articles failed")
		return
	}
	o.log.Info().Int64("posts", postsPurged).Int64("articles", articlesPurged).Msg("cleanup complete")
}

// Recover reconciles posts left in the posting state by a crash. A post
// whose external ID is confirmed by the Delivery Client was actually
// delivered and becomes posted; everything else reverts to pending.
func (o *Orchestrator) Recover(ctx context.Context) error {
	stuck, err := o.posts.InStatus(ctx, domain.StatusPosting)
	if err != nil {
		return err
	}

	for _, post := range stuck {
		if post.ExternalPostID != "" {
			if _, err := o.delivery.GetMetrics(ctx, post.ExternalPostID); err == nil {
				o.log.Info().Str("post", post.ID).Msg("recovered posting row as posted")
				if err := o.posts.MarkPosted(ctx, post.ID, post.ExternalPostID, o.now()); err != nil {
					o.log.Error().Err(err).Str("post", post.ID).Msg("recovery mark posted failed")
				}
				continue
			}
		}
		o.log.Info().Str("post", post.ID).Msg("recovered posting row as pending")
		if err := o.posts.RevertToPending(ctx, post.ID); err != nil {
			o.log.Error().Err(err).Str("post", post.ID).Msg("recovery revert failed")
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nonZero(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	return d
}
