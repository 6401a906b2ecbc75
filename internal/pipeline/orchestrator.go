package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"insightxr/internal/asset"
	"insightxr/internal/events"
	"insightxr/internal/metrics"
	"insightxr/internal/storage"
)

const (
	renameExtension = ".mp3"
	publishTimeout  = 2 * time.Second
	cleanupTimeout  = 10 * time.Second
)

// Processor is the remote transcription and summarization service.
type Processor interface {
	Transcribe(ctx context.Context, bucket, objectName string) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	Bucket            string
	AllowedExtensions []string
	MaxUploadBytes    int64
	Clock             func() time.Time
	// Namer may be shared between orchestrators writing to the same bucket.
	Namer *Namer
}

// RenameResult is the outcome of a successful rename. Warning is set when
// the old object could not be deleted.
type RenameResult struct {
	Asset   asset.Snapshot
	Warning error
}

// Orchestrator drives one asset at a time through upload, transcription and
// summarization.
type Orchestrator struct {
	registry  *asset.Registry
	store     storage.ObjectStore
	processor Processor
	publisher events.Publisher
	bucket    string
	allowed   map[string]struct{}
	maxUpload int64
	namer     *Namer
	opsWG     sync.WaitGroup

	publishMu sync.Mutex
	published uint64
}

// New creates an idle orchestrator.
func New(store storage.ObjectStore, processor Processor, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Namer == nil {
		opts.Namer = NewNamer(opts.Clock)
	}
	if opts.Bucket == "" {
		opts.Bucket = defaultBucket
	}
	return &Orchestrator{
		registry:  asset.NewRegistry(opts.Clock),
		store:     store,
		processor: processor,
		publisher: events.Nop{},
		bucket:    opts.Bucket,
		allowed:   extensionSet(opts.AllowedExtensions),
		maxUpload: opts.MaxUploadBytes,
		namer:     opts.Namer,
	}
}

const defaultBucket = "user_videos"

// UsePublisher sets the sink for stage change events. Intended for setup only.
func (o *Orchestrator) UsePublisher(p events.Publisher) {
	if p == nil {
		p = events.Nop{}
	}
	o.publisher = p
}

// Snapshot returns the read-only projection of the active asset.
func (o *Orchestrator) Snapshot() asset.Snapshot {
	return o.registry.Snapshot()
}

// Bucket returns the bucket objects are stored in.
func (o *Orchestrator) Bucket() string { return o.bucket }

// WaitAll blocks until all in-flight operations finish or ctx is done.
func (o *Orchestrator) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		o.opsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// SubmitAsset uploads a new media payload and makes it the active asset.
// A submission supersedes any operation still in flight for the previous one.
func (o *Orchestrator) SubmitAsset(ctx context.Context, auth asset.AuthContext, u Upload) (asset.Snapshot, error) {
	const op = "submit"
	o.opsWG.Add(1)
	defer o.opsWG.Done()

	if !auth.Authenticated() {
		return o.reject(op, asset.ErrUnauthenticated)
	}
	fileName := cleanFileName(u.Name)
	if fileName == "" {
		return o.reject(op, asset.ErrInvalidName)
	}
	if len(o.allowed) > 0 {
		ext := strings.ToLower(filepath.Ext(fileName))
		if _, ok := o.allowed[ext]; !ok {
			return o.reject(op, fmt.Errorf("%w: extension %q not allowed", asset.ErrUnsupportedMedia, ext))
		}
	}
	if u.Body == nil || u.Size == 0 {
		return o.reject(op, asset.ErrEmptyPayload)
	}
	if o.maxUpload > 0 && u.Size > o.maxUpload {
		return o.reject(op, asset.ErrPayloadTooLarge)
	}
	contentType, body, err := sniffMedia(u)
	if err != nil {
		return o.reject(op, err)
	}

	objectName := o.namer.Name(fileName)
	ticket, snap := o.registry.Reset(uuid.NewString(), auth.UserID, objectName)
	o.publish(ctx, op, snap)
	log.Info().Str("asset_id", snap.ID).Str("user_id", auth.UserID).Str("object_name", objectName).
		Int64("size", u.Size).Str("content_type", contentType).Msg("uploading asset")

	started := time.Now()
	publicURL, err := o.store.Upload(ctx, o.bucket, objectName, body, u.Size, contentType)
	metrics.ObserveRemote("upload", started)
	if err != nil {
		return o.fail(ctx, op, ticket, err)
	}

	snap, err = o.registry.Complete(ticket, func(a *asset.Asset) {
		a.ObjectName = objectName
		a.PublicURL = publicURL
		a.Transcript = ""
		a.Summary = ""
		a.Stage = asset.StageUploaded
	})
	if err != nil {
		o.discardObject(ctx, objectName, "remove superseded upload failed")
		return o.stale(op, ticket, snap)
	}
	o.succeed(ctx, op, snap)
	return snap, nil
}

// RunTranscription transcribes the current object. Re-running is permitted
// and replaces the transcript, which also clears the summary.
func (o *Orchestrator) RunTranscription(ctx context.Context) (asset.Snapshot, error) {
	const op = "transcribe"
	o.opsWG.Add(1)
	defer o.opsWG.Done()

	ticket, _, err := o.registry.Begin(asset.StageTranscribing, func(a asset.Asset) error {
		if a.ObjectName == "" {
			return asset.ErrInvalidStage
		}
		return nil
	})
	if err != nil {
		return o.reject(op, err)
	}
	o.publish(ctx, op, o.registry.Snapshot())

	started := time.Now()
	transcript, err := o.processor.Transcribe(ctx, o.bucket, ticket.ObjectName)
	metrics.ObserveRemote("transcribe", started)
	if err != nil {
		return o.fail(ctx, op, ticket, err)
	}

	snap, err := o.registry.Complete(ticket, func(a *asset.Asset) {
		a.Transcript = transcript
		a.Summary = ""
		a.Stage = asset.StageTranscribed
	})
	if err != nil {
		return o.stale(op, ticket, snap)
	}
	o.succeed(ctx, op, snap)
	return snap, nil
}

// RunSummarization summarizes sourceText, or the current transcript when
// sourceText is blank. Calling it again overwrites the summary.
func (o *Orchestrator) RunSummarization(ctx context.Context, sourceText string) (asset.Snapshot, error) {
	const op = "summarize"
	o.opsWG.Add(1)
	defer o.opsWG.Done()

	sourceText = strings.TrimSpace(sourceText)
	ticket, current, err := o.registry.Begin(asset.StageSummarizing, func(a asset.Asset) error {
		if sourceText == "" && strings.TrimSpace(a.Transcript) == "" {
			return asset.ErrNoInputText
		}
		if a.ObjectName == "" {
			return asset.ErrNoActiveAsset
		}
		return nil
	})
	if err != nil {
		return o.reject(op, err)
	}
	o.publish(ctx, op, o.registry.Snapshot())

	text := sourceText
	if text == "" {
		text = current.Transcript
	}

	started := time.Now()
	summary, err := o.processor.Summarize(ctx, text)
	metrics.ObserveRemote("summarize", started)
	if err != nil {
		return o.fail(ctx, op, ticket, err)
	}

	snap, err := o.registry.Complete(ticket, func(a *asset.Asset) {
		a.Summary = summary
		a.Stage = asset.StageSummarized
	})
	if err != nil {
		return o.stale(op, ticket, snap)
	}
	o.succeed(ctx, op, snap)
	return snap, nil
}

// RenameAsset moves the current object to newBaseName.mp3. The store has no
// atomic rename, so the object is copied first and the original is deleted
// only after the copy is confirmed. A failed delete leaves an orphan and is
// reported as a warning; the rename itself still succeeds.
func (o *Orchestrator) RenameAsset(ctx context.Context, auth asset.AuthContext, newBaseName string) (RenameResult, error) {
	const op = "rename"
	o.opsWG.Add(1)
	defer o.opsWG.Done()

	if !auth.Authenticated() {
		snap, err := o.reject(op, asset.ErrUnauthenticated)
		return RenameResult{Asset: snap}, err
	}
	base := strings.TrimSpace(newBaseName)
	if base == "" || base == "." || base == ".." || strings.ContainsAny(base, `/\`) {
		snap, err := o.reject(op, asset.ErrInvalidName)
		return RenameResult{Asset: snap}, err
	}

	rt, err := o.registry.BeginRename()
	if err != nil {
		snap, rerr := o.reject(op, err)
		return RenameResult{Asset: snap}, rerr
	}
	destName := base + renameExtension
	if destName == rt.ObjectName {
		o.registry.AbortRename(rt)
		return RenameResult{Asset: o.registry.Snapshot()}, nil
	}
	logger := log.With().Str("op", op).Str("object_name", rt.ObjectName).Str("dest_name", destName).Logger()

	if !o.namer.Reserve(destName) {
		o.registry.AbortRename(rt)
		metrics.RecordOperation(op, "failed")
		logger.Warn().Msg("rename destination is being written by another rename")
		return RenameResult{Asset: o.registry.Snapshot()},
			asset.Remote(op, fmt.Errorf("%w: destination %s is being written", asset.ErrCopyFailed, destName))
	}
	defer o.namer.Release(destName)

	if err := o.copyConfirmed(ctx, rt.ObjectName, destName); err != nil {
		o.registry.AbortRename(rt)
		metrics.RecordOperation(op, "failed")
		logger.Warn().Err(err).Msg("rename copy failed, original kept")
		return RenameResult{Asset: o.registry.Snapshot()}, asset.Remote(op, fmt.Errorf("%w: %w", asset.ErrCopyFailed, err))
	}

	var warning error
	started := time.Now()
	err = o.store.Remove(ctx, o.bucket, []string{rt.ObjectName})
	metrics.ObserveRemote("remove", started)
	if err != nil {
		warning = asset.Compensation(op, fmt.Errorf("%w: %s: %w", asset.ErrOrphanedSourceObject, rt.ObjectName, err))
		metrics.OrphanedObjects.Inc()
		logger.Warn().Err(err).Str("orphan_object", rt.ObjectName).Msg("rename left source object behind")
	}

	snap, err := o.registry.FinishRename(rt, destName, o.store.PublicURL(o.bucket, destName))
	if err != nil {
		metrics.RecordOperation(op, "stale")
		logger.Debug().Msg("rename finished after asset was superseded")
		o.discardObject(ctx, destName, "remove copy of superseded asset failed")
		return RenameResult{Asset: snap, Warning: warning}, asset.Stale(op)
	}
	if warning != nil {
		metrics.RecordOperation(op, "warning")
	} else {
		metrics.RecordOperation(op, "ok")
	}
	o.publish(ctx, op, snap)
	logger.Info().Str("public_url", snap.PublicURL).Msg("asset renamed")
	return RenameResult{Asset: snap, Warning: warning}, nil
}

// copyConfirmed copies source to dest and, when the store can tell, checks
// that dest did not exist before and does exist afterwards.
func (o *Orchestrator) copyConfirmed(ctx context.Context, source, dest string) error {
	statter, canStat := o.store.(storage.Statter)
	if canStat {
		err := statter.Stat(ctx, o.bucket, dest)
		switch {
		case err == nil:
			return fmt.Errorf("destination %s already exists", dest)
		case !errors.Is(err, storage.ErrObjectNotFound):
			return err
		}
	}

	started := time.Now()
	err := o.store.Copy(ctx, o.bucket, source, dest)
	metrics.ObserveRemote("copy", started)
	if err != nil {
		return err
	}
	if canStat {
		if err := statter.Stat(ctx, o.bucket, dest); err != nil {
			return fmt.Errorf("confirm copy: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) reject(op string, err error) (asset.Snapshot, error) {
	metrics.RecordOperation(op, "rejected")
	log.Debug().Str("op", op).Err(err).Msg("operation rejected")
	return o.registry.Snapshot(), asset.Validation(op, err)
}

func (o *Orchestrator) fail(ctx context.Context, op string, ticket asset.Ticket, cause error) (asset.Snapshot, error) {
	snap, err := o.registry.Complete(ticket, func(a *asset.Asset) {
		a.Stage = asset.StageFailed
		a.LastError = cause.Error()
	})
	if err != nil {
		return o.stale(op, ticket, snap)
	}
	metrics.RecordOperation(op, "failed")
	log.Warn().Str("op", op).Str("asset_id", snap.ID).Str("object_name", ticket.ObjectName).Err(cause).Msg("remote call failed")
	o.publish(ctx, op, snap)
	return snap, asset.Remote(op, cause)
}

func (o *Orchestrator) succeed(ctx context.Context, op string, snap asset.Snapshot) {
	metrics.RecordOperation(op, "ok")
	log.Info().Str("op", op).Str("asset_id", snap.ID).Str("object_name", snap.ObjectName).
		Str("stage", string(snap.Stage)).Msg("stage completed")
	o.publish(ctx, op, snap)
}

func (o *Orchestrator) stale(op string, ticket asset.Ticket, snap asset.Snapshot) (asset.Snapshot, error) {
	metrics.RecordOperation(op, "stale")
	log.Debug().Str("op", op).Str("object_name", ticket.ObjectName).Msg("discarding stale response")
	return snap, asset.Stale(op)
}

// discardObject removes an object written for an asset that was superseded
// while the write was in flight. A failed removal is counted as an orphan.
func (o *Orchestrator) discardObject(ctx context.Context, objectName, failMsg string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := o.store.Remove(cctx, o.bucket, []string{objectName}); err != nil {
		metrics.OrphanedObjects.Inc()
		log.Warn().Err(err).Str("orphan_object", objectName).Msg(failMsg)
	}
}

// publish delivers snap unless a newer version was already published, so
// observers see versions in increasing order.
func (o *Orchestrator) publish(ctx context.Context, op string, snap asset.Snapshot) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()
	if snap.Version <= o.published {
		log.Debug().Str("op", op).Uint64("version", snap.Version).Msg("skipping superseded stage event")
		return
	}
	o.published = snap.Version

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.publisher.Publish(pctx, events.Event{Type: events.StageChanged, Op: op, Asset: snap}); err != nil {
		log.Warn().Err(err).Str("op", op).Str("asset_id", snap.ID).Msg("publish stage event failed")
	}
}

// Namer assigns collision resistant object names of the form
// {unixMillis}-{fileName}. Timestamps never repeat for one Namer. It also
// reserves rename destinations so that two renames sharing the Namer never
// write the same object at once.
type Namer struct {
	mu       sync.Mutex
	last     int64
	now      func() time.Time
	reserved map[string]struct{}
}

func NewNamer(now func() time.Time) *Namer {
	if now == nil {
		now = time.Now
	}
	return &Namer{now: now, reserved: make(map[string]struct{})}
}

// Reserve claims objectName for a pending write. It reports false when the
// name is already claimed.
func (n *Namer) Reserve(objectName string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.reserved[objectName]; ok {
		return false
	}
	n.reserved[objectName] = struct{}{}
	return true
}

func (n *Namer) Release(objectName string) {
	n.mu.Lock()
	delete(n.reserved, objectName)
	n.mu.Unlock()
}

func (n *Namer) Name(fileName string) string {
	n.mu.Lock()
	ms := n.now().UnixMilli()
	if ms <= n.last {
		ms = n.last + 1
	}
	n.last = ms
	n.mu.Unlock()
	return fmt.Sprintf("%d-%s", ms, fileName)
}
