package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"insightxr/internal/asset"
	"insightxr/internal/events"
	"insightxr/internal/storage"
)

const testBucket = "user_videos"

var (
	mp4Payload = append([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1mp41"), bytes.Repeat([]byte{0}, 64)...)
	mp3Payload = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x21"), bytes.Repeat([]byte{0xff}, 64)...)
	testUser   = asset.AuthContext{UserID: "user-1", Email: "user@example.org"}
)

// fakeStore wraps the memory store with hooks that run before each call.
// Hooks are set during test setup only.
type fakeStore struct {
	*storage.Memory
	onUpload func(objectName string) error
	onCopy   func(source, dest string) error
	onRemove func(names []string) error

	mu      sync.Mutex
	uploads int
	copies  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{Memory: storage.NewMemory("https://cdn.example.org/objects")}
}

func (f *fakeStore) Upload(ctx context.Context, bucket, objectName string, body io.Reader, size int64, contentType string) (string, error) {
	f.mu.Lock()
	f.uploads++
	f.mu.Unlock()
	if f.onUpload != nil {
		if err := f.onUpload(objectName); err != nil {
			return "", err
		}
	}
	return f.Memory.Upload(ctx, bucket, objectName, body, size, contentType)
}

func (f *fakeStore) Copy(ctx context.Context, bucket, source, dest string) error {
	f.mu.Lock()
	f.copies++
	f.mu.Unlock()
	if f.onCopy != nil {
		if err := f.onCopy(source, dest); err != nil {
			return err
		}
	}
	return f.Memory.Copy(ctx, bucket, source, dest)
}

func (f *fakeStore) Remove(ctx context.Context, bucket string, names []string) error {
	if f.onRemove != nil {
		if err := f.onRemove(names); err != nil {
			return err
		}
	}
	return f.Memory.Remove(ctx, bucket, names)
}

type fakeProcessor struct {
	transcribe func(ctx context.Context, bucket, objectName string) (string, error)
	summarize  func(ctx context.Context, text string) (string, error)

	mu          sync.Mutex
	transcribed []string
	summarized  []string
}

func (p *fakeProcessor) Transcribe(ctx context.Context, bucket, objectName string) (string, error) {
	p.mu.Lock()
	p.transcribed = append(p.transcribed, bucket+"/"+objectName)
	p.mu.Unlock()
	if p.transcribe != nil {
		return p.transcribe(ctx, bucket, objectName)
	}
	return "hello world", nil
}

func (p *fakeProcessor) Summarize(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	p.summarized = append(p.summarized, text)
	p.mu.Unlock()
	if p.summarize != nil {
		return p.summarize(ctx, text)
	}
	return "Greeting.", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) stages() []asset.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]asset.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Asset.Stage)
	}
	return out
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeStore, *fakeProcessor) {
	t.Helper()
	store := newFakeStore()
	proc := &fakeProcessor{}
	o := New(store, proc, Options{
		Bucket:            testBucket,
		AllowedExtensions: []string{".mp4", ".mp3", ".wav"},
		MaxUploadBytes:    1 << 20,
		Clock:             fixedClock(1700000000000),
	})
	return o, store, proc
}

func mp4Upload(name string) Upload {
	return Upload{Name: name, Size: int64(len(mp4Payload)), ContentType: "video/mp4", Body: bytes.NewReader(mp4Payload)}
}

func mustSubmit(t *testing.T, o *Orchestrator, name string) asset.Snapshot {
	t.Helper()
	snap, err := o.SubmitAsset(context.Background(), testUser, mp4Upload(name))
	if err != nil {
		t.Fatalf("submit %s: %v", name, err)
	}
	return snap
}

func expectKind(t *testing.T, err error, kind asset.Kind, sentinel error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error wrapping %v, got nil", kind, sentinel)
	}
	if got := asset.KindOf(err); got != kind {
		t.Fatalf("expected kind %s, got %q (%v)", kind, got, err)
	}
	if sentinel != nil && !errors.Is(err, sentinel) {
		t.Fatalf("expected error wrapping %v, got %v", sentinel, err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
