package asset

import (
	"sync"
	"time"
)

// Ticket identifies one stage operation. It is handed out when the operation
// starts and presented again when its remote call completes.
type Ticket struct {
	Generation uint64
	Token      uint64
	ObjectName string
	PrevStage  Stage
}

// RenameTicket identifies one in-flight rename.
type RenameTicket struct {
	Generation uint64
	ObjectName string
}

// Registry holds the single active asset of an orchestrator.
//
// generation changes whenever the object identity changes (new submission or
// rename). token changes whenever a stage operation starts. A completion is
// applied only if both still match the values captured in its Ticket.
type Registry struct {
	mu         sync.RWMutex
	current    Asset
	generation uint64
	token      uint64
	version    uint64
	renaming   bool
	renameGen  uint64
	now        func() time.Time
}

// NewRegistry returns an idle registry.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		current: Asset{Stage: StageIdle, UpdatedAt: now()},
		now:     now,
	}
}

// Snapshot returns the current projection.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Reset discards the previous asset and starts a new submission in the
// uploading stage. Any ticket issued before the call becomes stale.
func (r *Registry) Reset(id, owner, objectName string) (Ticket, Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	r.token++
	r.current = Asset{
		ID:    id,
		Owner: owner,
		Stage: StageUploading,
	}
	r.touchLocked()
	return Ticket{
		Generation: r.generation,
		Token:      r.token,
		ObjectName: objectName,
		PrevStage:  StageIdle,
	}, r.snapshotLocked()
}

// Begin moves the asset into an in-flight stage after check accepts the
// current state. check runs under the registry lock and must not block.
func (r *Registry) Begin(to Stage, check func(Asset) error) (Ticket, Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if check != nil {
		if err := check(r.current); err != nil {
			return Ticket{}, r.current, err
		}
	}
	if r.current.Stage.InFlight() {
		return Ticket{}, r.current, ErrOperationInProgress
	}
	if !CanTransition(r.current.Stage, to) {
		return Ticket{}, r.current, ErrInvalidStage
	}

	r.token++
	t := Ticket{
		Generation: r.generation,
		Token:      r.token,
		ObjectName: r.current.ObjectName,
		PrevStage:  r.current.Stage,
	}
	r.current.Stage = to
	r.current.LastError = ""
	r.touchLocked()
	return t, r.current, nil
}

// Complete applies mutate if t still refers to the current identity and is
// the latest stage operation. A ticket that only lost its identity to a
// rename rolls the stage back to where it started so the asset does not stay
// in flight forever.
func (r *Registry) Complete(t Ticket, mutate func(*Asset)) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.Token != r.token {
		return r.snapshotLocked(), ErrStaleResponse
	}
	if t.Generation != r.generation {
		r.current.Stage = t.PrevStage
		r.touchLocked()
		return r.snapshotLocked(), ErrStaleResponse
	}
	mutate(&r.current)
	r.touchLocked()
	return r.snapshotLocked(), nil
}

// BeginRename reserves the rename slot for the current object. A rename
// still running for a superseded generation does not hold the slot.
func (r *Registry) BeginRename() (RenameTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current.ObjectName == "" {
		return RenameTicket{}, ErrNoActiveAsset
	}
	if r.renaming && r.renameGen == r.generation {
		return RenameTicket{}, ErrRenameInProgress
	}
	r.renaming = true
	r.renameGen = r.generation
	return RenameTicket{Generation: r.generation, ObjectName: r.current.ObjectName}, nil
}

// AbortRename releases the rename slot without touching the asset.
func (r *Registry) AbortRename(t RenameTicket) {
	r.mu.Lock()
	r.releaseRenameLocked(t)
	r.mu.Unlock()
}

// releaseRenameLocked frees the slot only if t still owns it.
func (r *Registry) releaseRenameLocked(t RenameTicket) {
	if r.renaming && r.renameGen == t.Generation {
		r.renaming = false
	}
}

// FinishRename releases the rename slot and moves the asset to its new
// identity, unless a newer submission replaced it in the meantime.
func (r *Registry) FinishRename(t RenameTicket, objectName, publicURL string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseRenameLocked(t)
	if t.Generation != r.generation || t.ObjectName != r.current.ObjectName {
		return r.snapshotLocked(), ErrStaleResponse
	}
	r.generation++
	r.current.ObjectName = objectName
	r.current.PublicURL = publicURL
	r.touchLocked()
	return r.snapshotLocked(), nil
}

func (r *Registry) touchLocked() {
	r.version++
	r.current.UpdatedAt = r.now()
}

func (r *Registry) snapshotLocked() Snapshot {
	a := r.current
	return Snapshot{
		ID:         a.ID,
		Owner:      a.Owner,
		Stage:      a.Stage,
		ObjectName: a.ObjectName,
		PublicURL:  a.PublicURL,
		Transcript: a.Transcript,
		Summary:    a.Summary,
		LastError:  a.LastError,
		UpdatedAt:  a.UpdatedAt,
		Version:    r.version,
	}
}
