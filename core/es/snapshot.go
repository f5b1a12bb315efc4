package es

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/harborward/theseus-go/ports/kv"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotChecksum marks a stored snapshot whose payload no longer
	// matches its checksum. Callers treat it like a missing snapshot and fall
	// back to full replay; the log is always sufficient.
	ErrSnapshotChecksum = errors.New("snapshot checksum mismatch")
)

const snapshotEncodingJSON = "json"

// Snapshot is a materialized aggregate state at a known position. It is a
// pure optimization: deleting every snapshot loses nothing, since the state
// is always recomputable from the event log.
type Snapshot struct {
	SnapshotID    string    `json:"snapshot_id"`
	ObjType       string    `json:"obj_type"`
	ObjID         string    `json:"obj_id"`
	ObjVersion    Version   `json:"obj_version"`
	StreamSeq     uint64    `json:"stream_seq"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion int       `json:"schema_version"`
	Encoding      string    `json:"encoding"`
	Checksum      []byte    `json:"checksum"`
	Data          []byte    `json:"data"`
}

func (s Snapshot) Validate() error {
	if s.SnapshotID == "" {
		return errors.New("snapshot id is empty")
	}
	if s.ObjType == "" || s.ObjID == "" {
		return errors.New("snapshot object identity is empty")
	}
	if s.ObjVersion == 0 {
		return errors.New("snapshot of an uninitialized aggregate")
	}
	if s.SchemaVersion < 1 {
		return errors.New("snapshot schema version must be >= 1")
	}
	return nil
}

func (s Snapshot) verify() error {
	sum := blake2b.Sum256(s.Data)
	if !bytes.Equal(sum[:], s.Checksum) {
		return fmt.Errorf("%w: %s/%s@%d", ErrSnapshotChecksum, s.ObjType, s.ObjID, s.ObjVersion)
	}
	return nil
}

// Snapshottable lets an aggregate own its snapshot representation. Without
// it the repository falls back to plain JSON of the aggregate's exported
// state.
type Snapshottable interface {
	Snapshot() ([]byte, error)
	RestoreSnapshot(data []byte) error
}

// SnapshotSchemaVersioned pins the snapshot layout version. Bump it when the
// state shape changes incompatibly; older snapshots are then skipped instead
// of restored wrong.
type SnapshotSchemaVersioned interface {
	SnapshotSchemaVersion() int
}

func snapshotSchemaVersionOf(agg Aggregate) int {
	if v, ok := any(agg).(SnapshotSchemaVersioned); ok {
		return v.SnapshotSchemaVersion()
	}
	return 1
}

// Snapshotter stores at most the latest snapshot per aggregate. Losing or
// corrupting one is never fatal.
type Snapshotter interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Latest(ctx context.Context, objType, objID string) (Snapshot, error)
	Delete(ctx context.Context, objType, objID string) error
}

// TakeSnapshot captures agg's current state and persists it with a
// BLAKE2b-256 checksum over the payload.
func TakeSnapshot(ctx context.Context, sn Snapshotter, agg Aggregate) error {
	if agg.Version() == 0 {
		return errors.New("refusing to snapshot an uninitialized aggregate")
	}
	data, err := captureState(agg)
	if err != nil {
		return fmt.Errorf("capture state: %w", err)
	}
	sum := blake2b.Sum256(data)
	s := Snapshot{
		SnapshotID:    gonanoid.Must(),
		ObjType:       agg.AggregateType(),
		ObjID:         agg.ID(),
		ObjVersion:    agg.Version(),
		StreamSeq:     agg.Seq(),
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: snapshotSchemaVersionOf(agg),
		Encoding:      snapshotEncodingJSON,
		Checksum:      sum[:],
		Data:          data,
	}
	if err := s.Validate(); err != nil {
		return err
	}
	return sn.Save(ctx, s)
}

// ApplySnapshot restores agg from its latest stored snapshot. The snapshot
// is verified before use; a checksum or schema mismatch surfaces as an error
// and leaves agg untouched.
func ApplySnapshot(ctx context.Context, sn Snapshotter, agg Aggregate) error {
	s, err := sn.Latest(ctx, agg.AggregateType(), agg.ID())
	if err != nil {
		return err
	}
	if err := s.verify(); err != nil {
		return err
	}
	if want := snapshotSchemaVersionOf(agg); s.SchemaVersion != want {
		return fmt.Errorf(
			"snapshot schema version %d does not match current %d", s.SchemaVersion, want,
		)
	}
	if err := restoreState(agg, s.Data); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	agg.setVersion(s.ObjVersion)
	agg.setSeq(s.StreamSeq)
	return nil
}

// === in-memory ===

type InMemorySnapshotter struct {
	store *kv.MemStore
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{store: kv.NewMemStore()}
}

func (m *InMemorySnapshotter) Save(ctx context.Context, snapshot Snapshot) error {
	return kv.Put(ctx, m.store, snapshotKey(snapshot.ObjType, snapshot.ObjID), snapshot)
}

func (m *InMemorySnapshotter) Latest(ctx context.Context, objType, objID string) (Snapshot, error) {
	s, err := kv.Get[Snapshot](ctx, m.store, snapshotKey(objType, objID))
	if errors.Is(err, kv.ErrNotFound) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s, err
}

func (m *InMemorySnapshotter) Delete(ctx context.Context, objType, objID string) error {
	return m.store.Delete(ctx, snapshotKey(objType, objID))
}

var _ Snapshotter = (*InMemorySnapshotter)(nil)

// === kv-backed ===

// KeyValueSnapshotter persists snapshots in any kv.Store, one key per
// aggregate, newest wins.
type KeyValueSnapshotter struct {
	store kv.Store
}

func NewKeyValueSnapshotter(store kv.Store) *KeyValueSnapshotter {
	return &KeyValueSnapshotter{store: store}
}

func (k *KeyValueSnapshotter) Save(ctx context.Context, snapshot Snapshot) error {
	return kv.Put(ctx, k.store, snapshotKey(snapshot.ObjType, snapshot.ObjID), snapshot)
}

func (k *KeyValueSnapshotter) Latest(ctx context.Context, objType, objID string) (Snapshot, error) {
	s, err := kv.Get[Snapshot](ctx, k.store, snapshotKey(objType, objID))
	if errors.Is(err, kv.ErrNotFound) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s, err
}

func (k *KeyValueSnapshotter) Delete(ctx context.Context, objType, objID string) error {
	return k.store.Delete(ctx, snapshotKey(objType, objID))
}

var _ Snapshotter = (*KeyValueSnapshotter)(nil)

func snapshotKey(objType, objID string) string {
	return "snapshot/" + objType + "/" + objID
}
