// Package directory holds the ordered set of discussions a user
// participates in, each annotated with its most recent message for sidebar
// display and selection.
package directory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/diskuss-client/internal/models"
	"github.com/noah-isme/diskuss-client/internal/protocol"
)

// ErrNotFound indicates the referenced discussion is absent from the cache.
var ErrNotFound = errors.New("discussion not found")

// Emitter is the subset of the connection manager the directory needs.
type Emitter interface {
	Emit(event string, payload any) error
}

type entry struct {
	discussion models.Discussion
	seq        int
}

// Directory exclusively owns the session's discussion collection. All state
// is mutex-guarded; protocol events arrive one at a time on the dispatch
// goroutine while selection happens on the caller's.
type Directory struct {
	emitter Emitter
	logger  zerolog.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	entries  map[string]*entry
	nextSeq  int
	activeID string
	loading  bool
	loaded   bool
}

// New constructs a directory bound to the shared connection handle.
func New(emitter Emitter, logger zerolog.Logger) *Directory {
	return &Directory{
		emitter: emitter,
		logger:  logger.With().Str("component", "directory").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/diskuss-client/internal/directory"),
		entries: make(map[string]*entry),
	}
}

// Load requests the full discussion set. The eventual snapshot replaces the
// cached set wholesale; there is no incremental merge.
func (d *Directory) Load(ctx context.Context) error {
	_, span := d.tracer.Start(ctx, "directory.load")
	defer span.End()

	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()

	if err := d.emitter.Emit(protocol.EventGetDiscussions, struct{}{}); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ApplySnapshot replaces the entire cached set. Insertion order follows the
// snapshot; the active discussion survives only if still present.
func (d *Directory) ApplySnapshot(discussions []models.Discussion) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries = make(map[string]*entry, len(discussions))
	d.nextSeq = 0
	for _, disc := range discussions {
		d.entries[disc.ID] = &entry{discussion: disc, seq: d.nextSeq}
		d.nextSeq++
	}

	if _, ok := d.entries[d.activeID]; !ok {
		d.activeID = ""
	}

	d.loading = false
	d.loaded = true
	d.logger.Debug().Int("discussions", len(discussions)).Msg("snapshot applied")
}

// Select marks a discussion active, deactivating any previous one.
func (d *Directory) Select(id string) (models.Discussion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok {
		return models.Discussion{}, ErrNotFound
	}
	d.activeID = id
	return e.discussion, nil
}

// Active returns the currently selected discussion, if any.
func (d *Directory) Active() (models.Discussion, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[d.activeID]
	if !ok {
		return models.Discussion{}, false
	}
	return e.discussion, true
}

// UpsertFromMessage refreshes a discussion's last message. The update is
// monotonic: an older message never regresses the cached one. Unknown
// discussions are ignored; a later Load surfaces them.
func (d *Directory) UpsertFromMessage(ctx context.Context, msg models.Message) {
	_, span := d.tracer.Start(ctx, "directory.upsert",
		trace.WithAttributes(attribute.String("discussion_id", msg.DiscussionID)))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[msg.DiscussionID]
	if !ok {
		d.logger.Debug().Str("discussion_id", msg.DiscussionID).Msg("ignoring message for unknown discussion")
		return
	}

	last := e.discussion.LastMessage
	if last != nil && msg.Timestamp.Before(last.Timestamp) {
		return
	}
	m := msg
	e.discussion.LastMessage = &m
}

// Ordered exposes the discussions in presentation order: last message
// timestamp descending when present, otherwise snapshot insertion order,
// with the discussion id breaking ties. Deterministic and stable.
func (d *Directory) Ordered() []models.Discussion {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.Discussion, 0, len(d.entries))
	seqs := make(map[string]int, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.discussion)
		seqs[e.discussion.ID] = e.seq
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastMessage != nil && b.LastMessage != nil:
			if !a.LastMessage.Timestamp.Equal(b.LastMessage.Timestamp) {
				return a.LastMessage.Timestamp.After(b.LastMessage.Timestamp)
			}
			return a.ID < b.ID
		case a.LastMessage != nil:
			return true
		case b.LastMessage != nil:
			return false
		default:
			return seqs[a.ID] < seqs[b.ID]
		}
	})
	return out
}

// OnReconnect re-issues the directory's last request after the connection
// reopens. In-flight requests were abandoned by the close.
func (d *Directory) OnReconnect(ctx context.Context) {
	d.mu.Lock()
	pending := d.loading || d.loaded
	d.mu.Unlock()

	if !pending {
		return
	}
	if err := d.Load(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("failed to reload discussions after reconnect")
	}
}
