// Package saver coalesces rapid local mutations into infrequent,
// diff-minimal writes against the user document. Network writes are the
// expensive resource here: a burst of UI edits inside the quiet period
// produces exactly one flush, and a flush only sends top-level fields that
// actually changed since the last acknowledged write.
package saver

import (
	"context"
	"sync"
	"time"

	"rallyPoint/gateway"
	"rallyPoint/model"
	"rallyPoint/services/media"

	"github.com/fatih/structs"
	"github.com/rs/zerolog/log"
)

const userCollection = "users"

// DefaultQuietPeriod is the debounce interval between the first queued
// request and the flush.
const DefaultQuietPeriod = 250 * time.Millisecond

// Result is the outcome every caller of RequestSave receives for the cycle
// their request joined.
type Result struct {
	Success       bool
	Skipped       bool
	Cancelled     bool
	ChangedFields []string
	Err           error
}

// Source supplies the scheduler with the state to persist. PersistedShape
// returns the canonical record plus any top-level raw fields still scheduled
// for deletion (legacy schema cleanup); MarkCleanupPersisted is invoked once
// those deletions have landed so they stop riding along on later saves.
type Source interface {
	UID() string
	PersistedShape() (*model.UserRecord, []string)
	MarkCleanupPersisted()
}

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	QuietPeriod time.Duration
	Now         func() time.Time
}

type phase int

const (
	idle phase = iota
	queued
	flushing
)

// Scheduler is an explicit Idle → Queued → Flushing state machine. At most
// one flush is in flight; requests arriving during a flight queue the next
// cycle, which diffs against the baseline the in-flight flush establishes.
type Scheduler struct {
	gw     gateway.Gateway
	media  *media.Service
	source Source
	cfg    Config

	mu    sync.Mutex
	phase phase
	timer *time.Timer

	subs     []chan Result // callers of the current cycle
	nextSubs []chan Result // callers that arrived mid-flush
	nextNow  bool          // the queued-behind cycle was requested immediate

	lastAck   *model.UserRecord
	lastMedia map[string]model.EventMediaEntry
}

func New(gw gateway.Gateway, mediaSvc *media.Service, source Source, cfg Config) *Scheduler {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{gw: gw, media: mediaSvc, source: source, cfg: cfg}
}

// SetBaseline installs the last-acknowledged snapshot, typically right after
// sign-in load so the first save diffs against what the store already holds.
func (s *Scheduler) SetBaseline(rec *model.UserRecord, mediaMap map[string]model.EventMediaEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAck = rec.Clone()
	s.lastMedia = model.CloneMedia(mediaMap)
}

// RequestSave queues a save and returns a channel that delivers the cycle's
// single Result. Every caller whose request lands in the same cycle receives
// the same outcome. immediate=true flushes without waiting out the quiet
// period; a non-immediate request never restarts an already-running timer.
func (s *Scheduler) RequestSave(ctx context.Context, immediate bool) <-chan Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Result, 1)
	switch s.phase {
	case idle:
		s.subs = append(s.subs, ch)
		s.phase = queued
		if immediate {
			s.startFlushLocked(ctx)
		} else {
			s.timer = time.AfterFunc(s.cfg.QuietPeriod, func() { s.fire(ctx) })
		}
	case queued:
		s.subs = append(s.subs, ch)
		if immediate {
			s.stopTimerLocked()
			s.startFlushLocked(ctx)
		}
	case flushing:
		s.nextSubs = append(s.nextSubs, ch)
		s.nextNow = s.nextNow || immediate
	}
	return ch
}

// Cancel drops the queued cycle before its flush starts, resolving its
// callers with a cancelled result. An in-flight flush cannot be cancelled;
// a cycle queued behind one can.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case queued:
		s.stopTimerLocked()
		s.resolveLocked(&s.subs, Result{Cancelled: true})
		s.phase = idle
	case flushing:
		s.resolveLocked(&s.nextSubs, Result{Cancelled: true})
		s.nextNow = false
	}
}

// fire is the timer callback. The queued check guards against a lost race
// with an immediate flush or a cancel.
func (s *Scheduler) fire(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != queued {
		return
	}
	s.startFlushLocked(ctx)
}

func (s *Scheduler) startFlushLocked(ctx context.Context) {
	s.phase = flushing
	go s.flush(ctx)
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) resolveLocked(subs *[]chan Result, res Result) {
	for _, ch := range *subs {
		ch <- res
		close(ch)
	}
	*subs = nil
}

func (s *Scheduler) flush(ctx context.Context) {
	res, next, nextMedia := s.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Success {
		// Baseline only advances on success so a failed flush retries the
		// exact same diff.
		s.lastAck = next
		s.lastMedia = nextMedia
	}
	s.resolveLocked(&s.subs, res)

	if len(s.nextSubs) > 0 {
		s.subs, s.nextSubs = s.nextSubs, nil
		s.phase = queued
		if s.nextNow {
			s.nextNow = false
			s.startFlushLocked(ctx)
		} else {
			s.timer = time.AfterFunc(s.cfg.QuietPeriod, func() { s.fire(ctx) })
		}
	} else {
		s.phase = idle
	}
}

// run computes the diff and performs the network writes. Returns the result
// plus the baseline to install on success.
func (s *Scheduler) run(ctx context.Context) (Result, *model.UserRecord, map[string]model.EventMediaEntry) {
	current, deleteFields := s.source.PersistedShape()
	current = current.Clone()

	sideRecords := s.media.SideRecordsEnabled()
	var nextMedia map[string]model.EventMediaEntry
	if sideRecords {
		// Image payloads travel through the side-record path; the main
		// document carries stripped events.
		nextMedia = media.ExtractMedia(current.Events)
		current.Events = media.StripMedia(current.Events)
	}

	s.mu.Lock()
	prev := s.lastAck
	prevMedia := s.lastMedia
	s.mu.Unlock()
	if prev == nil {
		prev = &model.UserRecord{}
	}

	payload := map[string]any{}
	changed := make([]string, 0, 6)
	if !model.PlayersEqual(current.PlayerDatabase, prev.PlayerDatabase) {
		payload["playerDatabase"] = current.PlayerDatabase
		changed = append(changed, "playerDatabase")
	}
	if !model.EventsEqual(current.Events, prev.Events) {
		payload["events"] = current.Events
		changed = append(changed, "events")
	}
	if current.UserProfile != prev.UserProfile {
		payload["userProfile"] = structs.Map(current.UserProfile)
		changed = append(changed, "userProfile")
	}
	if current.AllianceID != prev.AllianceID {
		payload["allianceId"] = current.AllianceID
		changed = append(changed, "allianceId")
	}
	if current.AllianceName != prev.AllianceName {
		payload["allianceName"] = current.AllianceName
		changed = append(changed, "allianceName")
	}
	if current.PlayerSource != prev.PlayerSource {
		payload["playerSource"] = current.PlayerSource
		changed = append(changed, "playerSource")
	}

	mediaChanged := sideRecords && !model.MediaEqual(nextMedia, prevMedia)

	if len(changed) == 0 && !mediaChanged && len(deleteFields) == 0 {
		return Result{Success: true, Skipped: true}, prev, prevMedia
	}

	if len(changed) > 0 || len(deleteFields) > 0 {
		payload["playerCount"] = len(current.PlayerDatabase)
		payload["lastSavedAt"] = s.cfg.Now().UnixMilli()
		err := s.gw.Batch(ctx, []gateway.Write{{
			Path:         userCollection + "/" + s.source.UID(),
			Merge:        payload,
			DeleteFields: deleteFields,
		}})
		if err != nil {
			log.Error().Err(err).Msg("user document save failed")
			return Result{Err: err}, nil, nil
		}
		if len(deleteFields) > 0 {
			s.source.MarkCleanupPersisted()
		}
	}

	if mediaChanged {
		ok, err := s.media.DiffWrite(ctx, s.source.UID(), prevMedia, nextMedia)
		if err != nil {
			return Result{Err: err}, nil, nil
		}
		if !ok {
			// Denied: the mode flipped to inline. Keep the old media
			// baseline (side-records are untouched) so the next flush
			// detects the inline image fields as changed and rewrites them
			// into the main document.
			nextMedia = prevMedia
		}
	}

	return Result{Success: true, ChangedFields: changed}, current, nextMedia
}
