// Package session is the explicit per-session service object tying the sync
// engine together: it owns the in-memory user record, implements the save
// scheduler's state source, and delivers auth/data events to the UI shell in
// a defined order (auth-change always precedes data-loaded for the same
// session).
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rallyPoint/gateway"
	"rallyPoint/model"
	"rallyPoint/services/alliance"
	"rallyPoint/services/media"
	"rallyPoint/services/saver"
	"rallyPoint/services/schema"

	"github.com/rs/zerolog/log"
)

const userCollection = "users"

// AuthStateHandler is notified on sign-in and sign-out.
type AuthStateHandler func(signedIn bool, principal alliance.Principal)

// DataLoadedHandler fires once the normalized record is available after
// sign-in.
type DataLoadedHandler func(players map[string]model.PlayerEntry)

// AllianceChangedHandler fires on alliance document updates.
type AllianceChangedHandler func()

// Session is constructed fresh per signed-in session (and per test); there
// is no module-level state.
type Session struct {
	gw          gateway.Gateway
	mediaSvc    *media.Service
	allianceSvc alliance.Service

	scheduler *saver.Scheduler

	mu             sync.Mutex
	signedIn       bool
	principal      alliance.Principal
	state          *model.UserRecord
	pendingDeletes []string

	onAuth     []AuthStateHandler
	onData     []DataLoadedHandler
	onAlliance []AllianceChangedHandler
}

var _ saver.Source = (*Session)(nil)

// ErrNotSignedIn is returned by operations that need a signed-in principal.
var ErrNotSignedIn = errors.New("not signed in")

func New(gw gateway.Gateway, mediaSvc *media.Service, allianceSvc alliance.Service, cfg saver.Config) *Session {
	s := &Session{
		gw:          gw,
		mediaSvc:    mediaSvc,
		allianceSvc: allianceSvc,
	}
	s.scheduler = saver.New(gw, mediaSvc, s, cfg)
	return s
}

// OnAuthStateChange registers a sign-in/out observer.
func (s *Session) OnAuthStateChange(fn AuthStateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAuth = append(s.onAuth, fn)
}

// OnDataLoaded registers a data observer.
func (s *Session) OnDataLoaded(fn DataLoadedHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = append(s.onData, fn)
}

// OnAllianceDataChanged registers an alliance update observer.
func (s *Session) OnAllianceDataChanged(fn AllianceChangedHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAlliance = append(s.onAlliance, fn)
}

// SignIn loads, normalizes and adopts the principal's document. Observers
// fire synchronously: auth-change first, data-loaded second. Normalization
// corrections and legacy-field cleanup are queued for the next save rather
// than written inline, so sign-in costs at most one read per collection.
func (s *Session) SignIn(ctx context.Context, principal alliance.Principal) error {
	if principal.UID == "" {
		return fmt.Errorf("principal missing uid")
	}

	var raw map[string]any
	doc, err := s.gw.Get(ctx, userCollection+"/"+principal.UID)
	if err != nil && !gateway.IsNotFound(err) {
		return fmt.Errorf("failed to load user document: %w", err)
	}
	if err == nil {
		raw = doc.Data
	}

	rec, mig := schema.Normalize(raw)
	mergedEvents, mediaMap, err := s.mediaSvc.LoadMerge(ctx, principal.UID, rec.Events)
	if err != nil {
		return err
	}
	rec.Events = mergedEvents

	s.mu.Lock()
	s.signedIn = true
	s.principal = principal
	s.state = rec
	s.pendingDeletes = mig.DeleteTopLevelFields
	authFns := append([]AuthStateHandler(nil), s.onAuth...)
	dataFns := append([]DataLoadedHandler(nil), s.onData...)
	players := model.ClonePlayers(rec.PlayerDatabase)
	s.mu.Unlock()

	// The baseline is the document as stored, not the normalized view, so
	// the queued save writes exactly the corrections normalization made.
	baseline := &model.UserRecord{}
	if raw != nil {
		if err := (gateway.Doc{Data: raw}).DataTo(baseline); err != nil {
			baseline = &model.UserRecord{}
		}
	}
	s.scheduler.SetBaseline(baseline, mediaMap)

	for _, fn := range authFns {
		fn(true, principal)
	}
	for _, fn := range dataFns {
		fn(players)
	}

	if mig.Changed || len(mig.DeleteTopLevelFields) > 0 {
		s.scheduler.RequestSave(ctx, false)
	}
	return nil
}

// SignOut cancels queued work and clears the session state.
func (s *Session) SignOut() {
	s.scheduler.Cancel()
	s.mu.Lock()
	s.signedIn = false
	principal := s.principal
	s.principal = alliance.Principal{}
	s.state = nil
	s.pendingDeletes = nil
	authFns := append([]AuthStateHandler(nil), s.onAuth...)
	s.mu.Unlock()

	for _, fn := range authFns {
		fn(false, principal)
	}
}

// Reset clears observers as well; used between tests and full re-inits.
func (s *Session) Reset() {
	s.scheduler.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedIn = false
	s.principal = alliance.Principal{}
	s.state = nil
	s.pendingDeletes = nil
	s.onAuth = nil
	s.onData = nil
	s.onAlliance = nil
}

// NotifyAllianceChanged is invoked by the realtime listener glue.
func (s *Session) NotifyAllianceChanged() {
	s.mu.Lock()
	fns := append([]AllianceChangedHandler(nil), s.onAlliance...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// UID implements saver.Source.
func (s *Session) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal.UID
}

// PersistedShape implements saver.Source.
func (s *Session) PersistedShape() (*model.UserRecord, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return &model.UserRecord{}, nil
	}
	deletes := append([]string(nil), s.pendingDeletes...)
	return s.state.Clone(), deletes
}

// MarkCleanupPersisted implements saver.Source.
func (s *Session) MarkCleanupPersisted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDeletes = nil
}

// Save queues a save of the current state. Exposed so the shell can force an
// immediate flush (e.g. before unload).
func (s *Session) Save(ctx context.Context, immediate bool) <-chan saver.Result {
	return s.scheduler.RequestSave(ctx, immediate)
}

// CancelSave drops the queued save cycle, if any.
func (s *Session) CancelSave() {
	s.scheduler.Cancel()
}

// Record returns a snapshot of the current state, nil when signed out.
func (s *Session) Record() *model.UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Session) mutate(fn func(rec *model.UserRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.signedIn || s.state == nil {
		return ErrNotSignedIn
	}
	fn(s.state)
	return nil
}

// UpdateProfile replaces the profile and queues a save.
func (s *Session) UpdateProfile(ctx context.Context, profile model.UserProfile) error {
	err := s.mutate(func(rec *model.UserRecord) {
		rec.UserProfile = schema.SanitizeProfile(profile)
	})
	if err != nil {
		return err
	}
	s.scheduler.RequestSave(ctx, false)
	return nil
}

// UpsertPlayer adds or updates one roster row and queues a save.
func (s *Session) UpsertPlayer(ctx context.Context, name string, entry model.PlayerEntry) error {
	err := s.mutate(func(rec *model.UserRecord) {
		rec.PlayerDatabase[name] = entry
	})
	if err != nil {
		return err
	}
	s.scheduler.RequestSave(ctx, false)
	return nil
}

// RemovePlayer drops one roster row and queues a save.
func (s *Session) RemovePlayer(ctx context.Context, name string) error {
	err := s.mutate(func(rec *model.UserRecord) {
		delete(rec.PlayerDatabase, name)
	})
	if err != nil {
		return err
	}
	s.scheduler.RequestSave(ctx, false)
	return nil
}

// ImportPlayerDatabase replaces the whole roster, as the spreadsheet import
// collaborator does once it has parsed a file, and queues a save.
func (s *Session) ImportPlayerDatabase(ctx context.Context, players map[string]model.PlayerEntry) error {
	err := s.mutate(func(rec *model.UserRecord) {
		rec.PlayerDatabase = model.ClonePlayers(players)
		if rec.PlayerDatabase == nil {
			rec.PlayerDatabase = map[string]model.PlayerEntry{}
		}
	})
	if err != nil {
		return err
	}
	s.scheduler.RequestSave(ctx, false)
	return nil
}

// UpdateEvent sanitizes and stores an event entry, bumping its config
// version, and queues a save.
func (s *Session) UpdateEvent(ctx context.Context, eventID string, entry model.EventEntry) error {
	err := s.mutate(func(rec *model.UserRecord) {
		fallback := rec.Events[eventID]
		next := schema.SanitizeEvent(eventID, entry, fallback)
		next.BuildingConfigVersion = fallback.BuildingConfigVersion + 1
		rec.Events[eventID] = next
	})
	if err != nil {
		return err
	}
	s.scheduler.RequestSave(ctx, false)
	return nil
}

// SetBuildingPositions stores rounded building coordinates for an event,
// bumping the positions version, and queues a save.
func (s *Session) SetBuildingPositions(ctx context.Context, eventID string, positions map[string]model.Position) error {
	err := s.mutate(func(rec *model.UserRecord) {
		e, ok := rec.Events[eventID]
		if !ok {
			return
		}
		e.BuildingPositions = positions
		e.BuildingPositionsVersion++
		rec.Events[eventID] = e
	})
	if err != nil {
		return err
	}
	s.scheduler.RequestSave(ctx, false)
	return nil
}

// SetPlayerSource switches the roster view between the personal and the
// alliance-shared database and queues a save.
func (s *Session) SetPlayerSource(ctx context.Context, source string) error {
	if source != model.PersonalSource && source != model.AllianceSource {
		return fmt.Errorf("unknown player source %q", source)
	}
	err := s.mutate(func(rec *model.UserRecord) {
		rec.PlayerSource = source
	})
	if err != nil {
		return err
	}
	s.scheduler.RequestSave(ctx, false)
	return nil
}

// SendInvite runs the throttled invitation write path and adopts the
// consumed throttle state on success. The throttle state is persisted by
// the alliance service atomically with the invitation, so no extra save is
// queued for it.
func (s *Session) SendInvite(ctx context.Context, inv model.InvitationRecord) alliance.Result {
	s.mu.Lock()
	if !s.signedIn || s.state == nil {
		s.mu.Unlock()
		return alliance.Result{Err: ErrNotSignedIn}
	}
	principal := s.principal
	st := s.state.InviteThrottle
	s.mu.Unlock()

	next, res := s.allianceSvc.SendInvite(ctx, principal, st, inv)
	if res.Success {
		s.mu.Lock()
		if s.state != nil {
			s.state.InviteThrottle = next
		}
		s.mu.Unlock()
	}
	return res
}

// JoinAlliance adopts the alliance locally, ensures the membership entry
// exists remotely (directly or via reconciliation) and queues a save of the
// updated user record.
func (s *Session) JoinAlliance(ctx context.Context, allianceID, allianceName string) alliance.Result {
	s.mu.Lock()
	if !s.signedIn || s.state == nil {
		s.mu.Unlock()
		return alliance.Result{Err: ErrNotSignedIn}
	}
	principal := s.principal
	s.state.AllianceID = allianceID
	s.state.AllianceName = allianceName
	s.mu.Unlock()

	members, res := s.allianceSvc.EnsureSelfMembership(ctx, allianceID, principal)
	if res.Err != nil {
		return res
	}
	if res.PermissionDenied {
		log.Info().Str("allianceId", allianceID).Int("members", len(members)).
			Msg("membership reconciled from invitation trail")
	}
	s.scheduler.RequestSave(ctx, false)
	return res
}
