// Package media moves event image payloads between the inline event entry
// and a per-event side-record under the owning user. Keeping the payloads
// out of the main user document keeps every roster save small; the inline
// representation survives as a fallback for accounts whose security rules
// reject side-record writes.
package media

import (
	"context"
	"fmt"
	"sync"

	"rallyPoint/gateway"
	"rallyPoint/model"

	"github.com/rs/zerolog/log"
)

const userCollection = "users"
const mediaSubCollection = "eventMedia"

// Service tracks the side-record mode for one session. The flag starts
// enabled and flips to inline permanently on the first denied side-record
// write; it never flips back within a session.
type Service struct {
	gw gateway.Gateway

	mu      sync.Mutex
	enabled bool
	warned  bool
}

func NewService(gw gateway.Gateway) *Service {
	return &Service{gw: gw, enabled: true}
}

// SideRecordsEnabled reports whether event images are currently persisted as
// side-records.
func (s *Service) SideRecordsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Service) disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	if !s.warned {
		s.warned = true
		log.Warn().Msg("side-record media write denied, falling back to inline event images for this session")
	}
}

func mediaPath(uid, eventID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", userCollection, uid, mediaSubCollection, eventID)
}

// ExtractMedia collects the non-empty image payloads out of an event map.
func ExtractMedia(events map[string]model.EventEntry) map[string]model.EventMediaEntry {
	out := map[string]model.EventMediaEntry{}
	for id, e := range events {
		m := model.EventMediaEntry{LogoDataURL: e.LogoDataURL, MapDataURL: e.MapDataURL}
		if !m.IsEmpty() {
			out[id] = m
		}
	}
	return out
}

// StripMedia returns a copy of the event map with all image fields cleared.
func StripMedia(events map[string]model.EventEntry) map[string]model.EventEntry {
	out := model.CloneEvents(events)
	for id, e := range out {
		e.LogoDataURL = ""
		e.MapDataURL = ""
		out[id] = e
	}
	return out
}

// MergeMedia folds media entries back into the event map. Side-record
// payloads win over inline ones so a partially migrated history reads
// consistently.
func MergeMedia(events map[string]model.EventEntry, media map[string]model.EventMediaEntry) map[string]model.EventEntry {
	out := model.CloneEvents(events)
	for id, m := range media {
		e, ok := out[id]
		if !ok {
			continue
		}
		if m.LogoDataURL != "" {
			e.LogoDataURL = m.LogoDataURL
		}
		if m.MapDataURL != "" {
			e.MapDataURL = m.MapDataURL
		}
		out[id] = e
	}
	return out
}

// DiffWrite persists the side-record changes between prev and next in one
// atomic batch, one write per changed event. The returned bool reports
// whether side-records remain enabled: false means this call hit a
// permission denial and flipped the session to inline mode. Other failures
// are returned as errors and leave the mode untouched.
func (s *Service) DiffWrite(ctx context.Context, uid string, prev, next map[string]model.EventMediaEntry) (bool, error) {
	if !s.SideRecordsEnabled() {
		return false, nil
	}

	writes := make([]gateway.Write, 0)
	for id, m := range next {
		if m.IsEmpty() {
			continue
		}
		if prev[id] == m {
			continue
		}
		writes = append(writes, gateway.Write{
			Path: mediaPath(uid, id),
			Merge: map[string]any{
				"logoDataUrl": m.LogoDataURL,
				"mapDataUrl":  m.MapDataURL,
			},
		})
	}
	for id := range prev {
		if m, ok := next[id]; !ok || m.IsEmpty() {
			writes = append(writes, gateway.Write{Path: mediaPath(uid, id), Delete: true})
		}
	}
	if len(writes) == 0 {
		return true, nil
	}

	if err := s.gw.Batch(ctx, writes); err != nil {
		if gateway.IsPermissionDenied(err) {
			s.disable()
			return false, nil
		}
		return true, err
	}
	return true, nil
}

// LoadMerge reads the user's side-records and folds them into the freshly
// normalized event map. When inline payloads are found while side-records
// are enabled, a one-time best-effort migration write moves them over;
// migration failures are swallowed because the merged in-memory view is
// already correct.
func (s *Service) LoadMerge(ctx context.Context, uid string, events map[string]model.EventEntry) (map[string]model.EventEntry, map[string]model.EventMediaEntry, error) {
	docs, err := s.gw.Query(ctx, fmt.Sprintf("%s/%s/%s", userCollection, uid, mediaSubCollection), nil)
	if err != nil && !gateway.IsNotFound(err) {
		if gateway.IsPermissionDenied(err) {
			s.disable()
			docs = nil
		} else {
			return nil, nil, fmt.Errorf("failed to load event media: %w", err)
		}
	}

	stored := map[string]model.EventMediaEntry{}
	for _, doc := range docs {
		var m model.EventMediaEntry
		if err := doc.DataTo(&m); err != nil {
			return nil, nil, err
		}
		if !m.IsEmpty() {
			stored[doc.ID] = m
		}
	}

	inline := ExtractMedia(events)
	merged := MergeMedia(events, stored)

	if s.SideRecordsEnabled() && len(inline) > 0 {
		s.migrateInline(ctx, uid, inline, stored)
	}
	return merged, ExtractMedia(merged), nil
}

// migrateInline copies inline payloads into side-records that do not exist
// yet. Best effort only.
func (s *Service) migrateInline(ctx context.Context, uid string, inline, stored map[string]model.EventMediaEntry) {
	writes := make([]gateway.Write, 0, len(inline))
	for id, m := range inline {
		if _, ok := stored[id]; ok {
			continue
		}
		writes = append(writes, gateway.Write{
			Path: mediaPath(uid, id),
			Merge: map[string]any{
				"logoDataUrl": m.LogoDataURL,
				"mapDataUrl":  m.MapDataURL,
			},
		})
	}
	if len(writes) == 0 {
		return
	}
	if err := s.gw.Batch(ctx, writes); err != nil {
		if gateway.IsPermissionDenied(err) {
			s.disable()
			return
		}
		log.Warn().Err(err).Msg("inline media migration failed")
	}
}
