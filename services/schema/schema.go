// Package schema converts any on-disk user document shape into the canonical
// in-memory record. It tolerates every historical schema version: the legacy
// flat layout with top-level building fields, partial event maps, and absent
// documents. Normalization is total and idempotent.
package schema

import (
	"math"
	"regexp"
	"strings"

	"rallyPoint/model"

	"github.com/rs/zerolog/log"
)

const (
	MaxEventNameLen   = 30
	MaxProfileTextLen = 60
	MaxLogoChars      = 300000
	MaxMapChars       = 950000
	MaxAvatarChars    = 400000

	MinPriority = 1
	MaxPriority = 6
)

// legacyTopLevelFields are the pre-event-scoped fields some old documents
// still carry. Their values migrate into the "ark" event entry and the
// fields themselves get deleted on the next save.
var legacyTopLevelFields = []string{
	"buildingConfig",
	"buildingPositions",
	"buildingConfigVersion",
	"buildingPositionsVersion",
}

var imagePattern = regexp.MustCompile(`^data:image/[\w.+-]+;base64,`)

// Migration reports what Normalize had to correct so the caller knows to
// persist the result.
type Migration struct {
	// DeleteTopLevelFields lists raw document fields that must be removed on
	// the next write.
	DeleteTopLevelFields []string
	// Changed is true when the normalized record differs from what was read,
	// beyond field deletions.
	Changed bool
}

// Normalize converts a raw document into the canonical record. A nil raw map
// stands for an absent document and yields the default record for a brand
// new user.
func Normalize(raw map[string]any) (*model.UserRecord, Migration) {
	rec := &model.UserRecord{
		PlayerDatabase: map[string]model.PlayerEntry{},
		Events:         map[string]model.EventEntry{},
		PlayerSource:   model.PersonalSource,
	}
	var mig Migration

	if raw != nil {
		rec.PlayerDatabase = sanitizePlayers(raw["playerDatabase"])
		rec.AllianceID = asString(raw["allianceId"])
		rec.AllianceName = asString(raw["allianceName"])
		if asString(raw["playerSource"]) == model.AllianceSource {
			rec.PlayerSource = model.AllianceSource
		}
		rec.UserProfile = sanitizeProfile(raw["userProfile"])
		rec.InviteThrottle = sanitizeThrottle(raw["inviteThrottle"])

		for id, candidate := range asMap(raw["events"]) {
			rec.Events[id] = SanitizeEventEntry(id, candidate, model.EventEntry{})
		}

		mig.DeleteTopLevelFields = migrateLegacyFields(raw, rec)
		if len(mig.DeleteTopLevelFields) > 0 {
			mig.Changed = true
		}
	}

	events, changed := EnsureLegacyDefaults(rec.Events)
	rec.Events = events
	if changed {
		mig.Changed = true
	}
	return rec, mig
}

// migrateLegacyFields merges the pre-event-scoped top-level building fields
// into the "ark" event entry, filling only fields the event-scoped entry
// does not already populate. Running it twice yields the same record, so a
// document whose cleanup write failed is handled again safely.
func migrateLegacyFields(raw map[string]any, rec *model.UserRecord) []string {
	present := make([]string, 0, len(legacyTopLevelFields))
	for _, f := range legacyTopLevelFields {
		if _, ok := raw[f]; ok {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}

	ark := rec.Events[model.LegacyEventArk]
	if len(ark.BuildingConfig) == 0 {
		if cfg := sanitizeBuildings(raw["buildingConfig"]); len(cfg) > 0 {
			ark.BuildingConfig = cfg
		}
	}
	if ark.BuildingConfigVersion == 0 {
		ark.BuildingConfigVersion = asVersion(raw["buildingConfigVersion"])
	}
	if len(ark.BuildingPositions) == 0 {
		if pos := sanitizePositions(raw["buildingPositions"]); len(pos) > 0 {
			ark.BuildingPositions = pos
		}
	}
	if ark.BuildingPositionsVersion == 0 {
		ark.BuildingPositionsVersion = asVersion(raw["buildingPositionsVersion"])
	}
	rec.Events[model.LegacyEventArk] = ark

	log.Info().Strs("fields", present).Msg("migrating legacy top-level building fields")
	return present
}

// EnsureLegacyDefaults guarantees that both well-known event ids exist with
// a non-empty building config. Entries whose config does not survive
// normalization as a non-empty list are reseeded. The second return value is
// true when anything was corrected.
func EnsureLegacyDefaults(events map[string]model.EventEntry) (map[string]model.EventEntry, bool) {
	if events == nil {
		events = map[string]model.EventEntry{}
	}
	changed := false
	for _, id := range []string{model.LegacyEventArk, model.LegacyEventSOS} {
		e := events[id]
		if cfg := sanitizeBuildingList(e.BuildingConfig); len(cfg) > 0 {
			continue
		}
		e.BuildingConfig = SeedBuildingConfig(id)
		if e.Name == "" {
			e.Name = seedEventNames[id]
		}
		events[id] = e
		changed = true
	}
	return events, changed
}

// SanitizeEventEntry is a total function: every field prefers a validated
// candidate value, falls back to the corresponding field of fallback, and
// bottoms out at the field's zero value.
func SanitizeEventEntry(eventID string, candidate any, fallback model.EventEntry) model.EventEntry {
	cm := asMap(candidate)
	e := model.EventEntry{}

	e.Name = truncate(trimmedString(cm["name"], fallback.Name), MaxEventNameLen)
	e.LogoDataURL = sanitizeImage(cm["logoDataUrl"], fallback.LogoDataURL, MaxLogoChars)
	e.MapDataURL = sanitizeImage(cm["mapDataUrl"], fallback.MapDataURL, MaxMapChars)

	if cfg := sanitizeBuildings(cm["buildingConfig"]); cfg != nil {
		e.BuildingConfig = cfg
	} else {
		e.BuildingConfig = sanitizeBuildingList(fallback.BuildingConfig)
	}
	if pos := sanitizePositions(cm["buildingPositions"]); pos != nil {
		e.BuildingPositions = pos
	} else if fallback.BuildingPositions != nil {
		e.BuildingPositions = fallback.BuildingPositions
	}

	e.BuildingConfigVersion = asVersion(cm["buildingConfigVersion"])
	if e.BuildingConfigVersion == 0 {
		e.BuildingConfigVersion = fallback.BuildingConfigVersion
	}
	e.BuildingPositionsVersion = asVersion(cm["buildingPositionsVersion"])
	if e.BuildingPositionsVersion == 0 {
		e.BuildingPositionsVersion = fallback.BuildingPositionsVersion
	}
	return e
}

// SanitizeProfile bounds an already-typed profile the same way Normalize
// bounds a raw one.
func SanitizeProfile(p model.UserProfile) model.UserProfile {
	return model.UserProfile{
		DisplayName:   truncate(strings.TrimSpace(p.DisplayName), MaxProfileTextLen),
		Nickname:      truncate(strings.TrimSpace(p.Nickname), MaxProfileTextLen),
		AvatarDataURL: sanitizeImage(p.AvatarDataURL, "", MaxAvatarChars),
	}
}

// SanitizeEvent bounds an already-typed event entry, falling back to the
// previous entry per field like SanitizeEventEntry does for raw candidates.
func SanitizeEvent(eventID string, e, fallback model.EventEntry) model.EventEntry {
	out := model.EventEntry{}
	out.Name = truncate(strings.TrimSpace(e.Name), MaxEventNameLen)
	if out.Name == "" {
		out.Name = fallback.Name
	}
	out.LogoDataURL = sanitizeImage(e.LogoDataURL, fallback.LogoDataURL, MaxLogoChars)
	out.MapDataURL = sanitizeImage(e.MapDataURL, fallback.MapDataURL, MaxMapChars)
	if e.BuildingConfig != nil {
		out.BuildingConfig = sanitizeBuildingList(e.BuildingConfig)
	} else {
		out.BuildingConfig = sanitizeBuildingList(fallback.BuildingConfig)
	}
	if e.BuildingPositions != nil {
		out.BuildingPositions = e.BuildingPositions
	} else {
		out.BuildingPositions = fallback.BuildingPositions
	}
	out.BuildingConfigVersion = e.BuildingConfigVersion
	if out.BuildingConfigVersion <= 0 {
		out.BuildingConfigVersion = fallback.BuildingConfigVersion
	}
	out.BuildingPositionsVersion = e.BuildingPositionsVersion
	if out.BuildingPositionsVersion <= 0 {
		out.BuildingPositionsVersion = fallback.BuildingPositionsVersion
	}
	return out
}

func sanitizePlayers(v any) map[string]model.PlayerEntry {
	out := map[string]model.PlayerEntry{}
	for name, raw := range asMap(v) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		pm := asMap(raw)
		if pm == nil {
			continue
		}
		power := asInt64(pm["power"])
		if power < 0 {
			power = 0
		}
		out[name] = model.PlayerEntry{
			Power:       power,
			Troops:      asString(pm["troops"]),
			LastUpdated: asInt64(pm["lastUpdated"]),
		}
	}
	return out
}

func sanitizeProfile(v any) model.UserProfile {
	pm := asMap(v)
	return model.UserProfile{
		DisplayName:   truncate(strings.TrimSpace(asString(pm["displayName"])), MaxProfileTextLen),
		Nickname:      truncate(strings.TrimSpace(asString(pm["nickname"])), MaxProfileTextLen),
		AvatarDataURL: sanitizeImage(pm["avatarDataUrl"], "", MaxAvatarChars),
	}
}

func sanitizeThrottle(v any) model.InviteThrottleState {
	tm := asMap(v)
	sent := int(asInt64(tm["sentCount"]))
	if sent < 0 {
		sent = 0
	}
	until := asInt64(tm["cooldownUntilMs"])
	if until < 0 {
		until = 0
	}
	return model.InviteThrottleState{SentCount: sent, CooldownUntilMs: until}
}

// sanitizeBuildings validates a raw building list. Returns nil when v is not
// a list at all, so callers can distinguish "absent" from "empty".
func sanitizeBuildings(v any) []model.Building {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]model.Building, 0, len(items))
	for _, item := range items {
		bm := asMap(item)
		name := strings.TrimSpace(asString(bm["name"]))
		if name == "" {
			continue
		}
		label := strings.TrimSpace(asString(bm["label"]))
		if label == "" {
			label = name
		}
		slots := int(asInt64(bm["slots"]))
		if slots < 0 {
			slots = 0
		}
		out = append(out, model.Building{
			Name:      name,
			Label:     label,
			Slots:     slots,
			Priority:  clampPriority(int(asInt64(bm["priority"]))),
			ShowOnMap: asBool(bm["showOnMap"]),
		})
	}
	return out
}

// sanitizeBuildingList re-validates an already-typed building list, dropping
// entries that would not survive normalization.
func sanitizeBuildingList(cfg []model.Building) []model.Building {
	out := make([]model.Building, 0, len(cfg))
	for _, b := range cfg {
		b.Name = strings.TrimSpace(b.Name)
		if b.Name == "" {
			continue
		}
		if b.Label == "" {
			b.Label = b.Name
		}
		if b.Slots < 0 {
			b.Slots = 0
		}
		b.Priority = clampPriority(b.Priority)
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sanitizePositions(v any) map[string]model.Position {
	pm, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]model.Position, len(pm))
	for name, raw := range pm {
		cm := asMap(raw)
		if cm == nil {
			continue
		}
		out[name] = model.Position{
			X: int(asInt64(cm["x"])),
			Y: int(asInt64(cm["y"])),
		}
	}
	return out
}

// sanitizeImage accepts a value only when it looks like an encoded image and
// fits the budget; otherwise the fallback is given the same check, and ""
// wins when both fail.
func sanitizeImage(v any, fallback string, budget int) string {
	if s, ok := v.(string); ok && validImage(s, budget) {
		return s
	}
	if validImage(fallback, budget) {
		return fallback
	}
	return ""
}

func validImage(s string, budget int) bool {
	return s != "" && len(s) <= budget && imagePattern.MatchString(s)
}

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

func trimmedString(v any, fallback string) string {
	if s, ok := v.(string); ok {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return fallback
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asInt64 rounds any numeric representation the store may hand back.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(math.Round(n))
	case float32:
		return int64(math.Round(float64(n)))
	}
	return 0
}

func asVersion(v any) int64 {
	n := asInt64(v)
	if n < 0 {
		return 0
	}
	return n
}
