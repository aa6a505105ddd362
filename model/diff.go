package model

// Typed structural comparison and cloning for the save scheduler's diffing.
// Comparing field by field on the canonical types avoids the key-ordering
// and absent-vs-zero ambiguity a serialize-then-compare approach has.

// Equal reports whether two event entries are structurally identical.
func (e EventEntry) Equal(o EventEntry) bool {
	if e.Name != o.Name || e.LogoDataURL != o.LogoDataURL || e.MapDataURL != o.MapDataURL {
		return false
	}
	if e.BuildingConfigVersion != o.BuildingConfigVersion || e.BuildingPositionsVersion != o.BuildingPositionsVersion {
		return false
	}
	if len(e.BuildingConfig) != len(o.BuildingConfig) {
		return false
	}
	for i := range e.BuildingConfig {
		if e.BuildingConfig[i] != o.BuildingConfig[i] {
			return false
		}
	}
	return PositionsEqual(e.BuildingPositions, o.BuildingPositions)
}

// PositionsEqual compares two building-position maps.
func PositionsEqual(a, b map[string]Position) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// EventsEqual compares two event maps entry by entry.
func EventsEqual(a, b map[string]EventEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || !v.Equal(bv) {
			return false
		}
	}
	return true
}

// PlayersEqual compares two roster maps.
func PlayersEqual(a, b map[string]PlayerEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// MediaEqual compares two event-media maps. Empty entries count the same as
// absent ones, matching how the side-record store represents them.
func MediaEqual(a, b map[string]EventMediaEntry) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the event entry.
func (e EventEntry) Clone() EventEntry {
	out := e
	if e.BuildingConfig != nil {
		out.BuildingConfig = make([]Building, len(e.BuildingConfig))
		copy(out.BuildingConfig, e.BuildingConfig)
	}
	if e.BuildingPositions != nil {
		out.BuildingPositions = make(map[string]Position, len(e.BuildingPositions))
		for k, v := range e.BuildingPositions {
			out.BuildingPositions[k] = v
		}
	}
	return out
}

// CloneEvents deep-copies an event map.
func CloneEvents(events map[string]EventEntry) map[string]EventEntry {
	if events == nil {
		return nil
	}
	out := make(map[string]EventEntry, len(events))
	for k, v := range events {
		out[k] = v.Clone()
	}
	return out
}

// ClonePlayers copies a roster map.
func ClonePlayers(players map[string]PlayerEntry) map[string]PlayerEntry {
	if players == nil {
		return nil
	}
	out := make(map[string]PlayerEntry, len(players))
	for k, v := range players {
		out[k] = v
	}
	return out
}

// CloneMedia copies an event-media map.
func CloneMedia(media map[string]EventMediaEntry) map[string]EventMediaEntry {
	if media == nil {
		return nil
	}
	out := make(map[string]EventMediaEntry, len(media))
	for k, v := range media {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the record.
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.PlayerDatabase = ClonePlayers(r.PlayerDatabase)
	out.Events = CloneEvents(r.Events)
	return &out
}
