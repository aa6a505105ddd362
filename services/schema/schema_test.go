package schema

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"rallyPoint/model"
)

// recordToRaw re-encodes a canonical record the way the store hands raw
// documents back (plain JSON types, numbers as float64).
func recordToRaw(t *testing.T, rec *model.UserRecord) map[string]any {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	return raw
}

func TestNormalizeAbsentDocument(t *testing.T) {
	rec, mig := Normalize(nil)

	if len(rec.PlayerDatabase) != 0 {
		t.Errorf("expected empty player database, got %d entries", len(rec.PlayerDatabase))
	}
	if rec.PlayerSource != model.PersonalSource {
		t.Errorf("expected playerSource %q, got %q", model.PersonalSource, rec.PlayerSource)
	}
	for _, id := range []string{model.LegacyEventArk, model.LegacyEventSOS} {
		e, ok := rec.Events[id]
		if !ok {
			t.Fatalf("expected event %q to exist", id)
		}
		if len(e.BuildingConfig) == 0 {
			t.Errorf("expected event %q to have a seeded building config", id)
		}
	}
	if len(mig.DeleteTopLevelFields) != 0 {
		t.Errorf("absent document should not schedule field deletions, got %v", mig.DeleteTopLevelFields)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := map[string]any{
		"playerDatabase": map[string]any{
			"  Hati ": nil, // dropped: empty trimmed key handled, nil entry dropped
			"Skoll":   map[string]any{"power": 28_500_000.7, "troops": "cavalry", "lastUpdated": float64(1700000000000)},
		},
		"events": map[string]any{
			"kvk": map[string]any{
				"name":           "  A very long event name that exceeds thirty characters  ",
				"logoDataUrl":    "not-an-image",
				"buildingConfig": []any{map[string]any{"name": "pass-4", "slots": 3.4, "priority": 9.0}},
			},
		},
		"allianceId":   "A1",
		"allianceName": "Night Watch",
		"playerSource": "alliance",
		"userProfile":  map[string]any{"displayName": "Skoll", "nickname": "", "avatarDataUrl": ""},
	}

	first, _ := Normalize(raw)
	second, mig := Normalize(recordToRaw(t, first))

	if !reflect.DeepEqual(first, second) {
		t.Errorf("normalize is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if mig.Changed || len(mig.DeleteTopLevelFields) != 0 {
		t.Errorf("re-normalizing a canonical record should change nothing, got %+v", mig)
	}
}

func TestNormalizeLegacyTopLevelFields(t *testing.T) {
	raw := map[string]any{
		"buildingConfig": []any{
			map[string]any{"name": "ark", "label": "Ark", "slots": 5.0, "priority": 1.0, "showOnMap": true},
			map[string]any{"name": "altar-east", "slots": 2.0, "priority": 3.0},
			map[string]any{"name": "garrison", "slots": 10.0, "priority": 4.0},
		},
		"buildingConfigVersion": 7.0,
		"buildingPositions": map[string]any{
			"ark": map[string]any{"x": 10.6, "y": 20.2},
		},
		"buildingPositionsVersion": 3.0,
	}

	rec, mig := Normalize(raw)

	ark := rec.Events[model.LegacyEventArk]
	if len(ark.BuildingConfig) != 3 {
		t.Fatalf("expected 3 migrated buildings, got %d", len(ark.BuildingConfig))
	}
	if ark.BuildingConfig[1].Label != "altar-east" {
		t.Errorf("expected label to default to name, got %q", ark.BuildingConfig[1].Label)
	}
	if ark.BuildingConfigVersion != 7 || ark.BuildingPositionsVersion != 3 {
		t.Errorf("expected versions 7/3, got %d/%d", ark.BuildingConfigVersion, ark.BuildingPositionsVersion)
	}
	if got := ark.BuildingPositions["ark"]; got != (model.Position{X: 11, Y: 20}) {
		t.Errorf("expected rounded position {11 20}, got %+v", got)
	}
	if !mig.Changed {
		t.Error("expected migration to mark the record changed")
	}
	if len(mig.DeleteTopLevelFields) != 4 {
		t.Errorf("expected all 4 legacy fields scheduled for deletion, got %v", mig.DeleteTopLevelFields)
	}
}

func TestNormalizeLegacyMergeDoesNotOverwrite(t *testing.T) {
	raw := map[string]any{
		"buildingConfig":        []any{map[string]any{"name": "legacy-only", "slots": 1.0, "priority": 1.0}},
		"buildingConfigVersion": 2.0,
		"events": map[string]any{
			model.LegacyEventArk: map[string]any{
				"buildingConfig":        []any{map[string]any{"name": "scoped", "slots": 4.0, "priority": 2.0}},
				"buildingConfigVersion": 9.0,
			},
		},
	}

	rec, mig := Normalize(raw)

	ark := rec.Events[model.LegacyEventArk]
	if len(ark.BuildingConfig) != 1 || ark.BuildingConfig[0].Name != "scoped" {
		t.Errorf("event-scoped config must win over legacy fields, got %+v", ark.BuildingConfig)
	}
	if ark.BuildingConfigVersion != 9 {
		t.Errorf("event-scoped version must win, got %d", ark.BuildingConfigVersion)
	}
	if len(mig.DeleteTopLevelFields) != 2 {
		t.Errorf("legacy fields still get scheduled for deletion, got %v", mig.DeleteTopLevelFields)
	}
}

func TestEnsureLegacyDefaults(t *testing.T) {
	t.Run("seeds missing events", func(t *testing.T) {
		events, changed := EnsureLegacyDefaults(map[string]model.EventEntry{})
		if !changed {
			t.Error("expected changed=true when seeding")
		}
		for _, id := range []string{model.LegacyEventArk, model.LegacyEventSOS} {
			if len(events[id].BuildingConfig) == 0 {
				t.Errorf("event %q missing seeded config", id)
			}
		}
	})

	t.Run("reseeds events whose config normalizes empty", func(t *testing.T) {
		events := map[string]model.EventEntry{
			model.LegacyEventArk: {Name: "Custom Ark", BuildingConfig: []model.Building{{Name: "   "}}},
			model.LegacyEventSOS: {BuildingConfig: SeedBuildingConfig(model.LegacyEventSOS)},
		}
		events, changed := EnsureLegacyDefaults(events)
		if !changed {
			t.Error("expected changed=true when reseeding")
		}
		if len(events[model.LegacyEventArk].BuildingConfig) == 0 {
			t.Error("ark config not reseeded")
		}
		if events[model.LegacyEventArk].Name != "Custom Ark" {
			t.Error("reseeding must not clobber the event name")
		}
	})

	t.Run("leaves healthy events alone", func(t *testing.T) {
		events := map[string]model.EventEntry{
			model.LegacyEventArk: {BuildingConfig: SeedBuildingConfig(model.LegacyEventArk)},
			model.LegacyEventSOS: {BuildingConfig: SeedBuildingConfig(model.LegacyEventSOS)},
		}
		if _, changed := EnsureLegacyDefaults(events); changed {
			t.Error("expected changed=false for healthy events")
		}
	})
}

func TestSanitizeEventEntry(t *testing.T) {
	fallback := model.EventEntry{
		Name:        "Fallback",
		LogoDataURL: "data:image/png;base64,AAAA",
		BuildingConfig: []model.Building{
			{Name: "keep", Label: "Keep", Slots: 2, Priority: 2},
		},
		BuildingConfigVersion: 5,
	}

	tests := []struct {
		name      string
		candidate any
		check     func(t *testing.T, e model.EventEntry)
	}{
		{
			name:      "nil candidate falls back everywhere",
			candidate: nil,
			check: func(t *testing.T, e model.EventEntry) {
				if e.Name != "Fallback" || e.LogoDataURL != fallback.LogoDataURL {
					t.Errorf("expected fallback fields, got %+v", e)
				}
				if e.BuildingConfigVersion != 5 {
					t.Errorf("expected fallback version 5, got %d", e.BuildingConfigVersion)
				}
			},
		},
		{
			name: "name is trimmed and truncated",
			candidate: map[string]any{
				"name": "  " + strings.Repeat("x", 40) + "  ",
			},
			check: func(t *testing.T, e model.EventEntry) {
				if len([]rune(e.Name)) != MaxEventNameLen {
					t.Errorf("expected name truncated to %d chars, got %d", MaxEventNameLen, len(e.Name))
				}
			},
		},
		{
			name: "invalid image rejected in favor of fallback",
			candidate: map[string]any{
				"logoDataUrl": "javascript:alert(1)",
			},
			check: func(t *testing.T, e model.EventEntry) {
				if e.LogoDataURL != fallback.LogoDataURL {
					t.Errorf("expected fallback logo, got %q", e.LogoDataURL)
				}
			},
		},
		{
			name: "oversize image forced empty when fallback also absent",
			candidate: map[string]any{
				"mapDataUrl": "data:image/png;base64," + strings.Repeat("A", MaxMapChars),
			},
			check: func(t *testing.T, e model.EventEntry) {
				if e.MapDataURL != "" {
					t.Error("expected oversize map image to be dropped")
				}
			},
		},
		{
			name: "numeric fields rounded and clamped",
			candidate: map[string]any{
				"buildingConfig": []any{
					map[string]any{"name": "b1", "slots": -3.0, "priority": 0.0},
					map[string]any{"name": "b2", "slots": 4.6, "priority": 11.0},
				},
			},
			check: func(t *testing.T, e model.EventEntry) {
				want := []model.Building{
					{Name: "b1", Label: "b1", Slots: 0, Priority: MinPriority},
					{Name: "b2", Label: "b2", Slots: 5, Priority: MaxPriority},
				}
				if !reflect.DeepEqual(e.BuildingConfig, want) {
					t.Errorf("got %+v, want %+v", e.BuildingConfig, want)
				}
			},
		},
		{
			name: "empty candidate list wins over fallback",
			candidate: map[string]any{
				"buildingConfig": []any{},
			},
			check: func(t *testing.T, e model.EventEntry) {
				if len(e.BuildingConfig) != 0 {
					t.Errorf("expected explicit empty config to stick, got %+v", e.BuildingConfig)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, SanitizeEventEntry("kvk", tt.candidate, fallback))
		})
	}
}
