package schema

import "rallyPoint/model"

// Seed layouts for the two well-known events. Every normalized record ends
// up with both, even for users who never opened the event pages.

var arkSeedConfig = []model.Building{
	{Name: "ark", Label: "Ark", Slots: 5, Priority: 1, ShowOnMap: true},
	{Name: "obelisk-north", Label: "Obelisk North", Slots: 3, Priority: 2, ShowOnMap: true},
	{Name: "obelisk-south", Label: "Obelisk South", Slots: 3, Priority: 2, ShowOnMap: true},
	{Name: "altar-east", Label: "Altar East", Slots: 2, Priority: 3, ShowOnMap: true},
	{Name: "altar-west", Label: "Altar West", Slots: 2, Priority: 3, ShowOnMap: true},
	{Name: "garrison", Label: "Garrison", Slots: 10, Priority: 4, ShowOnMap: false},
}

var sosSeedConfig = []model.Building{
	{Name: "stronghold", Label: "Stronghold", Slots: 8, Priority: 1, ShowOnMap: true},
	{Name: "tower-north", Label: "Tower North", Slots: 4, Priority: 2, ShowOnMap: true},
	{Name: "tower-south", Label: "Tower South", Slots: 4, Priority: 2, ShowOnMap: true},
	{Name: "gate-east", Label: "Gate East", Slots: 3, Priority: 3, ShowOnMap: true},
	{Name: "gate-west", Label: "Gate West", Slots: 3, Priority: 3, ShowOnMap: true},
	{Name: "reserve", Label: "Reserve", Slots: 12, Priority: 6, ShowOnMap: false},
}

var seedEventNames = map[string]string{
	model.LegacyEventArk: "Ark of Osiris",
	model.LegacyEventSOS: "Siege of Stronghold",
}

// SeedBuildingConfig returns a copy of the hard-coded building list for a
// well-known event id, or nil for any other id.
func SeedBuildingConfig(eventID string) []model.Building {
	var seed []model.Building
	switch eventID {
	case model.LegacyEventArk:
		seed = arkSeedConfig
	case model.LegacyEventSOS:
		seed = sosSeedConfig
	default:
		return nil
	}
	out := make([]model.Building, len(seed))
	copy(out, seed)
	return out
}
