// Package model holds the persisted document shapes shared by every service.
// Field names are part of the storage compatibility contract: documents
// written by older client versions are read back through these same names,
// so they must not be renamed.
package model

// PlayerSource selects which roster a user is planning against.
const (
	PersonalSource = "personal"
	AllianceSource = "alliance"
)

// Well-known event ids that every normalized user record carries. These
// predate user-created events and are referenced by id all over the app,
// so they are pinned forever.
const (
	LegacyEventArk = "ark"
	LegacyEventSOS = "sos"
)

// PlayerEntry is one roster row in a user's (or alliance's) player database.
type PlayerEntry struct {
	Power       int64  `firestore:"power" json:"power" structs:"power"`
	Troops      string `firestore:"troops" json:"troops" structs:"troops"`
	LastUpdated int64  `firestore:"lastUpdated" json:"lastUpdated" structs:"lastUpdated"`
}

// Building is one slot template entry inside an event's building config.
type Building struct {
	Name      string `firestore:"name" json:"name" structs:"name"`
	Label     string `firestore:"label" json:"label" structs:"label"`
	Slots     int    `firestore:"slots" json:"slots" structs:"slots"`
	Priority  int    `firestore:"priority" json:"priority" structs:"priority"`
	ShowOnMap bool   `firestore:"showOnMap" json:"showOnMap" structs:"showOnMap"`
}

// Position is a rounded map coordinate for a building.
type Position struct {
	X int `firestore:"x" json:"x" structs:"x"`
	Y int `firestore:"y" json:"y" structs:"y"`
}

// EventEntry is one planning event. LogoDataURL and MapDataURL are ""
// whenever the image lives in the event's media side-record instead of
// inline (see services/media).
type EventEntry struct {
	Name                     string              `firestore:"name" json:"name" structs:"name"`
	LogoDataURL              string              `firestore:"logoDataUrl" json:"logoDataUrl" structs:"logoDataUrl"`
	MapDataURL               string              `firestore:"mapDataUrl" json:"mapDataUrl" structs:"mapDataUrl"`
	BuildingConfig           []Building          `firestore:"buildingConfig" json:"buildingConfig" structs:"buildingConfig"`
	BuildingConfigVersion    int64               `firestore:"buildingConfigVersion" json:"buildingConfigVersion" structs:"buildingConfigVersion"`
	BuildingPositions        map[string]Position `firestore:"buildingPositions" json:"buildingPositions" structs:"buildingPositions"`
	BuildingPositionsVersion int64               `firestore:"buildingPositionsVersion" json:"buildingPositionsVersion" structs:"buildingPositionsVersion"`
}

// EventMediaEntry is the side-record holding an event's image payloads.
// It exists only while at least one field is non-empty.
type EventMediaEntry struct {
	LogoDataURL string `firestore:"logoDataUrl" json:"logoDataUrl" structs:"logoDataUrl"`
	MapDataURL  string `firestore:"mapDataUrl" json:"mapDataUrl" structs:"mapDataUrl"`
}

// IsEmpty reports whether the entry carries no payload at all.
func (m EventMediaEntry) IsEmpty() bool {
	return m.LogoDataURL == "" && m.MapDataURL == ""
}

// UserProfile is the user's display identity.
type UserProfile struct {
	DisplayName   string `firestore:"displayName" json:"displayName" structs:"displayName"`
	Nickname      string `firestore:"nickname" json:"nickname" structs:"nickname"`
	AvatarDataURL string `firestore:"avatarDataUrl" json:"avatarDataUrl" structs:"avatarDataUrl"`
}

// InviteThrottleState tracks how many invitations a user has sent and until
// when they are cooling down. CooldownUntilMs is an absolute unix-millis
// stamp (0 means no cooldown) so the state survives reloads.
type InviteThrottleState struct {
	SentCount       int   `firestore:"sentCount" json:"sentCount" structs:"sentCount"`
	CooldownUntilMs int64 `firestore:"cooldownUntilMs" json:"cooldownUntilMs" structs:"cooldownUntilMs"`
}

// UserRecord is the canonical in-memory shape of one user document.
type UserRecord struct {
	PlayerDatabase map[string]PlayerEntry `firestore:"playerDatabase" json:"playerDatabase"`
	Events         map[string]EventEntry  `firestore:"events" json:"events"`
	AllianceID     string                 `firestore:"allianceId" json:"allianceId"`
	AllianceName   string                 `firestore:"allianceName" json:"allianceName"`
	PlayerSource   string                 `firestore:"playerSource" json:"playerSource"`
	UserProfile    UserProfile            `firestore:"userProfile" json:"userProfile"`
	InviteThrottle InviteThrottleState    `firestore:"inviteThrottle" json:"inviteThrottle"`
}

// AllianceMember is one entry in an alliance's members map, keyed by uid.
type AllianceMember struct {
	Email    string `firestore:"email" json:"email" structs:"email"`
	Role     string `firestore:"role" json:"role" structs:"role"`
	JoinedAt int64  `firestore:"joinedAt" json:"joinedAt" structs:"joinedAt"`
}

// AllianceRecord is the shared alliance document.
type AllianceRecord struct {
	Name           string                    `firestore:"name" json:"name"`
	CreatedBy      string                    `firestore:"createdBy" json:"createdBy"`
	Members        map[string]AllianceMember `firestore:"members" json:"members"`
	PlayerDatabase map[string]PlayerEntry    `firestore:"playerDatabase" json:"playerDatabase"`
	Metadata       map[string]string         `firestore:"metadata" json:"metadata"`
}

// Invitation status values. pending is the only non-terminal state.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRejected = "rejected"
)

// InvitationRecord is one outbound alliance invitation.
type InvitationRecord struct {
	AllianceID    string `firestore:"allianceId" json:"allianceId" structs:"allianceId"`
	AllianceName  string `firestore:"allianceName" json:"allianceName" structs:"allianceName"`
	InvitedEmail  string `firestore:"invitedEmail" json:"invitedEmail" structs:"invitedEmail"`
	InvitedUserID string `firestore:"invitedUserId" json:"invitedUserId" structs:"invitedUserId"`
	InvitedBy     string `firestore:"invitedBy" json:"invitedBy" structs:"invitedBy"`
	Status        string `firestore:"status" json:"status" structs:"status"`
	CreatedAt     int64  `firestore:"createdAt" json:"createdAt" structs:"createdAt"`
	RespondedAt   int64  `firestore:"respondedAt" json:"respondedAt" structs:"respondedAt"`
}

// DefaultEventLayout is the shared default data for one event id. Config
// defaults carry BuildingConfig, position defaults carry BuildingPositions;
// the unused side stays empty.
type DefaultEventLayout struct {
	BuildingConfig    []Building          `firestore:"buildingConfig" json:"buildingConfig"`
	BuildingPositions map[string]Position `firestore:"buildingPositions" json:"buildingPositions"`
}

// GlobalDefaults is one shared defaults document. Latest wins by Version.
type GlobalDefaults struct {
	Events  map[string]DefaultEventLayout `firestore:"events" json:"events"`
	Version int64                         `firestore:"version" json:"version"`
}
