package alliance

import (
	"context"
	"strings"
	"testing"
	"time"

	"rallyPoint/gateway"
	"rallyPoint/model"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newTestService(mem *gateway.Memory) Service {
	return NewService(mem, func() time.Time { return fixedNow })
}

func TestSendInviteWritesAtomically(t *testing.T) {
	mem := gateway.NewMemory()
	svc := newTestService(mem)

	st, res := svc.SendInvite(context.Background(), Principal{UID: "u1", Email: "u1@example.com"}, model.InviteThrottleState{}, model.InvitationRecord{
		AllianceID:   "A1",
		AllianceName: "Night Watch",
		InvitedEmail: "new@example.com",
	})
	if !res.Success {
		t.Fatalf("SendInvite failed: %+v", res)
	}
	if st.SentCount != 1 || st.CooldownUntilMs != 0 {
		t.Errorf("unexpected throttle state %+v", st)
	}

	// Both documents landed in the same batch.
	if len(mem.WriteLog) != 2 {
		t.Fatalf("expected 2 writes in one batch, got %d", len(mem.WriteLog))
	}
	var invPath string
	for _, w := range mem.WriteLog {
		if strings.HasPrefix(w.Path, "allianceInvitations/") {
			invPath = w.Path
		}
	}
	inv := mem.DocData(invPath)
	if inv["status"] != model.InviteStatusPending || inv["invitedBy"] != "u1" {
		t.Errorf("unexpected invitation doc %v", inv)
	}
	user := mem.DocData("users/u1")
	throttle, _ := user["inviteThrottle"].(map[string]any)
	if throttle["sentCount"] != float64(1) {
		t.Errorf("throttle state not persisted with the invitation: %v", user)
	}
}

func TestSendInviteRespectsCooldown(t *testing.T) {
	mem := gateway.NewMemory()
	svc := newTestService(mem)

	st := model.InviteThrottleState{SentCount: 4, CooldownUntilMs: fixedNow.UnixMilli() + 30_000}
	got, res := svc.SendInvite(context.Background(), Principal{UID: "u1"}, st, model.InvitationRecord{AllianceID: "A1"})
	if res.Success {
		t.Fatal("expected cooldown rejection")
	}
	if res.ErrorKey != "inviteCooldown" || res.RetryAfterMs != 30_000 {
		t.Errorf("unexpected result %+v", res)
	}
	if got != st {
		t.Error("throttle state must not change on rejection")
	}
	if len(mem.WriteLog) != 0 {
		t.Error("rejected invite must not write")
	}
}

func TestSendInviteFailedWriteKeepsState(t *testing.T) {
	mem := gateway.NewMemory()
	mem.DenyWritePrefixes = []string{"users/u1"}
	svc := newTestService(mem)

	st, res := svc.SendInvite(context.Background(), Principal{UID: "u1"}, model.InviteThrottleState{}, model.InvitationRecord{AllianceID: "A1"})
	if res.Success || res.Err == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
	if st.SentCount != 0 {
		t.Error("throttle must not be consumed when the batch fails")
	}
	// Atomicity: the invitation must not exist without the throttle write.
	docs, err := mem.Query(context.Background(), "allianceInvitations", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Error("invitation leaked from a failed batch")
	}
}

func TestRespondInviteLifecycle(t *testing.T) {
	mem := gateway.NewMemory()
	svc := newTestService(mem)
	ctx := context.Background()

	mem.Seed("allianceInvitations/inv1", model.InvitationRecord{
		AllianceID:   "A1",
		InvitedEmail: "new@example.com",
		InvitedBy:    "u1",
		Status:       model.InviteStatusPending,
	})

	res := svc.RespondInvite(ctx, "inv1", Principal{UID: "u2", Email: "new@example.com"}, true)
	if !res.Success {
		t.Fatalf("accept failed: %+v", res)
	}
	doc := mem.DocData("allianceInvitations/inv1")
	if doc["status"] != model.InviteStatusAccepted || doc["invitedUserId"] != "u2" {
		t.Errorf("unexpected invitation after accept: %v", doc)
	}
	if doc["respondedAt"] != float64(fixedNow.UnixMilli()) {
		t.Errorf("respondedAt not stamped: %v", doc["respondedAt"])
	}

	// accepted is terminal: a second response is a conflict, not a write.
	res = svc.RespondInvite(ctx, "inv1", Principal{UID: "u3"}, false)
	if res.Success || res.ErrorKey != "alreadyResponded" {
		t.Fatalf("expected alreadyResponded conflict, got %+v", res)
	}
	if mem.DocData("allianceInvitations/inv1")["invitedUserId"] != "u2" {
		t.Error("terminal invitation was modified")
	}
}

func TestRespondInviteNotFound(t *testing.T) {
	svc := newTestService(gateway.NewMemory())
	res := svc.RespondInvite(context.Background(), "missing", Principal{UID: "u2"}, true)
	if res.Success || res.ErrorKey != "invitationNotFound" {
		t.Errorf("expected invitationNotFound, got %+v", res)
	}
}

func TestEnsureSelfMembershipDirectWrite(t *testing.T) {
	mem := gateway.NewMemory()
	mem.Seed("alliances/A1", model.AllianceRecord{Name: "Night Watch", CreatedBy: "u0"})
	svc := newTestService(mem)

	members, res := svc.EnsureSelfMembership(context.Background(), "A1", Principal{UID: "u1", Email: "u1@example.com"})
	if !res.Success || res.PermissionDenied {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := members["u1"]; !ok {
		t.Fatal("self missing from returned members")
	}
	doc := mem.DocData("alliances/A1")
	docMembers, _ := doc["members"].(map[string]any)
	if _, ok := docMembers["u1"]; !ok {
		t.Errorf("direct write did not land: %v", doc)
	}
}

func TestEnsureSelfMembershipReconcilesWhenDenied(t *testing.T) {
	mem := gateway.NewMemory()
	mem.Seed("alliances/A1", model.AllianceRecord{
		Name:    "Night Watch",
		Members: map[string]model.AllianceMember{"u0": {Email: "u0@example.com", Role: "leader"}},
	})
	mem.Seed("allianceInvitations/inv1", model.InvitationRecord{
		AllianceID:    "A1",
		InvitedEmail:  "u1@example.com",
		InvitedUserID: "u1",
		InvitedBy:     "u0",
		Status:        model.InviteStatusAccepted,
		RespondedAt:   1_600_000_000_000,
	})
	mem.DenyWritePrefixes = []string{"alliances/A1"}
	svc := newTestService(mem)

	members, res := svc.EnsureSelfMembership(context.Background(), "A1", Principal{UID: "u1", Email: "u1@example.com"})
	if !res.Success {
		t.Fatalf("reconciliation path must succeed locally: %+v", res)
	}
	if !res.PermissionDenied {
		t.Error("expected the denial to be reported")
	}
	got, ok := members["u1"]
	if !ok {
		t.Fatal("accepted invitee missing from reconciled members")
	}
	if got.Email != "u1@example.com" || got.JoinedAt != 1_600_000_000_000 {
		t.Errorf("unexpected synthesized member %+v", got)
	}
	if _, ok := members["u0"]; !ok {
		t.Error("existing members must be preserved")
	}
	// The alliance document itself is untouched: the write-back was denied
	// too and only logged.
	doc := mem.DocData("alliances/A1")
	docMembers, _ := doc["members"].(map[string]any)
	if _, ok := docMembers["u1"]; ok {
		t.Error("denied write-back must not modify the store")
	}
}

func TestReconcileFallsBackToInvitedByQuery(t *testing.T) {
	mem := gateway.NewMemory()
	mem.Seed("allianceInvitations/inv1", model.InvitationRecord{
		AllianceID:    "A1",
		InvitedUserID: "u2",
		InvitedEmail:  "u2@example.com",
		InvitedBy:     "u1",
		Status:        model.InviteStatusAccepted,
	})
	mem.Seed("allianceInvitations/other", model.InvitationRecord{
		AllianceID:    "B9",
		InvitedUserID: "u9",
		InvitedBy:     "u1",
		Status:        model.InviteStatusAccepted,
	})
	// The broad alliance-wide query is denied; the inviter-scoped one works.
	mem.DenyQuery = func(collection string, filters []gateway.Filter) bool {
		for _, f := range filters {
			if f.Path == "allianceId" {
				return true
			}
		}
		return false
	}
	svc := newTestService(mem)

	members := svc.ReconcileFromAcceptedInvitations(context.Background(), "A1", Principal{UID: "u1"}, map[string]model.AllianceMember{})
	if _, ok := members["u2"]; !ok {
		t.Error("expected u2 reconciled via the invitedBy fallback query")
	}
	if _, ok := members["u9"]; ok {
		t.Error("invitations for other alliances must be filtered out")
	}
}
