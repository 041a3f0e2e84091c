package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/coterie-ai/coterie/internal/store"
)

func newTestStore(t *testing.T) *SQLiteChannelStore {
	t.Helper()
	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteChannelStore(db)
}

// TestCreateChannel_NormalizedUniqueness verifies that "#General" and
// "general" are the same channel and that the second create fails.
func TestCreateChannel_NormalizedUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.CreateChannel(ctx, "#General", "team chat", "agent-1", "Ada")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ch.Name != "general" {
		t.Errorf("stored name = %q, want %q", ch.Name, "general")
	}
	if ch.Status != store.ChannelStatusActive {
		t.Errorf("status = %q, want active", ch.Status)
	}

	if _, err := s.CreateChannel(ctx, "general", "", "agent-2", "Grace"); err != store.ErrChannelExists {
		t.Fatalf("duplicate create error = %v, want ErrChannelExists", err)
	}
	if _, err := s.CreateChannel(ctx, "#GENERAL", "", "agent-2", "Grace"); err != store.ErrChannelExists {
		t.Fatalf("case variant create error = %v, want ErrChannelExists", err)
	}
}

// TestCreateChannel_CreatorIsOwner verifies the creator lands in the
// member list with the owner role.
func TestCreateChannel_CreatorIsOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.CreateChannel(ctx, "ops", "", "agent-1", "Ada")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	members, err := s.GetMembers(ctx, ch.ID)
	if err != nil {
		t.Fatalf("get members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("member count = %d, want 1", len(members))
	}
	m := members[0]
	if m.MemberID != "agent-1" || m.Role != store.RoleOwner {
		t.Errorf("creator member = %+v, want owner agent-1", m)
	}
	if m.LastReadAt != nil {
		t.Errorf("fresh member should have nil read cursor, got %v", m.LastReadAt)
	}
}

func TestResolveChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.CreateChannel(ctx, "general", "", "agent-1", "Ada")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	byID, err := s.ResolveChannel(ctx, ch.ID.String())
	if err != nil || byID == nil || byID.ID != ch.ID {
		t.Fatalf("resolve by id = %v, %v", byID, err)
	}

	byName, err := s.ResolveChannel(ctx, "#General")
	if err != nil || byName == nil || byName.ID != ch.ID {
		t.Fatalf("resolve by name = %v, %v", byName, err)
	}

	missing, err := s.ResolveChannel(ctx, "nope")
	if err != nil {
		t.Fatalf("resolve missing: %v", err)
	}
	if missing != nil {
		t.Errorf("resolve missing = %+v, want nil", missing)
	}
}

// TestUnread_SenderCursorAdvances verifies the core cursor invariants:
// a sender's own message is never unread to them, and other members see
// it until their cursor passes it.
func TestUnread_SenderCursorAdvances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.CreateChannel(ctx, "general", "", "ada", "Ada")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.AddMember(ctx, &store.ChannelMemberData{
		ChannelID: ch.ID, MemberID: "grace", MemberName: "Grace",
		Role: store.RoleMember, MemberType: store.MemberTypeAssistant,
	}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	msg, err := s.SendMessage(ctx, ch.ID, "ada", "Ada", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	adaUnread, err := s.GetUnreadMessages(ctx, ch.ID, "ada")
	if err != nil {
		t.Fatalf("unread ada: %v", err)
	}
	if len(adaUnread) != 0 {
		t.Errorf("sender sees own message as unread: %d", len(adaUnread))
	}

	graceUnread, err := s.GetUnreadMessages(ctx, ch.ID, "grace")
	if err != nil {
		t.Fatalf("unread grace: %v", err)
	}
	if len(graceUnread) != 1 || graceUnread[0].Content != "hello" {
		t.Fatalf("grace unread = %+v, want the hello message", graceUnread)
	}

	if err := s.MarkReadAt(ctx, ch.ID, "grace", msg.CreatedAt); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	graceUnread, err = s.GetUnreadMessages(ctx, ch.ID, "grace")
	if err != nil {
		t.Fatalf("unread grace after mark: %v", err)
	}
	if len(graceUnread) != 0 {
		t.Errorf("grace still has %d unread after marking at message timestamp", len(graceUnread))
	}
}

// TestMarkReadAt_NeverMovesBackward verifies the cursor only advances.
func TestMarkReadAt_NeverMovesBackward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, _ := s.CreateChannel(ctx, "general", "", "ada", "Ada")
	s.AddMember(ctx, &store.ChannelMemberData{
		ChannelID: ch.ID, MemberID: "grace", MemberName: "Grace",
		Role: store.RoleMember, MemberType: store.MemberTypeAssistant,
	})

	msg, err := s.SendMessage(ctx, ch.ID, "ada", "Ada", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := s.MarkReadAt(ctx, ch.ID, "grace", msg.CreatedAt); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// An older mark must not resurrect the message.
	if err := s.MarkReadAt(ctx, ch.ID, "grace", msg.CreatedAt.Add(-time.Hour)); err != nil {
		t.Fatalf("mark read backward: %v", err)
	}

	unread, err := s.GetUnreadMessages(ctx, ch.ID, "grace")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("backward cursor move resurrected %d messages", len(unread))
	}
}

func TestGetMessages_PagingAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, _ := s.CreateChannel(ctx, "general", "", "ada", "Ada")
	var sent []*store.ChannelMessageData
	for _, content := range []string{"one", "two", "three", "four"} {
		m, err := s.SendMessage(ctx, ch.ID, "ada", "Ada", content)
		if err != nil {
			t.Fatalf("send %s: %v", content, err)
		}
		sent = append(sent, m)
	}

	// Latest two, chronological order.
	msgs, err := s.GetMessages(ctx, ch.ID, store.MessageQueryOpts{Limit: 2})
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "three" || msgs[1].Content != "four" {
		t.Fatalf("latest two = %v", contents(msgs))
	}

	// Before the third message: the two before it.
	before := sent[2].CreatedAt
	msgs, err = s.GetMessages(ctx, ch.ID, store.MessageQueryOpts{Limit: 10, Before: &before})
	if err != nil {
		t.Fatalf("get messages before: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "one" || msgs[1].Content != "two" {
		t.Fatalf("before page = %v", contents(msgs))
	}
}

func contents(msgs []store.ChannelMessageData) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// TestListChannels_MemberOverview verifies per-member stats: member
// count, unread count and the last-message preview.
func TestListChannels_MemberOverview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, _ := s.CreateChannel(ctx, "general", "", "ada", "Ada")
	s.AddMember(ctx, &store.ChannelMemberData{
		ChannelID: ch.ID, MemberID: "grace", MemberName: "Grace",
		Role: store.RoleMember, MemberType: store.MemberTypeAssistant,
	})
	s.SendMessage(ctx, ch.ID, "grace", "Grace", "first")
	s.SendMessage(ctx, ch.ID, "grace", "Grace", "second")

	list, err := s.ListChannels(ctx, store.ChannelListOpts{
		Status: store.ChannelStatusActive, MemberID: "ada",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list length = %d, want 1", len(list))
	}
	o := list[0]
	if o.MemberCount != 2 {
		t.Errorf("member count = %d, want 2", o.MemberCount)
	}
	if o.UnreadCount != 2 {
		t.Errorf("unread count = %d, want 2", o.UnreadCount)
	}
	if o.LastMessagePreview != "second" {
		t.Errorf("preview = %q, want %q", o.LastMessagePreview, "second")
	}
	if o.LastMessageAt == nil {
		t.Error("last message timestamp missing")
	}

	// Non-members see nothing.
	list, err = s.ListChannels(ctx, store.ChannelListOpts{MemberID: "linus"})
	if err != nil {
		t.Fatalf("list non-member: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("non-member sees %d channels", len(list))
	}
}

func TestArchiveChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, _ := s.CreateChannel(ctx, "general", "", "ada", "Ada")

	changed, err := s.ArchiveChannel(ctx, ch.ID)
	if err != nil || !changed {
		t.Fatalf("archive = %v, %v, want true", changed, err)
	}
	// Archiving twice is a no-op.
	changed, err = s.ArchiveChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if changed {
		t.Error("second archive reported a change")
	}

	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.ChannelStatusArchived {
		t.Errorf("status = %q, want archived", got.Status)
	}
}

// TestGetAllUnreadMessages_SkipsArchived verifies cross-channel unread
// collection honors channel status and the total cap.
func TestGetAllUnreadMessages_SkipsArchived(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live, _ := s.CreateChannel(ctx, "live", "", "ada", "Ada")
	dead, _ := s.CreateChannel(ctx, "dead", "", "ada", "Ada")
	for _, ch := range []*store.ChannelData{live, dead} {
		s.AddMember(ctx, &store.ChannelMemberData{
			ChannelID: ch.ID, MemberID: "grace", MemberName: "Grace",
			Role: store.RoleMember, MemberType: store.MemberTypeAssistant,
		})
		s.SendMessage(ctx, ch.ID, "ada", "Ada", "ping "+ch.Name)
	}
	if _, err := s.ArchiveChannel(ctx, dead.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	msgs, err := s.GetAllUnreadMessages(ctx, "grace", 10)
	if err != nil {
		t.Fatalf("all unread: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ChannelID != live.ID {
		t.Fatalf("all unread = %+v, want only the live channel message", msgs)
	}

	// Cap applies across channels.
	for i := 0; i < 5; i++ {
		s.SendMessage(ctx, live.ID, "ada", "Ada", "more")
	}
	msgs, err = s.GetAllUnreadMessages(ctx, "grace", 3)
	if err != nil {
		t.Fatalf("all unread capped: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("capped unread = %d, want 3", len(msgs))
	}
}

func TestGetUnreadCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateChannel(ctx, "alpha", "", "ada", "Ada")
	b, _ := s.CreateChannel(ctx, "beta", "", "ada", "Ada")
	for _, ch := range []*store.ChannelData{a, b} {
		s.AddMember(ctx, &store.ChannelMemberData{
			ChannelID: ch.ID, MemberID: "grace", MemberName: "Grace",
			Role: store.RoleMember, MemberType: store.MemberTypeAssistant,
		})
	}
	s.SendMessage(ctx, a.ID, "ada", "Ada", "one")
	s.SendMessage(ctx, a.ID, "ada", "Ada", "two")
	s.SendMessage(ctx, b.ID, "ada", "Ada", "three")

	counts, err := s.GetUnreadCounts(ctx, "grace")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[a.ID] != 2 || counts[b.ID] != 1 {
		t.Errorf("counts = %v, want alpha:2 beta:1", counts)
	}

	// The sender has no unread anywhere.
	counts, err = s.GetUnreadCounts(ctx, "ada")
	if err != nil {
		t.Fatalf("sender counts: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("sender counts = %v, want empty", counts)
	}
}

// TestCleanup_OverCap verifies retention deletes exactly the oldest
// messages over the per-channel cap.
func TestCleanup_OverCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, _ := s.CreateChannel(ctx, "general", "", "ada", "Ada")
	for i := 0; i < 20; i++ {
		if _, err := s.SendMessage(ctx, ch.ID, "ada", "Ada", "msg"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	deleted, err := s.Cleanup(ctx, 0, 15)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 5 {
		t.Errorf("deleted = %d, want 5", deleted)
	}

	msgs, err := s.GetMessages(ctx, ch.ID, store.MessageQueryOpts{Limit: 100})
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 15 {
		t.Errorf("remaining = %d, want 15", len(msgs))
	}

	// Under the cap: nothing more to delete.
	deleted, err = s.Cleanup(ctx, 0, 15)
	if err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if deleted != 0 {
		t.Errorf("second cleanup deleted %d", deleted)
	}
}

// TestCleanup_MaxAge verifies age-based expiry via a backdated row.
func TestCleanup_MaxAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, _ := s.CreateChannel(ctx, "general", "", "ada", "Ada")
	old, err := s.SendMessage(ctx, ch.ID, "ada", "Ada", "ancient")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	s.SendMessage(ctx, ch.ID, "ada", "Ada", "recent")

	// Backdate the first message past the retention window.
	backdated := time.Now().UTC().AddDate(0, 0, -91)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE channel_messages SET created_at = ? WHERE id = ?`,
		toMicros(backdated), old.ID.String()); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	deleted, err := s.Cleanup(ctx, 90, 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	msgs, _ := s.GetMessages(ctx, ch.ID, store.MessageQueryOpts{Limit: 10})
	if len(msgs) != 1 || msgs[0].Content != "recent" {
		t.Errorf("remaining = %v, want only the recent message", contents(msgs))
	}
}

func TestAddMember_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, _ := s.CreateChannel(ctx, "general", "", "ada", "Ada")
	m := &store.ChannelMemberData{
		ChannelID: ch.ID, MemberID: "grace", MemberName: "Grace",
		Role: store.RoleMember, MemberType: store.MemberTypePerson,
	}
	if err := s.AddMember(ctx, m); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddMember(ctx, m); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	members, _ := s.GetMembers(ctx, ch.ID)
	if len(members) != 2 {
		t.Errorf("member count = %d, want 2", len(members))
	}

	ok, err := s.IsMember(ctx, ch.ID, "grace")
	if err != nil || !ok {
		t.Errorf("IsMember(grace) = %v, %v", ok, err)
	}
	if err := s.RemoveMember(ctx, ch.ID, "grace"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ok, _ = s.IsMember(ctx, ch.ID, "grace")
	if ok {
		t.Error("grace still a member after removal")
	}
}
