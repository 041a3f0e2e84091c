package channels

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/coterie-ai/coterie/internal/runtime"
	"github.com/coterie-ai/coterie/internal/store"
	"github.com/coterie-ai/coterie/internal/store/sqlite"
)

// fakeRuntime records prompts and runs an optional hook on Send.
type fakeRuntime struct {
	id      string
	factory *fakeFactory

	mu          sync.Mutex
	prompts     []string
	initialized int
	disconnects int
}

func (f *fakeRuntime) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized++
	return nil
}

func (f *fakeRuntime) Send(ctx context.Context, prompt string) error {
	inFlight := atomic.AddInt32(&f.factory.inFlight, 1)
	defer atomic.AddInt32(&f.factory.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&f.factory.maxInFlight)
		if inFlight <= peak || atomic.CompareAndSwapInt32(&f.factory.maxInFlight, peak, inFlight) {
			break
		}
	}

	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if hook := f.factory.onSend; hook != nil {
		return hook(ctx, f.id, prompt)
	}
	return nil
}

func (f *fakeRuntime) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeRuntime) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeFactory hands out one fakeRuntime per agent id and tracks
// cross-runtime concurrency.
type fakeFactory struct {
	mu       sync.Mutex
	runtimes map[string]*fakeRuntime
	created  int

	onSend func(ctx context.Context, agentID, prompt string) error

	inFlight    int32
	maxInFlight int32
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{runtimes: make(map[string]*fakeRuntime)}
}

func (f *fakeFactory) factory() runtime.Factory {
	return func(agentID, agentName string) runtime.AgentRuntime {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.created++
		rt := &fakeRuntime{id: agentID, factory: f}
		f.runtimes[agentID] = rt
		return rt
	}
}

func (f *fakeFactory) runtimeFor(id string) *fakeRuntime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runtimes[id]
}

func (f *fakeFactory) totalPrompts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rt := range f.runtimes {
		n += rt.promptCount()
	}
	return n
}

// testPoolConfig removes all delays and fixes the seed so batches run
// instantly and deterministically.
func testPoolConfig(maxRounds int) PoolConfig {
	return PoolConfig{MaxRounds: maxRounds, Seed: 42}
}

func assistant(id, name string) store.ChannelMemberData {
	return store.ChannelMemberData{MemberID: id, MemberName: name, MemberType: store.MemberTypeAssistant}
}

func person(id, name string) store.ChannelMemberData {
	return store.ChannelMemberData{MemberID: id, MemberName: name, MemberType: store.MemberTypePerson}
}

func newTestPool(t *testing.T, maxRounds int) (*AgentPool, *fakeFactory, store.ChannelStore) {
	t.Helper()
	db, err := sqlite.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := sqlite.NewSQLiteChannelStore(db)
	f := newFakeFactory()
	return NewAgentPool(st, f.factory(), testPoolConfig(maxRounds)), f, st
}

func TestTriggerResponses_AllAssistantsNoMentions(t *testing.T) {
	pool, f, _ := newTestPool(t, 1)
	members := []store.ChannelMemberData{
		assistant("ada", "Ada"),
		assistant("grace", "Grace"),
		person("person:sam", "Sam"),
	}

	pool.TriggerResponses(context.Background(), "general", "Sam", "hello all", members, "")

	for _, id := range []string{"ada", "grace"} {
		rt := f.runtimeFor(id)
		if rt == nil || rt.promptCount() != 1 {
			t.Errorf("assistant %s got no turn", id)
		}
	}
	if f.runtimeFor("person:sam") != nil {
		t.Error("person member was scheduled")
	}
}

func TestTriggerResponses_MentionNarrowing(t *testing.T) {
	pool, f, _ := newTestPool(t, 1)
	members := []store.ChannelMemberData{
		assistant("ada", "Ada"),
		assistant("grace", "Grace"),
		assistant("linus", "Linus"),
	}

	pool.TriggerResponses(context.Background(), "general", "Sam", "hey @Grace can you check?", members, "")

	if rt := f.runtimeFor("grace"); rt == nil || rt.promptCount() != 1 {
		t.Error("mentioned assistant got no turn")
	}
	if f.runtimeFor("ada") != nil || f.runtimeFor("linus") != nil {
		t.Error("unmentioned assistants were scheduled")
	}
}

// TestTriggerResponses_UnresolvedMentionAborts verifies an
// unrecognized @handle schedules nobody instead of falling back to the
// whole channel.
func TestTriggerResponses_UnresolvedMentionAborts(t *testing.T) {
	pool, f, _ := newTestPool(t, 1)
	members := []store.ChannelMemberData{
		assistant("ada", "Ada"),
		assistant("grace", "Grace"),
	}

	pool.TriggerResponses(context.Background(), "general", "Sam", "ping @Zelda", members, "")

	if n := f.totalPrompts(); n != 0 {
		t.Errorf("unresolved mention scheduled %d turns, want 0", n)
	}
}

func TestTriggerResponses_NoAssistants(t *testing.T) {
	pool, f, _ := newTestPool(t, 1)
	members := []store.ChannelMemberData{person("person:sam", "Sam")}

	pool.TriggerResponses(context.Background(), "general", "Sam", "anyone here?", members, "")

	if n := f.totalPrompts(); n != 0 {
		t.Errorf("scheduled %d turns with no assistants", n)
	}
}

func TestTriggerResponses_ExcludesForegroundAgent(t *testing.T) {
	pool, f, _ := newTestPool(t, 1)
	members := []store.ChannelMemberData{
		assistant("ada", "Ada"),
		assistant("grace", "Grace"),
	}

	pool.TriggerResponses(context.Background(), "general", "Sam", "hello", members, "ada")

	if f.runtimeFor("ada") != nil {
		t.Error("excluded agent was scheduled")
	}
	if rt := f.runtimeFor("grace"); rt == nil || rt.promptCount() != 1 {
		t.Error("remaining agent got no turn")
	}
}

// TestTriggerResponses_TurnsAreSequential verifies turns never overlap
// within a batch.
func TestTriggerResponses_TurnsAreSequential(t *testing.T) {
	pool, f, _ := newTestPool(t, 1)
	members := []store.ChannelMemberData{
		assistant("a1", "One"),
		assistant("a2", "Two"),
		assistant("a3", "Three"),
		assistant("a4", "Four"),
	}

	pool.TriggerResponses(context.Background(), "general", "Sam", "hello", members, "")

	if f.totalPrompts() != 4 {
		t.Fatalf("total turns = %d, want 4", f.totalPrompts())
	}
	if peak := atomic.LoadInt32(&f.maxInFlight); peak != 1 {
		t.Errorf("max concurrent turns = %d, want 1", peak)
	}
}

// TestTriggerResponses_DropsWhileBatchRunning verifies the drop-not-
// queue policy: a trigger landing mid-batch is a no-op.
func TestTriggerResponses_DropsWhileBatchRunning(t *testing.T) {
	pool, f, _ := newTestPool(t, 1)
	members := []store.ChannelMemberData{assistant("ada", "Ada")}

	entered := make(chan struct{})
	release := make(chan struct{})
	f.onSend = func(ctx context.Context, agentID, prompt string) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan struct{})
	go func() {
		pool.TriggerResponses(context.Background(), "general", "Sam", "first", members, "")
		close(done)
	}()

	<-entered
	// Second trigger while the first batch is blocked inside a turn.
	pool.TriggerResponses(context.Background(), "general", "Sam", "second", members, "")
	close(release)
	<-done

	if n := f.runtimeFor("ada").promptCount(); n != 1 {
		t.Errorf("turns = %d, want 1 (second trigger dropped)", n)
	}

	// The pool accepts triggers again once the batch is over.
	f.onSend = nil
	pool.TriggerResponses(context.Background(), "general", "Sam", "third", members, "")
	if n := f.runtimeFor("ada").promptCount(); n != 2 {
		t.Errorf("turns after batch end = %d, want 2", n)
	}
}

// TestTriggerResponses_FollowUpRound verifies round 2 targets only the
// agents that still have unread messages, with the follow-up prompt.
func TestTriggerResponses_FollowUpRound(t *testing.T) {
	pool, f, st := newTestPool(t, 2)
	ctx := context.Background()

	ch, err := st.CreateChannel(ctx, "general", "", "person:sam", "Sam")
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	for _, m := range []store.ChannelMemberData{assistant("grace", "Grace"), assistant("linus", "Linus")} {
		m.ChannelID = ch.ID
		m.Role = store.RoleMember
		if err := st.AddMember(ctx, &m); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	if _, err := st.SendMessage(ctx, ch.ID, "person:sam", "Sam", "hello agents"); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	// Grace replies during her turn (which also advances her cursor);
	// Linus stays silent and never reads.
	f.onSend = func(ctx context.Context, agentID, prompt string) error {
		if agentID == "grace" && strings.Contains(prompt, "New message") {
			if _, err := st.SendMessage(ctx, ch.ID, "grace", "Grace", "on it"); err != nil {
				t.Errorf("grace reply: %v", err)
			}
		}
		return nil
	}

	members, _ := st.GetMembers(ctx, ch.ID)
	pool.TriggerResponses(ctx, "general", "Sam", "hello agents", members, "")

	grace := f.runtimeFor("grace")
	linus := f.runtimeFor("linus")
	if grace == nil || linus == nil {
		t.Fatal("both assistants should have run in round 1")
	}

	// Linus has unread traffic (Sam's message plus Grace's reply) and
	// gets a follow-up turn; Grace's reply settled her out.
	linusPrompts := linus.prompts
	if len(linusPrompts) != 2 {
		t.Fatalf("linus turns = %d, want 2", len(linusPrompts))
	}
	if !strings.Contains(linusPrompts[1], "unread messages") {
		t.Errorf("follow-up prompt = %q", linusPrompts[1])
	}
	if grace.promptCount() != 1 {
		t.Errorf("grace turns = %d, want 1 (settled after replying)", grace.promptCount())
	}
}

// TestTriggerResponses_SingleRoundByDefault verifies MaxRounds=1 never
// issues follow-up turns even when unread messages remain.
func TestTriggerResponses_SingleRoundByDefault(t *testing.T) {
	pool, f, st := newTestPool(t, 1)
	ctx := context.Background()

	ch, _ := st.CreateChannel(ctx, "general", "", "person:sam", "Sam")
	m := assistant("grace", "Grace")
	m.ChannelID = ch.ID
	st.AddMember(ctx, &m)
	st.SendMessage(ctx, ch.ID, "person:sam", "Sam", "hello")

	members, _ := st.GetMembers(ctx, ch.ID)
	pool.TriggerResponses(ctx, "general", "Sam", "hello", members, "")

	// Grace never read, so unread remains, but there is no round 2.
	if n := f.runtimeFor("grace").promptCount(); n != 1 {
		t.Errorf("turns = %d, want 1", n)
	}
}

// TestHandleCaching verifies one runtime handle per identity across
// batches, initialized once, and disposed by Shutdown.
func TestHandleCaching(t *testing.T) {
	pool, f, _ := newTestPool(t, 1)
	members := []store.ChannelMemberData{assistant("ada", "Ada")}

	pool.TriggerResponses(context.Background(), "general", "Sam", "one", members, "")
	pool.TriggerResponses(context.Background(), "general", "Sam", "two", members, "")

	f.mu.Lock()
	created := f.created
	f.mu.Unlock()
	if created != 1 {
		t.Errorf("factory calls = %d, want 1", created)
	}

	rt := f.runtimeFor("ada")
	rt.mu.Lock()
	inits := rt.initialized
	rt.mu.Unlock()
	if inits != 1 {
		t.Errorf("initialize calls = %d, want 1", inits)
	}

	pool.Shutdown()
	rt.mu.Lock()
	disconnects := rt.disconnects
	rt.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("disconnect calls = %d, want 1", disconnects)
	}

	// Fresh handle after shutdown.
	pool.TriggerResponses(context.Background(), "general", "Sam", "three", members, "")
	f.mu.Lock()
	created = f.created
	f.mu.Unlock()
	if created != 2 {
		t.Errorf("factory calls after shutdown = %d, want 2", created)
	}
}
