package leveling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"warden-bot/internal/config"
	"warden-bot/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRoles struct {
	mu         sync.Mutex
	held       map[string]bool
	ids        map[string]string
	names      map[string]string
	grants     int
	failGrants int
	staleCache bool
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{held: map[string]bool{}, ids: map[string]string{}, names: map[string]string{}}
}

func (f *fakeRoles) HasRole(_ context.Context, guildID, userID, roleName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleCache {
		return false, nil
	}
	return f.held[guildID+":"+userID+":"+roleName], nil
}

func (f *fakeRoles) EnsureRole(_ context.Context, _ string, roleName string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.ids[roleName]
	if !ok {
		id = fmt.Sprintf("role-%d", len(f.ids)+1)
		f.ids[roleName] = id
		f.names[id] = roleName
	}
	return id, nil
}

func (f *fakeRoles) GrantRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGrants > 0 {
		f.failGrants--
		return errors.New("missing permissions")
	}
	f.held[guildID+":"+userID+":"+f.names[roleID]] = true
	f.grants++
	return nil
}

func (f *fakeRoles) grantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grants
}

type fakeAnnouncer struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeAnnouncer) Announce(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, channelID+"|"+text)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() config.LevelingConfig {
	return config.LevelingConfig{
		StoreTimeoutSeconds: 5,
		SettleWindowSeconds: 30,
		Milestones: []config.MilestoneConfig{
			{Threshold: 10, Role: "Ten", Color: 0x95A5A6},
			{Threshold: 100, Role: "Hundred", Color: 0x95A5A6},
		},
	}
}

func newTestTracker(t *testing.T, roles RoleProvider, announcer Announcer) (*Tracker, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(store.Close)

	tracker, err := New(testConfig(), store, roles, announcer, zap.NewNop())
	require.NoError(t, err)
	return tracker, store
}

func message(userID string) MessageEvent {
	return MessageEvent{GuildID: "g1", ChannelID: "c1", UserID: userID, DisplayName: userID, AnnounceChannelID: "c1"}
}

func TestEvaluateMilestones(t *testing.T) {
	milestones := []Milestone{{Threshold: 10, RoleName: "Ten"}, {Threshold: 100, RoleName: "Hundred"}, {Threshold: 500, RoleName: "FiveHundred"}}

	cases := []struct {
		old, new int64
		want     []int64
	}{
		{0, 9, nil},
		{9, 10, []int64{10}},
		{10, 11, nil},
		{0, 150, []int64{10, 100}},
		{99, 1000, []int64{100, 500}},
		{150, 150, nil},
		{200, 100, nil},
	}
	for _, tc := range cases {
		var got []int64
		for _, m := range EvaluateMilestones(milestones, tc.old, tc.new) {
			got = append(got, m.Threshold)
		}
		assert.Equal(t, tc.want, got, "evaluate(%d, %d)", tc.old, tc.new)
	}
}

func TestNewRejectsInvalidMilestones(t *testing.T) {
	cases := map[string][]config.MilestoneConfig{
		"empty":      nil,
		"unsorted":   {{Threshold: 100, Role: "A"}, {Threshold: 10, Role: "B"}},
		"duplicate":  {{Threshold: 10, Role: "A"}, {Threshold: 10, Role: "B"}},
		"zero":       {{Threshold: 0, Role: "A"}},
		"no role":    {{Threshold: 10, Role: "  "}},
		"role reuse": {{Threshold: 10, Role: "A"}, {Threshold: 20, Role: "a"}},
	}
	for name, milestones := range cases {
		_, err := New(config.LevelingConfig{Milestones: milestones}, nil, nil, nil, zap.NewNop())
		assert.ErrorIs(t, err, ErrInvalidConfiguration, name)
	}
}

func TestProgress(t *testing.T) {
	milestones := []Milestone{{Threshold: 10, RoleName: "Ten"}, {Threshold: 100, RoleName: "Hundred"}}

	current, next := Progress(milestones, 5)
	assert.Nil(t, current)
	require.NotNil(t, next)
	assert.Equal(t, int64(10), next.Threshold)

	current, next = Progress(milestones, 100)
	require.NotNil(t, current)
	assert.Equal(t, "Hundred", current.RoleName)
	assert.Nil(t, next)
}

func TestConcurrentMessagesLoseNoIncrements(t *testing.T) {
	tracker, _ := newTestTracker(t, newFakeRoles(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		for _, user := range []string{"u1", "u2"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, _, err := tracker.RecordMessage(ctx, user, user)
				assert.NoError(t, err)
			}(user)
		}
	}
	wg.Wait()

	for _, user := range []string{"u1", "u2"} {
		count, err := tracker.GetCount(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, int64(40), count, user)
	}
}

func TestTenthMessageGrantsExactlyOnce(t *testing.T) {
	roles := newFakeRoles()
	announcer := &fakeAnnouncer{}
	tracker, _ := newTestTracker(t, roles, announcer)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		result, err := tracker.HandleMessage(ctx, message("u1"))
		require.NoError(t, err)
		assert.Empty(t, result.Awarded)
	}
	count, err := tracker.GetCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), count)
	assert.Equal(t, 0, roles.grantCount())

	result, err := tracker.HandleMessage(ctx, message("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.OldCount)
	assert.Equal(t, int64(10), result.NewCount)
	require.Len(t, result.Awarded, 1)
	assert.Equal(t, "Ten", result.Awarded[0].RoleName)
	assert.Equal(t, 1, roles.grantCount())
	assert.Equal(t, []string{"c1|🎉 Congratulations <@u1>! You've reached **10 messages** and earned the **Ten** role!"}, announcer.messages)

	_, err = tracker.HandleMessage(ctx, message("u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, roles.grantCount())
}

func TestIgnoredMessages(t *testing.T) {
	tracker, _ := newTestTracker(t, newFakeRoles(), nil)
	ctx := context.Background()

	bot := message("bot")
	bot.Automated = true
	dm := message("u1")
	dm.GuildID = ""

	for _, ev := range []MessageEvent{bot, dm} {
		result, err := tracker.HandleMessage(ctx, ev)
		require.NoError(t, err)
		assert.Zero(t, result.NewCount)
	}

	count, err := tracker.GetCount(ctx, "bot")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAwardMilestoneConcurrentDuplicatesGrantOnce(t *testing.T) {
	roles := newFakeRoles()
	roles.staleCache = true
	tracker, _ := newTestTracker(t, roles, nil)
	ctx := context.Background()
	target := Target{GuildID: "g1", UserID: "u1"}
	milestone := tracker.Milestones()[0]

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			granted, err := tracker.AwardMilestone(ctx, target, milestone, false)
			assert.NoError(t, err)
			results[i] = granted
		}(i)
	}
	wg.Wait()

	grants := 0
	for _, granted := range results {
		if granted {
			grants++
		}
	}
	assert.Equal(t, 1, grants)
	assert.Equal(t, 1, roles.grantCount())
}

func TestAwardMilestoneAlreadyHeld(t *testing.T) {
	roles := newFakeRoles()
	roles.held["g1:u1:Ten"] = true
	tracker, _ := newTestTracker(t, roles, nil)

	granted, err := tracker.AwardMilestone(context.Background(), Target{GuildID: "g1", UserID: "u1"}, tracker.Milestones()[0], true)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 0, roles.grantCount())
}

func TestSettleWindowExpires(t *testing.T) {
	roles := newFakeRoles()
	roles.staleCache = true
	tracker, _ := newTestTracker(t, roles, nil)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tracker.WithClock(clock)
	ctx := context.Background()
	target := Target{GuildID: "g1", UserID: "u1"}
	milestone := tracker.Milestones()[0]

	granted, err := tracker.AwardMilestone(ctx, target, milestone, false)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = tracker.AwardMilestone(ctx, target, milestone, false)
	require.NoError(t, err)
	assert.False(t, granted, "second call inside the settle window")

	clock.Advance(31 * time.Second)
	granted, err = tracker.AwardMilestone(ctx, target, milestone, false)
	require.NoError(t, err)
	assert.True(t, granted, "a stale provider is trusted again after the window")
}

func TestRoleGrantFailureRetriedOnNextMessage(t *testing.T) {
	roles := newFakeRoles()
	roles.failGrants = 1
	announcer := &fakeAnnouncer{}
	tracker, store := newTestTracker(t, roles, announcer)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_, err := tracker.HandleMessage(ctx, message("u1"))
		require.NoError(t, err)
	}
	_, err := tracker.HandleMessage(ctx, message("u1"))
	require.ErrorIs(t, err, ErrRoleGrant)
	assert.Equal(t, 0, roles.grantCount())
	assert.Empty(t, announcer.messages)

	uc, _, err := store.GetMessageCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), uc.MessageCount, "the count survives a failed grant")
	through, err := store.AwardedThrough(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Zero(t, through)

	result, err := tracker.HandleMessage(ctx, message("u1"))
	require.NoError(t, err)
	require.Len(t, result.Awarded, 1)
	assert.Equal(t, 1, roles.grantCount())
	assert.Empty(t, announcer.messages, "late grants are silent")
}

func TestAnnouncementFailureKeepsGrant(t *testing.T) {
	roles := newFakeRoles()
	announcer := &fakeAnnouncer{err: errors.New("missing access")}
	tracker, _ := newTestTracker(t, roles, announcer)

	granted, err := tracker.AwardMilestone(context.Background(), Target{GuildID: "g1", UserID: "u1", AnnounceChannelID: "c1"}, tracker.Milestones()[0], true)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 1, roles.grantCount())
}

func TestBulkResyncGrantsCrossedMilestones(t *testing.T) {
	roles := newFakeRoles()
	announcer := &fakeAnnouncer{}
	tracker, _ := newTestTracker(t, roles, announcer)
	ctx := context.Background()
	opts := ResyncOptions{GuildID: "g1", AwardOnApply: true}

	summary, err := tracker.BulkResync(ctx, Entries(map[string]int64{"u1": 150}), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 2, summary.Granted)
	assert.Empty(t, summary.Failures)
	assert.Empty(t, announcer.messages)

	count, err := tracker.GetCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), count)

	summary, err = tracker.BulkResync(ctx, Entries(map[string]int64{"u1": 150}), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Granted)
	assert.Equal(t, 2, roles.grantCount())

	summary, err = tracker.BulkResync(ctx, Entries(map[string]int64{"u1": 40}), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Updated)

	count, err = tracker.GetCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), count)
}

func TestBulkResyncCollectsFailures(t *testing.T) {
	roles := newFakeRoles()
	roles.failGrants = 1
	tracker, _ := newTestTracker(t, roles, nil)

	entries := func(yield func(ResyncEntry) bool) {
		for _, e := range []ResyncEntry{{UserID: "u1", Count: 20}, {UserID: "", Count: 5}, {UserID: "u2", Count: 20}} {
			if !yield(e) {
				return
			}
		}
	}
	summary, err := tracker.BulkResync(context.Background(), entries, ResyncOptions{GuildID: "g1", AwardOnApply: true})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 1, summary.Granted)
	require.Len(t, summary.Failures, 2)
	assert.ErrorIs(t, summary.Failures[0].Err, ErrRoleGrant)
}

func TestBulkResyncStopsOnCancel(t *testing.T) {
	tracker, _ := newTestTracker(t, newFakeRoles(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	entries := func(yield func(ResyncEntry) bool) {
		for i := 0; i < 10; i++ {
			if i == 3 {
				cancel()
			}
			if !yield(ResyncEntry{UserID: fmt.Sprintf("u%d", i), Count: int64(i)}) {
				return
			}
		}
	}
	summary, err := tracker.BulkResync(ctx, entries, ResyncOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, summary.Processed)
}

func TestRankingAgreesWithRank(t *testing.T) {
	tracker, _ := newTestTracker(t, newFakeRoles(), nil)
	ctx := context.Background()

	entries := func(yield func(ResyncEntry) bool) {
		for _, e := range []ResyncEntry{{UserID: "a", Count: 5}, {UserID: "b", Count: 50}, {UserID: "c", Count: 20}, {UserID: "d", Count: 0}} {
			if !yield(e) {
				return
			}
		}
	}
	_, err := tracker.BulkResync(ctx, entries, ResyncOptions{})
	require.NoError(t, err)

	top, err := tracker.GetRanked(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 4)
	assert.Equal(t, []string{"b", "c", "a", "d"}, []string{top[0].UserID, top[1].UserID, top[2].UserID, top[3].UserID})
	assert.Zero(t, top[3].MessageCount)

	for i, uc := range top {
		rank, ok, err := tracker.GetRank(ctx, uc.UserID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i+1, rank)
	}

	_, ok, err := tracker.GetRank(ctx, "stranger")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := tracker.GetCount(ctx, "stranger")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = tracker.GetRanked(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestFormatCount(t *testing.T) {
	cases := map[int64]string{0: "0", 999: "999", 1000: "1,000", 25000: "25,000", 1234567: "1,234,567", -4500: "-4,500"}
	for in, want := range cases {
		assert.Equal(t, want, FormatCount(in))
	}
}

func TestConcurrentCrossingMessageGrantsOnce(t *testing.T) {
	roles := newFakeRoles()
	announcer := &fakeAnnouncer{}
	tracker, _ := newTestTracker(t, roles, announcer)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_, err := tracker.HandleMessage(ctx, message("u1"))
		require.NoError(t, err)
	}

	const deliveries = 8
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.HandleMessage(ctx, message("u1"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := tracker.GetCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(9+deliveries), count)
	assert.Equal(t, 1, roles.grantCount())
	assert.Len(t, announcer.messages, 1)
}

func TestMilestoneWatermarkIsPerGuild(t *testing.T) {
	roles := newFakeRoles()
	tracker, store := newTestTracker(t, roles, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := tracker.HandleMessage(ctx, message("u1"))
		require.NoError(t, err)
	}
	require.Equal(t, 1, roles.grantCount())

	other := message("u1")
	other.GuildID = "g2"
	result, err := tracker.HandleMessage(ctx, other)
	require.NoError(t, err)
	require.Len(t, result.Awarded, 1)
	assert.Equal(t, "Ten", result.Awarded[0].RoleName)
	assert.Equal(t, 2, roles.grantCount(), "the role is owed in every guild the user reaches it in")

	through, err := store.AwardedThrough(ctx, "g2", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), through)
}
