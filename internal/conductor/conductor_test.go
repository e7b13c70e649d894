package conductor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/venuecast/conductor/internal/catalog"
	"github.com/venuecast/conductor/internal/events"
	"github.com/venuecast/conductor/internal/queue"
	"github.com/venuecast/conductor/internal/resolve"
	"github.com/venuecast/conductor/internal/schedule"
)

type fakeCatalog struct {
	tracks      map[string]*catalog.Track
	playlists   map[string][]string
	overrides   map[string]string // "date/slot" -> playlist id
	trackErr    map[string]error
	commercials []string
}

func (f *fakeCatalog) GetTrack(ctx context.Context, id string) (*catalog.Track, error) {
	if err := f.trackErr[id]; err != nil {
		return nil, err
	}
	track, ok := f.tracks[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	copied := *track
	return &copied, nil
}

func (f *fakeCatalog) GetPlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error) {
	ids, ok := f.playlists[playlistID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return ids, nil
}

func (f *fakeCatalog) GetCommercialIDs(ctx context.Context) ([]string, error) {
	return f.commercials, nil
}

func (f *fakeCatalog) GetScheduleOverride(ctx context.Context, date string, slot int) (string, bool, error) {
	id, ok := f.overrides[fmt.Sprintf("%s/%d", date, slot)]
	return id, ok, nil
}

func (f *fakeCatalog) GetFallbackPlaylistID(ctx context.Context, weekday time.Weekday) (string, error) {
	return "", nil
}

func (f *fakeCatalog) ListPlaylistIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

type fixture struct {
	c     *Conductor
	cat   *fakeCatalog
	state *queue.State
	bus   *events.Bus
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := &fakeCatalog{
		tracks:    make(map[string]*catalog.Track),
		playlists: make(map[string][]string),
		overrides: make(map[string]string),
		trackErr:  make(map[string]error),
	}
	state := queue.NewState()
	bus := events.NewBus()
	res := resolve.New(cat, 10, zerolog.Nop())
	sched := schedule.NewResolver(cat, zerolog.Nop())
	c := New(Config{
		Unit:             "test",
		TickInterval:     250 * time.Millisecond,
		CrossfadeWindow:  4 * time.Second,
		LookupRetryLimit: 3,
		RefreshInterval:  time.Hour,
	}, cat, res, sched, state, bus, zerolog.Nop())

	f := &fixture{c: c, cat: cat, state: state, bus: bus}
	f.now = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addTrack(id string, duration float64) {
	f.cat.tracks[id] = &catalog.Track{ID: id, Title: "track " + id, Duration: duration}
}

func (f *fixture) advanceClock(d time.Duration) {
	f.now = f.now.Add(d)
}

func expectEvent(t *testing.T, ch events.Subscriber) events.Payload {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	default:
		t.Fatal("expected an event, bus was silent")
		return nil
	}
}

func expectSilent(t *testing.T, ch events.Subscriber) {
	t.Helper()
	select {
	case payload := <-ch:
		t.Fatalf("unexpected event: %+v", payload)
	default:
	}
}

func TestFirstClientWakesIdleConductor(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 100)
	f.state.SetPlaylist("p-1", []string{"t1"}, false)

	hardCuts := f.bus.Subscribe(events.EventHardCut)
	snap := f.c.clientConnected()

	if snap.Status != StatusPlaying {
		t.Fatalf("expected playing after wake, got %s", snap.Status)
	}
	if snap.Track == nil || snap.Track.ID != "t1" {
		t.Fatalf("unexpected snapshot track: %+v", snap.Track)
	}
	payload := expectEvent(t, hardCuts)
	if payload["buffer"] != "A" {
		t.Fatalf("expected first play on buffer A, got %v", payload["buffer"])
	}
}

func TestIdleStaysIdleAndEmitsStopWhenNothingPlayable(t *testing.T) {
	f := newFixture(t)

	stops := f.bus.Subscribe(events.EventStop)
	snap := f.c.clientConnected()

	if snap.Status != StatusIdle {
		t.Fatalf("expected idle, got %s", snap.Status)
	}
	expectEvent(t, stops)
}

func TestCrossfadeFiresExactlyAtWindowBoundary(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 100)
	f.addTrack("t2", 80)
	f.state.SetPlaylist("p-1", []string{"t1", "t2"}, false)
	f.c.clientConnected()

	fades := f.bus.Subscribe(events.EventBeginCrossfade)

	f.advanceClock(95 * time.Second)
	f.c.tick()
	expectSilent(t, fades)
	if f.c.status() != StatusPlaying {
		t.Fatalf("expected playing at 95s, got %s", f.c.status())
	}

	f.advanceClock(1 * time.Second) // elapsed = 96 = 100 - 4
	f.c.tick()
	payload := expectEvent(t, fades)
	if payload["fade_out_buffer"] != "A" || payload["fade_in_buffer"] != "B" {
		t.Fatalf("unexpected fade buffers: %+v", payload)
	}
	next, ok := payload["next"].(*catalog.Track)
	if !ok || next.ID != "t2" {
		t.Fatalf("unexpected next descriptor: %+v", payload["next"])
	}
	if f.c.status() != StatusTransitioning {
		t.Fatalf("expected transitioning, got %s", f.c.status())
	}
}

func TestEndPointCommitsPeekedResolution(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 100)
	f.cat.tracks["t2"] = &catalog.Track{ID: "t2", Duration: 80, StartOffset: 1.5}
	f.state.SetPlaylist("p-1", []string{"t1", "t2"}, false)
	f.c.clientConnected()

	nowPlaying := f.bus.Subscribe(events.EventNowPlaying)

	f.advanceClock(96 * time.Second)
	f.c.tick() // arms the crossfade
	f.advanceClock(4 * time.Second)
	f.c.tick() // commits at the end point

	payload := expectEvent(t, nowPlaying)
	if payload["buffer"] != "B" {
		t.Fatalf("expected buffer swap to B, got %v", payload["buffer"])
	}
	if f.c.status() != StatusPlaying {
		t.Fatalf("expected playing after commit, got %s", f.c.status())
	}
	if f.c.current.ID != "t2" {
		t.Fatalf("expected t2 playing, got %s", f.c.current.ID)
	}
	if got := f.c.elapsed(f.now); got != 1.5 {
		t.Fatalf("expected elapsed reset to start offset 1.5, got %v", got)
	}
	if f.c.transitioning {
		t.Fatal("transitioning flag not cleared")
	}
}

func TestTrackEndWithEmptyQueuesStops(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 100)
	f.state.SetPlaylist("p-1", []string{"t1"}, false)
	f.c.clientConnected()

	stops := f.bus.Subscribe(events.EventStop)
	f.advanceClock(100 * time.Second)
	f.c.tick()

	expectEvent(t, stops)
	if f.c.status() != StatusIdle {
		t.Fatalf("expected idle after drain, got %s", f.c.status())
	}
}

func TestEndOffsetTrimsPlayableRange(t *testing.T) {
	f := newFixture(t)
	f.cat.tracks["t1"] = &catalog.Track{ID: "t1", Duration: 100, EndOffset: 50}
	f.addTrack("t2", 60)
	f.state.SetPlaylist("p-1", []string{"t1", "t2"}, false)
	f.c.clientConnected()

	fades := f.bus.Subscribe(events.EventBeginCrossfade)
	f.advanceClock(46 * time.Second) // 50 - 4
	f.c.tick()
	expectEvent(t, fades)
}

func TestUnusableTracksAreDroppedWithBoundedRetries(t *testing.T) {
	f := newFixture(t)
	f.cat.trackErr["bad-1"] = errors.New("metadata fetch failed")
	f.cat.trackErr["bad-2"] = errors.New("metadata fetch failed")
	f.addTrack("good", 60)
	f.state.SetPlaylist("p-1", []string{"bad-1", "bad-2", "good"}, false)

	snap := f.c.clientConnected()
	if snap.Status != StatusPlaying || snap.Track.ID != "good" {
		t.Fatalf("expected to land on good track, got %+v", snap)
	}
	if got := f.state.CursorIDs(); len(got) != 0 {
		t.Fatalf("expected drained cursor, got %v", got)
	}
}

func TestRetryBoundFallsBackToSilence(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("bad-%d", i)
		f.cat.trackErr[id] = errors.New("metadata fetch failed")
		f.state.EnqueueManual(id)
	}

	snap := f.c.clientConnected()
	if snap.Status != StatusIdle {
		t.Fatalf("expected silence after retry bound, got %s", snap.Status)
	}
	// Only the bounded number of ids may have been consumed.
	if remaining := len(f.state.ManualIDs()); remaining < 2 {
		t.Fatalf("retry loop consumed too many ids, %d remaining", remaining)
	}
}

func TestUnplayableReportForcesImmediateSkip(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 100)
	f.addTrack("t2", 80)
	f.state.SetPlaylist("p-1", []string{"t1", "t2"}, false)
	f.c.clientConnected()

	hardCuts := f.bus.Subscribe(events.EventHardCut)
	f.advanceClock(10 * time.Second)
	f.c.reportUnplayable("t1")

	payload := expectEvent(t, hardCuts)
	track := payload["track"].(*catalog.Track)
	if track.ID != "t2" {
		t.Fatalf("expected skip to t2, got %s", track.ID)
	}
}

func TestStaleUnplayableReportIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 100)
	f.state.SetPlaylist("p-1", []string{"t1"}, false)
	f.c.clientConnected()

	f.c.reportUnplayable("something-else")
	if f.c.current == nil || f.c.current.ID != "t1" {
		t.Fatal("stale report disturbed playback")
	}
}

func TestSkipCancelsPeekedResolution(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 100)
	f.addTrack("t2", 80)
	f.addTrack("c-1", 30)
	f.state.SetPlaylist("p-1", []string{"t1", "t2"}, false)
	f.c.clientConnected()

	// Arm the crossfade so t2 is peeked.
	f.advanceClock(96 * time.Second)
	f.c.tick()

	// A manual commercial lands, then the operator skips: the commercial
	// must win over the stale peek.
	f.state.EnqueueManual("c-1")
	f.c.skipNow()

	if f.c.current.ID != "c-1" {
		t.Fatalf("expected forced commercial c-1, got %s", f.c.current.ID)
	}
}

func TestScheduleOverrideAppliedAtSlotBoundary(t *testing.T) {
	f := newFixture(t)
	f.addTrack("s1", 60)
	f.cat.playlists["p-sched"] = []string{"s1"}
	// now starts at 12:00 -> slot 72; the override sits in the next slot.
	f.cat.overrides["2026-01-05/73"] = "p-sched"

	f.c.clientConnected() // idle, nothing playable yet

	changed := f.bus.Subscribe(events.EventPlaylistChanged)
	f.advanceClock(10 * time.Minute)
	f.c.tick()

	payload := expectEvent(t, changed)
	if payload["playlist_id"] != "p-sched" {
		t.Fatalf("unexpected playlist: %v", payload["playlist_id"])
	}
	if f.c.status() != StatusPlaying || f.c.current.ID != "s1" {
		t.Fatalf("expected scheduled playlist to start, got %s", f.c.status())
	}
	if !f.state.Scheduled() {
		t.Fatal("cursor not marked scheduled")
	}
}

func TestSlotCheckSkippedWithoutClients(t *testing.T) {
	f := newFixture(t)
	f.cat.playlists["p-sched"] = []string{"s1"}
	f.cat.overrides["2026-01-05/73"] = "p-sched"

	f.advanceClock(10 * time.Minute)
	f.c.tick()

	if f.state.PlaylistID() != "" {
		t.Fatal("slot check ran with zero clients connected")
	}
}

func TestProgressEventsAreInformational(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 200)
	f.state.SetPlaylist("p-1", []string{"t1"}, false)
	f.c.clientConnected()

	progress := f.bus.Subscribe(events.EventProgress)
	f.advanceClock(37*time.Second + 500*time.Millisecond)
	f.c.tick()

	payload := expectEvent(t, progress)
	if payload["elapsed"].(float64) != 37.5 {
		t.Fatalf("unexpected elapsed: %v", payload["elapsed"])
	}
	if payload["total"].(float64) != 200.0 {
		t.Fatalf("unexpected total: %v", payload["total"])
	}
}

func TestSnapshotReflectsElapsedForReconnect(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 200)
	f.state.SetPlaylist("p-1", []string{"t1"}, false)
	f.c.clientConnected()

	f.advanceClock(37*time.Second + 500*time.Millisecond)
	snap := f.c.snapshot()
	if snap.Elapsed != 37.5 {
		t.Fatalf("expected elapsed 37.5, got %v", snap.Elapsed)
	}
	if snap.ActiveBuffer != BufferA {
		t.Fatalf("expected buffer A, got %s", snap.ActiveBuffer)
	}
}

func TestPauseFreezesElapsedAndResumeContinues(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 200)
	f.state.SetPlaylist("p-1", []string{"t1"}, false)
	f.c.clientConnected()

	f.advanceClock(10 * time.Second)
	f.c.pause()
	f.advanceClock(30 * time.Second)
	if got := f.c.elapsed(f.now); got != 10 {
		t.Fatalf("expected frozen elapsed 10, got %v", got)
	}

	f.c.resume()
	f.advanceClock(5 * time.Second)
	if got := f.c.elapsed(f.now); got != 15 {
		t.Fatalf("expected elapsed 15 after resume, got %v", got)
	}
}

func TestRequestDedupAgainstCurrentlyPlaying(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 200)
	f.state.SetPlaylist("p-1", []string{"t1"}, false)
	f.c.clientConnected()

	if _, err := f.c.enqueueRequest("t1", "bar", "alice"); !errors.Is(err, queue.ErrDuplicateRequest) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := f.c.enqueueRequest("other", "bar", "alice"); err != nil {
		t.Fatalf("expected distinct request to pass, got %v", err)
	}
}

func TestStatusExclusivity(t *testing.T) {
	f := newFixture(t)
	f.addTrack("t1", 100)
	f.addTrack("t2", 80)
	f.state.SetPlaylist("p-1", []string{"t1", "t2"}, false)

	if f.c.status() != StatusIdle {
		t.Fatalf("fresh conductor not idle: %s", f.c.status())
	}

	f.c.clientConnected()
	if f.c.status() != StatusPlaying {
		t.Fatalf("expected playing, got %s", f.c.status())
	}

	f.advanceClock(96 * time.Second)
	f.c.tick()
	if f.c.status() != StatusTransitioning {
		t.Fatalf("expected transitioning, got %s", f.c.status())
	}
	if f.c.current == nil {
		t.Fatal("transitioning without a current track")
	}
}

func TestForceCommercialFromPool(t *testing.T) {
	f := newFixture(t)
	f.addTrack("c-1", 30)
	f.state.SetCommercialPool([]string{"c-1"})

	f.c.clientConnected()
	if err := f.c.forceCommercial(""); err != nil {
		t.Fatalf("force commercial: %v", err)
	}
	if f.c.current == nil || f.c.current.ID != "c-1" {
		t.Fatal("expected forced commercial to start from idle")
	}
	if f.state.Counter() != 0 {
		t.Fatalf("commercial play must reset counter, got %d", f.state.Counter())
	}
}

func TestForceCommercialWithEmptyPool(t *testing.T) {
	f := newFixture(t)
	if err := f.c.forceCommercial(""); !errors.Is(err, ErrNoCommercials) {
		t.Fatalf("expected ErrNoCommercials, got %v", err)
	}
}
