package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/venuecast/conductor/internal/catalog"
	"github.com/venuecast/conductor/internal/conductor"
)

type fakeBuffer struct {
	mu      sync.Mutex
	loaded  *catalog.Track
	playing bool
	paused  bool
	volume  float64
	seekTo  float64
	loadErr error

	volumes []float64
}

func (b *fakeBuffer) Load(ctx context.Context, track *catalog.Track) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return b.loadErr
	}
	b.loaded = track
	return nil
}

func (b *fakeBuffer) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playing = true
	b.paused = false
	return nil
}

func (b *fakeBuffer) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
	return nil
}

func (b *fakeBuffer) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playing = false
	b.loaded = nil
	return nil
}

func (b *fakeBuffer) Seek(seconds float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seekTo = seconds
	return nil
}

func (b *fakeBuffer) SetVolume(volume float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = volume
	b.volumes = append(b.volumes, volume)
	return nil
}

func (b *fakeBuffer) state() (playing bool, volume, seekTo float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing, b.volume, b.seekTo
}

type fakeReporter struct {
	mu       sync.Mutex
	reported []string
}

func (r *fakeReporter) ReportUnplayable(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, trackID)
}

func newTestController() (*Controller, *fakeBuffer, *fakeBuffer, *fakeReporter) {
	a := &fakeBuffer{}
	b := &fakeBuffer{}
	reporter := &fakeReporter{}
	cfg := Config{FadeInterval: 2 * time.Millisecond, SeekCompensation: 2 * time.Second}
	return NewController(cfg, a, b, reporter, zerolog.Nop()), a, b, reporter
}

func TestSnapshotSeeksWithCompensation(t *testing.T) {
	c, a, _, _ := newTestController()
	track := &catalog.Track{ID: "t1", Duration: 300}

	err := c.ApplySnapshot(context.Background(), conductor.Snapshot{
		Status:       conductor.StatusPlaying,
		Track:        track,
		Elapsed:      37.5,
		ActiveBuffer: conductor.BufferA,
	})
	if err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}

	playing, volume, seekTo := a.state()
	if !playing || volume != 1 {
		t.Fatalf("buffer A not playing at full volume: playing=%v volume=%v", playing, volume)
	}
	if seekTo != 39.5 {
		t.Fatalf("expected compensated seek to 39.5, got %v", seekTo)
	}
}

func TestSnapshotClampsSeekToEndPoint(t *testing.T) {
	c, a, _, _ := newTestController()
	track := &catalog.Track{ID: "t1", Duration: 40}

	err := c.ApplySnapshot(context.Background(), conductor.Snapshot{
		Status:       conductor.StatusPlaying,
		Track:        track,
		Elapsed:      39.5,
		ActiveBuffer: conductor.BufferA,
	})
	if err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}
	if _, _, seekTo := a.state(); seekTo != 40 {
		t.Fatalf("seek not clamped to end point: %v", seekTo)
	}
}

func TestPausedSnapshotDoesNotCompensate(t *testing.T) {
	c, a, _, _ := newTestController()
	track := &catalog.Track{ID: "t1", Duration: 300}

	err := c.ApplySnapshot(context.Background(), conductor.Snapshot{
		Status:       conductor.StatusPlaying,
		Track:        track,
		Elapsed:      10,
		Paused:       true,
		ActiveBuffer: conductor.BufferA,
	})
	if err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seekTo != 10 {
		t.Fatalf("paused seek should be uncompensated, got %v", a.seekTo)
	}
	if !a.paused {
		t.Fatal("buffer not paused")
	}
}

func TestIdleSnapshotStopsBothBuffers(t *testing.T) {
	c, a, b, _ := newTestController()
	a.playing = true
	b.playing = true

	err := c.ApplySnapshot(context.Background(), conductor.Snapshot{
		Status:       conductor.StatusIdle,
		ActiveBuffer: conductor.BufferA,
	})
	if err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}
	if a.playing || b.playing {
		t.Fatal("buffers still playing after idle snapshot")
	}
}

func TestCrossfadeRampsAndLandsOnTarget(t *testing.T) {
	c, a, b, _ := newTestController()
	if err := c.HardCut(context.Background(), conductor.BufferA, &catalog.Track{ID: "t1", Duration: 100}); err != nil {
		t.Fatalf("hard cut: %v", err)
	}

	next := &catalog.Track{ID: "t2", Duration: 80, StartOffset: 1}
	if err := c.BeginCrossfade(context.Background(), conductor.BufferB, next, 20*time.Millisecond); err != nil {
		t.Fatalf("begin crossfade: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		playingA, _, _ := a.state()
		_, volumeB, _ := b.state()
		if !playingA && volumeB == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	playingA, volumeA, _ := a.state()
	playingB, volumeB, seekB := b.state()
	if playingA {
		t.Fatal("fade-out buffer still playing after window")
	}
	if volumeA != 0 || volumeB != 1 {
		t.Fatalf("final volumes wrong: a=%v b=%v", volumeA, volumeB)
	}
	if !playingB {
		t.Fatal("fade-in buffer not playing")
	}
	if seekB != 1 {
		t.Fatalf("fade-in buffer not cued at start offset: %v", seekB)
	}

	b.mu.Lock()
	ramp := append([]float64(nil), b.volumes...)
	b.mu.Unlock()
	for i := 1; i < len(ramp); i++ {
		if ramp[i] < ramp[i-1] {
			t.Fatalf("fade-in ramp not monotonic: %v", ramp)
		}
	}
}

func TestCommitMismatchRecoversWithHardCut(t *testing.T) {
	c, a, _, _ := newTestController()
	if err := c.HardCut(context.Background(), conductor.BufferA, &catalog.Track{ID: "t1", Duration: 100}); err != nil {
		t.Fatalf("hard cut: %v", err)
	}

	// Server committed t3 on buffer B but this client never saw the
	// crossfade event.
	committed := &catalog.Track{ID: "t3", Duration: 50}
	if err := c.Committed(context.Background(), conductor.BufferB, committed); err != nil {
		t.Fatalf("committed: %v", err)
	}
	if c.Active() != conductor.BufferB {
		t.Fatalf("active buffer not switched: %s", c.Active())
	}
	if playing, _, _ := a.state(); playing {
		t.Fatal("stale buffer still playing")
	}
}

func TestLoadFailureReportsUnplayable(t *testing.T) {
	c, a, _, reporter := newTestController()
	a.loadErr = errors.New("codec unsupported")

	err := c.HardCut(context.Background(), conductor.BufferA, &catalog.Track{ID: "t1", Duration: 100})
	if err == nil {
		t.Fatal("expected load error")
	}

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if len(reporter.reported) != 1 || reporter.reported[0] != "t1" {
		t.Fatalf("unplayable not reported: %v", reporter.reported)
	}
}

func TestStopSilencesEverything(t *testing.T) {
	c, a, b, _ := newTestController()
	if err := c.HardCut(context.Background(), conductor.BufferA, &catalog.Track{ID: "t1", Duration: 100}); err != nil {
		t.Fatalf("hard cut: %v", err)
	}
	if err := c.BeginCrossfade(context.Background(), conductor.BufferB, &catalog.Track{ID: "t2", Duration: 80}, time.Minute); err != nil {
		t.Fatalf("begin crossfade: %v", err)
	}

	c.Stop()
	if a.playing || b.playing {
		t.Fatal("buffers still playing after stop")
	}
}
