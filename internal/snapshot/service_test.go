package snapshot

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/venuecast/conductor/internal/models"
	"github.com/venuecast/conductor/internal/queue"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&models.PlaybackSnapshot{}, &models.PlayHistory{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestRestoreWithNoSnapshot(t *testing.T) {
	database := openTestDB(t)
	state := queue.NewState()

	counter, overlay, found, err := Restore(context.Background(), database, "bar", state, zerolog.Nop())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if found {
		t.Fatal("found snapshot in empty database")
	}
	if counter != 0 || overlay != "" {
		t.Fatalf("unexpected restore values: counter=%d overlay=%q", counter, overlay)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	database := openTestDB(t)

	record := models.PlaybackSnapshot{
		Unit:              "bar",
		TrackID:           "t1",
		Origin:            "playlist",
		CommercialCounter: 7,
		Overlay:           "https://cdn.example/promo.png",
		PlaylistID:        "p-1",
		Scheduled:         true,
		ManualQueue:       `["c-1","c-2"]`,
		RequestQueue:      `[{"entry_id":"e-1","track_id":"t9","source_unit":"taproom","requester_tag":"table-4"}]`,
		Cursor:            `["t2","t3"]`,
	}
	if err := database.Create(&record).Error; err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	state := queue.NewState()
	counter, overlay, found, err := Restore(context.Background(), database, "bar", state, zerolog.Nop())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !found {
		t.Fatal("snapshot not found")
	}
	if counter != 7 {
		t.Fatalf("counter not restored: %d", counter)
	}
	if overlay != "https://cdn.example/promo.png" {
		t.Fatalf("overlay not restored: %q", overlay)
	}
	if got := state.ManualIDs(); len(got) != 2 || got[0] != "c-1" {
		t.Fatalf("manual queue not restored: %v", got)
	}
	requests := state.Requests()
	if len(requests) != 1 || requests[0].ID != "e-1" || requests[0].TrackID != "t9" {
		t.Fatalf("request queue not restored: %+v", requests)
	}
	if got := state.CursorIDs(); len(got) != 2 || got[0] != "t2" {
		t.Fatalf("cursor not restored: %v", got)
	}
	if state.PlaylistID() != "p-1" || !state.Scheduled() {
		t.Fatalf("playlist marker not restored: %q scheduled=%v", state.PlaylistID(), state.Scheduled())
	}
}

func TestRestoreIgnoresOtherUnits(t *testing.T) {
	database := openTestDB(t)
	record := models.PlaybackSnapshot{Unit: "kitchen", CommercialCounter: 3}
	if err := database.Create(&record).Error; err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	state := queue.NewState()
	_, _, found, err := Restore(context.Background(), database, "bar", state, zerolog.Nop())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if found {
		t.Fatal("restored a snapshot belonging to another unit")
	}
}
