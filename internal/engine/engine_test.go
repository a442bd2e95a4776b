package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld/internal/conflict"
	"github.com/friendsincode/skuld/internal/ledger"
	"github.com/friendsincode/skuld/internal/models"
)

// stepClock is a settable clock so tests can move time past booking
// windows without sleeping.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t.UTC()
	c.mu.Unlock()
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Resource{}, &models.Booking{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newTestEngine builds an engine over in-memory sqlite with one
// resource operating 08:00-22:00 UTC, 30 minute minimum, 8 hour
// maximum, no advance notice.
func newTestEngine(t *testing.T) (*Engine, *models.Resource, *stepClock) {
	t.Helper()
	db := testDB(t)

	res := &models.Resource{
		ID:                 uuid.NewString(),
		Name:               "studio-a-" + uuid.NewString()[:8],
		Timezone:           "UTC",
		OpenHour:           8,
		CloseHour:          22,
		MinDurationMinutes: 30,
		MaxDurationHours:   8,
	}
	if err := db.Create(res).Error; err != nil {
		t.Fatalf("create resource: %v", err)
	}

	clk := &stepClock{t: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)}
	eng := New(Config{
		DB:       db,
		Ledger:   ledger.New(db, zerolog.Nop()),
		Index:    conflict.NewIndex(),
		Clock:    clk,
		LockWait: time.Second,
	}, zerolog.Nop())

	return eng, res, clk
}

func day(hour, min int) time.Time {
	return time.Date(2026, 9, 1, hour, min, 0, 0, time.UTC)
}

func TestRequestBooking_ApproveThenConflict(t *testing.T) {
	t.Parallel()
	eng, res, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.RequestBooking(ctx, res.ID, "alice", day(10, 0), day(12, 0))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if !first.Approved || first.Booking == nil {
		t.Fatalf("first request not approved: %+v", first)
	}
	if first.Booking.Status != models.BookingApproved {
		t.Errorf("status = %s, want approved", first.Booking.Status)
	}

	// The identical window must lose, and keep losing on retry.
	for i := 0; i < 2; i++ {
		second, err := eng.RequestBooking(ctx, res.ID, "bob", day(10, 0), day(12, 0))
		if err != nil {
			t.Fatalf("conflicting request %d: %v", i, err)
		}
		if second.Approved {
			t.Fatalf("conflicting request %d approved", i)
		}
		if second.Rejection.Code != RejectConflict {
			t.Errorf("code = %s, want %s", second.Rejection.Code, RejectConflict)
		}
		if len(second.Rejection.ConflictingIDs) != 1 || second.Rejection.ConflictingIDs[0] != first.Booking.ID {
			t.Errorf("conflicting ids = %v, want [%s]", second.Rejection.ConflictingIDs, first.Booking.ID)
		}
	}

	// A partial overlap loses too.
	partial, err := eng.RequestBooking(ctx, res.ID, "bob", day(11, 0), day(13, 0))
	if err != nil {
		t.Fatalf("partial overlap request: %v", err)
	}
	if partial.Approved {
		t.Error("partially overlapping request approved")
	}
}

func TestRequestBooking_TouchingWindowsDoNotConflict(t *testing.T) {
	t.Parallel()
	eng, res, _ := newTestEngine(t)
	ctx := context.Background()

	if d, err := eng.RequestBooking(ctx, res.ID, "alice", day(10, 0), day(12, 0)); err != nil || !d.Approved {
		t.Fatalf("first booking: approved=%v err=%v", d.Approved, err)
	}

	// [12:00,14:00) starts exactly where [10:00,12:00) ends.
	after, err := eng.RequestBooking(ctx, res.ID, "bob", day(12, 0), day(14, 0))
	if err != nil {
		t.Fatalf("adjacent after: %v", err)
	}
	if !after.Approved {
		t.Errorf("adjacent window after rejected: %+v", after.Rejection)
	}

	before, err := eng.RequestBooking(ctx, res.ID, "carol", day(8, 0), day(10, 0))
	if err != nil {
		t.Fatalf("adjacent before: %v", err)
	}
	if !before.Approved {
		t.Errorf("adjacent window before rejected: %+v", before.Rejection)
	}
}

func TestRequestBooking_PolicyRejections(t *testing.T) {
	t.Parallel()
	eng, res, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		code  RejectionCode
	}{
		{"inverted window", day(12, 0), day(10, 0), RejectInvalidWindow},
		{"empty window", day(10, 0), day(10, 0), RejectInvalidWindow},
		{"too short", day(10, 0), day(10, 15), RejectDuration},
		{"too long", day(8, 0), day(17, 0), RejectDuration},
		{"before opening", day(7, 0), day(9, 0), RejectOperatingHours},
		{"past closing", day(21, 0), day(23, 0), RejectOperatingHours},
		{"in the past", day(6, 0).Add(-24 * time.Hour), day(8, 0).Add(-24 * time.Hour), RejectAdvanceNotice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := eng.RequestBooking(ctx, res.ID, "alice", tt.start, tt.end)
			if err != nil {
				t.Fatalf("RequestBooking: %v", err)
			}
			if d.Approved {
				t.Fatal("request approved, want rejection")
			}
			if d.Rejection.Code != tt.code {
				t.Errorf("code = %s, want %s", d.Rejection.Code, tt.code)
			}
		})
	}

	// Ending exactly at the close hour is fine.
	ok, err := eng.RequestBooking(ctx, res.ID, "alice", day(20, 0), day(22, 0))
	if err != nil || !ok.Approved {
		t.Fatalf("window ending at close: approved=%v err=%v", ok.Approved, err)
	}
}

func TestRequestBooking_UnknownResource(t *testing.T) {
	t.Parallel()
	eng, _, _ := newTestEngine(t)

	_, err := eng.RequestBooking(context.Background(), uuid.NewString(), "alice", day(10, 0), day(11, 0))
	if !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("err = %v, want ErrResourceNotFound", err)
	}
}

func TestRequestBooking_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	eng, res, _ := newTestEngine(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	decisions := make([]Decision, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = eng.RequestBooking(ctx, res.ID, uuid.NewString(), day(10, 0), day(12, 0))
		}(i)
	}
	wg.Wait()

	approved := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if decisions[i].Approved {
			approved++
		} else if decisions[i].Rejection.Code != RejectConflict {
			t.Errorf("worker %d rejected with %s, want conflict", i, decisions[i].Rejection.Code)
		}
	}
	if approved != 1 {
		t.Fatalf("approved = %d, want exactly 1", approved)
	}

	bookings, err := eng.GetBookings(ctx, res.ID, models.BookingApproved)
	if err != nil {
		t.Fatalf("GetBookings: %v", err)
	}
	if len(bookings) != 1 {
		t.Fatalf("persisted approved bookings = %d, want 1", len(bookings))
	}
}

func TestRequestBooking_LockWaitTimeout(t *testing.T) {
	t.Parallel()
	eng, res, _ := newTestEngine(t)
	eng.lockWait = 50 * time.Millisecond
	ctx := context.Background()

	// Hold the resource's lock so the request cannot get in.
	if err := eng.locks.acquire(ctx, res.ID, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer eng.locks.release(res.ID)

	_, err := eng.RequestBooking(ctx, res.ID, "alice", day(10, 0), day(12, 0))
	if !errors.Is(err, ErrLockWait) {
		t.Fatalf("err = %v, want ErrLockWait", err)
	}
}

func TestAcquireCancelledWhileWaiting(t *testing.T) {
	t.Parallel()
	locks := newResourceLocks()

	if err := locks.acquire(context.Background(), "res-1", time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer locks.release("res-1")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	err := locks.acquire(cancelled, "res-1", time.Minute)
	if !errors.Is(err, ErrLockWait) {
		t.Fatalf("err = %v, want ErrLockWait", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled in the chain", err)
	}
}

func TestCancelBooking(t *testing.T) {
	t.Parallel()
	eng, res, _ := newTestEngine(t)
	ctx := context.Background()

	d, err := eng.RequestBooking(ctx, res.ID, "alice", day(10, 0), day(12, 0))
	if err != nil || !d.Approved {
		t.Fatalf("setup booking: approved=%v err=%v", d.Approved, err)
	}
	bookingID := d.Booking.ID

	// A stranger may not cancel.
	if _, err := eng.CancelBooking(ctx, bookingID, models.Actor{ID: "mallory"}, "mine now"); !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("stranger cancel err = %v, want ErrForbidden", err)
	}

	// The requester may.
	cancelled, err := eng.CancelBooking(ctx, bookingID, models.Actor{ID: "alice"}, "plans changed")
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if cancelled.Status != models.BookingCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.CancelledBy == nil || *cancelled.CancelledBy != "alice" {
		t.Errorf("cancelled_by = %v, want alice", cancelled.CancelledBy)
	}

	// Cancelling a terminal booking fails.
	if _, err := eng.CancelBooking(ctx, bookingID, models.Actor{ID: "alice"}, "again"); !errors.Is(err, ledger.ErrAlreadyTerminal) {
		t.Fatalf("double cancel err = %v, want ErrAlreadyTerminal", err)
	}

	// The slot is free again.
	rebook, err := eng.RequestBooking(ctx, res.ID, "bob", day(10, 0), day(12, 0))
	if err != nil {
		t.Fatalf("rebook: %v", err)
	}
	if !rebook.Approved {
		t.Errorf("rebooking freed slot rejected: %+v", rebook.Rejection)
	}

	// Admins may cancel anyone's booking.
	if _, err := eng.CancelBooking(ctx, rebook.Booking.ID, models.Actor{ID: "root", Admin: true}, "maintenance"); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}

	// Unknown bookings report not found.
	if _, err := eng.CancelBooking(ctx, uuid.NewString(), models.Actor{ID: "alice"}, ""); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown cancel err = %v, want ErrNotFound", err)
	}
}

func TestCheckAvailability(t *testing.T) {
	t.Parallel()
	eng, res, _ := newTestEngine(t)
	ctx := context.Background()

	free, _, err := eng.CheckAvailability(ctx, res.ID, day(10, 0), day(12, 0))
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if !free {
		t.Error("empty resource reported busy")
	}

	if d, err := eng.RequestBooking(ctx, res.ID, "alice", day(10, 0), day(12, 0)); err != nil || !d.Approved {
		t.Fatalf("setup booking: approved=%v err=%v", d.Approved, err)
	}

	free, overlaps, err := eng.CheckAvailability(ctx, res.ID, day(11, 0), day(13, 0))
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if free || len(overlaps) != 1 {
		t.Errorf("free=%v overlaps=%d, want busy with 1 overlap", free, len(overlaps))
	}

	// Touching window stays free.
	free, _, err = eng.CheckAvailability(ctx, res.ID, day(12, 0), day(14, 0))
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if !free {
		t.Error("touching window reported busy")
	}

	if _, _, err := eng.CheckAvailability(ctx, uuid.NewString(), day(10, 0), day(11, 0)); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("unknown resource err = %v, want ErrResourceNotFound", err)
	}
}

func TestRunCompletionSweep(t *testing.T) {
	t.Parallel()
	eng, res, clk := newTestEngine(t)
	ctx := context.Background()

	past, err := eng.RequestBooking(ctx, res.ID, "alice", day(10, 0), day(12, 0))
	if err != nil || !past.Approved {
		t.Fatalf("setup past booking: approved=%v err=%v", past.Approved, err)
	}
	future, err := eng.RequestBooking(ctx, res.ID, "bob", day(18, 0), day(20, 0))
	if err != nil || !future.Approved {
		t.Fatalf("setup future booking: approved=%v err=%v", future.Approved, err)
	}

	// Move past the first booking's end but not the second's.
	clk.Set(day(12, 0))

	n, err := eng.RunCompletionSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}

	got, err := eng.GetBooking(ctx, past.Booking.ID)
	if err != nil {
		t.Fatalf("get swept booking: %v", err)
	}
	if got.Status != models.BookingCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got2, _ := eng.GetBooking(ctx, future.Booking.ID); got2.Status != models.BookingApproved {
		t.Errorf("future booking status = %s, want approved", got2.Status)
	}

	// Running again finds nothing; the sweep is idempotent.
	n, err = eng.RunCompletionSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep swept %d, want 0", n)
	}

	// The completed window is bookable again even before midnight.
	rebook, err := eng.RequestBooking(ctx, res.ID, "carol", day(13, 0), day(14, 0))
	if err != nil || !rebook.Approved {
		t.Fatalf("post-sweep booking: approved=%v err=%v", rebook.Approved, err)
	}
}

func TestRebuild(t *testing.T) {
	t.Parallel()
	eng, res, _ := newTestEngine(t)
	ctx := context.Background()

	d, err := eng.RequestBooking(ctx, res.ID, "alice", day(10, 0), day(12, 0))
	if err != nil || !d.Approved {
		t.Fatalf("setup booking: approved=%v err=%v", d.Approved, err)
	}

	// A fresh engine over the same database must refuse the same
	// window once rebuilt.
	fresh := New(Config{
		DB:     eng.db,
		Ledger: eng.ledger,
		Index:  conflict.NewIndex(),
		Clock:  eng.clock,
	}, zerolog.Nop())
	if err := fresh.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	dup, err := fresh.RequestBooking(ctx, res.ID, "bob", day(10, 0), day(12, 0))
	if err != nil {
		t.Fatalf("duplicate request: %v", err)
	}
	if dup.Approved {
		t.Fatal("rebuilt engine approved a conflicting window")
	}
}
