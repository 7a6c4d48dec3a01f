package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/reactfasttraining/course_booking/database/databasetest"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func reserveInTx(env *testEnv, sessionID uuid.UUID, seats int) error {
	return env.db.Transaction(func(tx *gorm.DB) error {
		_, err := env.ledger.Reserve(context.Background(), tx, sessionID, seats)
		return err
	})
}

func releaseInTx(env *testEnv, sessionID uuid.UUID, seats int) error {
	return env.db.Transaction(func(tx *gorm.DB) error {
		_, err := env.ledger.Release(context.Background(), tx, sessionID, seats)
		return err
	})
}

func TestCapacityLedgerReserve(t *testing.T) {
	t.Run("Given one seat left When two reservations race Then exactly one wins", func(t *testing.T) {
		env := newTestEnv(t)
		session := databasetest.SeedSession(t, env.db, 1, 0, 50000)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				errs[i] = reserveInTx(env, session.ID, 1)
			}(i)
		}
		close(start)
		wg.Wait()

		succeeded, rejected := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientSeats):
				rejected++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if succeeded != 1 || rejected != 1 {
			t.Fatalf("expected 1 success and 1 rejection, got %d and %d", succeeded, rejected)
		}
		if got := databasetest.ReservedSeats(t, env.db, session.ID); got != 1 {
			t.Errorf("expected 1 reserved seat, got %d", got)
		}
	})

	t.Run("Given many concurrent reservations When capacity runs out Then the counter never exceeds capacity", func(t *testing.T) {
		env := newTestEnv(t)
		session := databasetest.SeedSession(t, env.db, 5, 0, 50000)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(seats int) {
				defer wg.Done()
				err := reserveInTx(env, session.ID, seats)
				if err != nil && !errors.Is(err, ErrInsufficientSeats) {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if err == nil {
					mu.Lock()
					granted += seats
					mu.Unlock()
				}
			}(1 + i%2)
		}
		wg.Wait()

		reserved := databasetest.ReservedSeats(t, env.db, session.ID)
		if reserved > 5 || reserved < 0 {
			t.Fatalf("reserved seats out of bounds: %d", reserved)
		}
		if reserved != granted {
			t.Errorf("reserved %d seats but granted %d", reserved, granted)
		}
	})

	t.Run("Given a rolled back transaction When it reserved seats Then the seats are not held", func(t *testing.T) {
		env := newTestEnv(t)
		session := databasetest.SeedSession(t, env.db, 5, 2, 50000)

		err := env.db.Transaction(func(tx *gorm.DB) error {
			if _, err := env.ledger.Reserve(context.Background(), tx, session.ID, 3); err != nil {
				return err
			}
			return errors.New("request timed out")
		})
		if err == nil {
			t.Fatal("expected the transaction to fail")
		}
		if got := databasetest.ReservedSeats(t, env.db, session.ID); got != 2 {
			t.Errorf("expected 2 reserved seats, got %d", got)
		}
	})

	t.Run("Given an unknown session When reserving Then SessionNotFound is returned", func(t *testing.T) {
		env := newTestEnv(t)

		err := reserveInTx(env, uuid.New(), 1)
		var ce *CapacityError
		if !errors.As(err, &ce) || ce.Kind != SessionNotFound {
			t.Fatalf("expected SessionNotFound, got %v", err)
		}
		if !errors.Is(err, ErrSessionNotFound) {
			t.Error("expected the error to match ErrSessionNotFound")
		}
	})

	t.Run("Given a non-positive seat count When reserving Then validation fails", func(t *testing.T) {
		env := newTestEnv(t)
		session := databasetest.SeedSession(t, env.db, 5, 0, 50000)

		if err := reserveInTx(env, session.ID, 0); !errors.Is(err, ErrValidationFailed) {
			t.Fatalf("expected ErrValidationFailed, got %v", err)
		}
	})
}

func TestCapacityLedgerRelease(t *testing.T) {
	t.Run("Given held seats When releasing Then the counter decreases", func(t *testing.T) {
		env := newTestEnv(t)
		session := databasetest.SeedSession(t, env.db, 5, 4, 50000)

		if err := releaseInTx(env, session.ID, 3); err != nil {
			t.Fatalf("release: %v", err)
		}
		if got := databasetest.ReservedSeats(t, env.db, session.ID); got != 1 {
			t.Errorf("expected 1 reserved seat, got %d", got)
		}
	})

	t.Run("Given fewer held seats When releasing more Then the counter clamps at zero with a warning", func(t *testing.T) {
		env := newTestEnv(t)
		session := databasetest.SeedSession(t, env.db, 5, 1, 50000)

		if err := releaseInTx(env, session.ID, 3); err != nil {
			t.Fatalf("release: %v", err)
		}
		if got := databasetest.ReservedSeats(t, env.db, session.ID); got != 0 {
			t.Errorf("expected 0 reserved seats, got %d", got)
		}

		entry := env.logs.LastEntry()
		if entry == nil || entry.Level != logrus.WarnLevel {
			t.Fatalf("expected a warning, got %+v", entry)
		}
		if entry.Data["held"] != 1 || entry.Data["releasing"] != 3 {
			t.Errorf("unexpected warning fields %v", entry.Data)
		}
	})

	t.Run("Given concurrent reserves and releases When they interleave Then the counter stays in bounds", func(t *testing.T) {
		env := newTestEnv(t)
		session := databasetest.SeedSession(t, env.db, 3, 0, 50000)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					_ = reserveInTx(env, session.ID, 1)
				} else {
					_ = releaseInTx(env, session.ID, 1)
				}
				if got := databasetest.ReservedSeats(t, env.db, session.ID); got < 0 || got > 3 {
					t.Errorf("reserved seats out of bounds: %d", got)
				}
			}(i)
		}
		wg.Wait()
	})
}
