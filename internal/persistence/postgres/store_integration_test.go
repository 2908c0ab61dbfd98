//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/enrollment/internal/domain"
)

func TestStoreEnrollmentLifecycle(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("enrollment"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec(ctx,
		`INSERT INTO activities (activity_id, capacity, status, check_in_enabled) VALUES ($1, $2, $3, $4)`,
		"yoga-101", 1, "scheduled", true,
	)
	require.NoError(t, err)

	service := domain.NewService(NewStore(pool))

	resA, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeConfirmed, resA.Outcome)

	resB, err := service.Claim(ctx, "subject-b", "yoga-101", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeWaitlisted, resB.Outcome)

	// The active-pair index maps duplicate claims to the domain error.
	_, err = service.Claim(ctx, "subject-a", "yoga-101", "")
	require.ErrorIs(t, err, domain.ErrAlreadyEnrolled)

	cancel, err := service.Cancel(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)
	require.NotNil(t, cancel.Promoted)
	require.Equal(t, "subject-b", cancel.Promoted.SubjectID)
	require.Equal(t, domain.StateConfirmed, cancel.Promoted.State)

	checked, err := service.CheckIn(ctx, "subject-b", "yoga-101")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCheckedIn, checked.Outcome)

	require.NoError(t, service.SubmitFeedback(ctx, "subject-b", "yoga-101", 5, "solid class"))

	// Every transition should have staged an outbox row.
	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&outboxRows))
	require.GreaterOrEqual(t, outboxRows, 4)
}

func TestStoreReplaceRosterAtomicity(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("enrollment"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec(ctx,
		`INSERT INTO activities (activity_id, capacity, status, check_in_enabled) VALUES ($1, $2, $3, $4)`,
		"workshop", 2, "scheduled", false,
	)
	require.NoError(t, err)

	service := domain.NewService(NewStore(pool))

	_, err = service.Claim(ctx, "subject-a", "workshop", "")
	require.NoError(t, err)
	_, err = service.Claim(ctx, "subject-b", "workshop", "")
	require.NoError(t, err)

	// Oversized roster is rejected and leaves the previous roster intact.
	_, err = service.ReplaceRoster(ctx, "workshop", []string{"x", "y", "z"}, "")
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	roster, err := service.Roster(ctx, "workshop")
	require.NoError(t, err)
	require.Len(t, roster, 2)

	res, err := service.ReplaceRoster(ctx, "workshop", []string{"subject-c", "subject-d"}, "cohort-2")
	require.NoError(t, err)
	require.Equal(t, 2, res.Replaced)

	roster, err = service.Roster(ctx, "workshop")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	for _, rec := range roster {
		require.Equal(t, domain.StateConfirmed, rec.State)
		require.Contains(t, []string{"subject-c", "subject-d"}, rec.SubjectID)
	}
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
		"../../../db/postgres/migrations/0002_outbox.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
