package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/segflow/internal/types"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("segflow_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	runID, err := s.StartRun(ctx, "/data/images", types.ModeStatic)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	ledger := s.Ledger(runID)
	records := []types.ItemRecord{
		{Source: "/data/images/a.png", Status: types.StatusWritten, Output: "/out/out_a.png"},
		{Source: "/data/images/b.png", Status: types.StatusFailed, Diagnostic: "failed to deal file=/data/images/b.png, reason: resize image failed"},
		{Source: "/data/images/c.png", Status: types.StatusWritten, Output: "/out/out_c.png"},
	}
	for _, rec := range records {
		if err := ledger.RecordItem(ctx, rec); err != nil {
			t.Fatalf("RecordItem failed: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != runID {
		t.Fatalf("Expected run %s, got %+v", runID, runs)
	}
	if runs[0].FinishedAt != nil {
		t.Error("Run should not be finished yet")
	}
	if runs[0].Mode != "static" {
		t.Errorf("Expected mode static, got %q", runs[0].Mode)
	}

	if err := s.FinishRun(ctx, runID, 3, 1); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, err = s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if runs[0].FinishedAt == nil {
		t.Error("Expected finished_at to be set")
	}
	if runs[0].Items != 3 || runs[0].Failed != 1 {
		t.Errorf("Expected 3 items / 1 failed, got %d / %d", runs[0].Items, runs[0].Failed)
	}

	counts, err := s.ItemStatusCounts(ctx, runID)
	if err != nil {
		t.Fatalf("ItemStatusCounts failed: %v", err)
	}
	if counts[types.StatusWritten] != 2 || counts[types.StatusFailed] != 1 {
		t.Errorf("Unexpected status counts: %v", counts)
	}

	// A second run lists first.
	second, err := s.StartRun(ctx, "rtsp://camera/1", types.ModeLive)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	runs, err = s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second {
		t.Errorf("Expected newest run first, got %+v", runs)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListRuns(ctx, 0); err == nil {
		t.Error("Expected error listing runs after tables were dropped")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
