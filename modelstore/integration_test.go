//go:build integration

package modelstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/rtc/modelstore"
	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/rtcxml"
)

// setupTestDB starts a PostgreSQL container and applies the migrations
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "rtc_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	url := fmt.Sprintf("postgres://test:test@%s:%s/rtc_test?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	m, err := migrate.New("file://../migrations", url)
	if err != nil {
		t.Fatalf("Failed to create migration instance: %v", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

func TestPostgresStoreCRUD(t *testing.T) {
	store := modelstore.NewPostgresStore(setupTestDB(t))

	m := &modelstore.Model{
		ID:   uuid.NewString(),
		Name: "Weir",
		Bundle: rtcxml.Bundle{
			ToolsConfig: []byte("<rtcToolsConfig/>"),
			State:       []byte("<treeVectorFile/>"),
		},
	}
	if err := store.Add(m); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	got, err := store.Get(m.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got.Bundle.ToolsConfig) != "<rtcToolsConfig/>" || string(got.Bundle.State) != "<treeVectorFile/>" {
		t.Errorf("bundle not stored: %+v", got.Bundle)
	}
	if got.Bundle.DataConfig != nil || got.Bundle.TimeSeries != nil {
		t.Errorf("absent documents should read back as nil: %+v", got.Bundle)
	}

	got.Description = "updated"
	if err := store.Update(got); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	again, _ := store.Get(m.ID)
	if again.Description != "updated" || !again.UpdatedAt.After(again.CreatedAt) {
		t.Errorf("update not applied: %+v", again)
	}

	list, err := store.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %d models, %v", len(list), err)
	}

	if err := store.Delete(m.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(m.ID); !rtcerr.IsNotFound(err) {
		t.Errorf("Get() after Delete() = %v, want ErrNotFound", err)
	}
	if err := store.Delete(m.ID); !rtcerr.IsNotFound(err) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestPostgresStoreDuplicateName(t *testing.T) {
	store := modelstore.NewPostgresStore(setupTestDB(t))

	first := &modelstore.Model{ID: uuid.NewString(), Name: "Weir", Bundle: rtcxml.Bundle{ToolsConfig: []byte("<a/>")}}
	if err := store.Add(first); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	second := &modelstore.Model{ID: uuid.NewString(), Name: "WEIR", Bundle: rtcxml.Bundle{ToolsConfig: []byte("<a/>")}}
	var dup *rtcerr.DuplicateNameError
	if err := store.Add(second); !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateNameError, got %v", err)
	}
}
