//go:build integration

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupNATS(t *testing.T) *Client {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client, err := Connect(fmt.Sprintf("nats://%s:%s", host, port.Port()), zap.NewNop())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(client.Close)

	if err := client.EnsureStreams(ctx); err != nil {
		t.Fatalf("EnsureStreams failed: %v", err)
	}
	return client
}

func TestIntegration_UploadedRoundTrip(t *testing.T) {
	client := setupNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.PublishUploaded(ctx, PhotoUploaded{EventID: "e1", PhotoID: "p1"}); err != nil {
		t.Fatalf("PublishUploaded failed: %v", err)
	}
	// Duplicate publish of the same photo is absorbed by the stream.
	if err := client.PublishUploaded(ctx, PhotoUploaded{EventID: "e1", PhotoID: "p1"}); err != nil {
		t.Fatalf("PublishUploaded failed: %v", err)
	}

	received := make(chan PhotoUploaded, 4)
	go client.ConsumeUploads(ctx, "test-workers", 2, func(_ context.Context, m PhotoUploaded) error {
		received <- m
		return nil
	})

	select {
	case m := <-received:
		if m.EventID != "e1" || m.PhotoID != "p1" {
			t.Errorf("unexpected message %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}

	select {
	case m := <-received:
		t.Errorf("duplicate delivered: %+v", m)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestIntegration_IndexedFanOut(t *testing.T) {
	client := setupNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	first := make(chan PhotoIndexed, 1)
	second := make(chan PhotoIndexed, 1)
	go client.ConsumeIndexed(ctx, func(_ context.Context, m PhotoIndexed) error { first <- m; return nil })
	go client.ConsumeIndexed(ctx, func(_ context.Context, m PhotoIndexed) error { second <- m; return nil })
	time.Sleep(time.Second)

	msg := PhotoIndexed{EventID: "e1", PhotoID: "p1", Descriptor: []float32{1, 0}, Model: "m"}
	if err := client.PublishIndexed(ctx, msg); err != nil {
		t.Fatalf("PublishIndexed failed: %v", err)
	}

	for i, ch := range []chan PhotoIndexed{first, second} {
		select {
		case m := <-ch:
			if m.PhotoID != "p1" || len(m.Descriptor) != 2 {
				t.Errorf("subscriber %d got %+v", i, m)
			}
		case <-ctx.Done():
			t.Fatalf("subscriber %d did not receive the message", i)
		}
	}
}
