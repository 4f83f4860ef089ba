package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/ceer-lab/ceer/internal/service/notify"
	"github.com/ceer-lab/ceer/pkg/config"
)

type writerStub struct {
	closed int
}

func (w *writerStub) WriteMessages(context.Context, ...kafka.Message) error { return nil }

func (w *writerStub) Close() error {
	w.closed++
	return nil
}

func stubKafka(t *testing.T) *writerStub {
	t.Helper()
	w := &writerStub{}
	prev := newKafkaPublisher
	newKafkaPublisher = func([]string, string) *notify.KafkaPublisher {
		return notify.NewKafkaPublisherWithWriter(w)
	}
	t.Cleanup(func() { newKafkaPublisher = prev })
	return w
}

func TestBuildSinksClosesOpenedSinksOnError(t *testing.T) {
	w := stubKafka(t)
	cfg := config.APIConfig{Notify: config.NotifyConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ceer.notifications",
		WebhookURL:   "ftp://hooks.ceer.test",
	}}

	sinks, closer, err := buildSinks(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for non-http webhook url")
	}
	if sinks != nil || closer != nil {
		t.Fatalf("expected no sinks or closer on error, got %d sinks", len(sinks))
	}
	if w.closed != 1 {
		t.Fatalf("expected kafka writer to be closed once, got %d", w.closed)
	}
}

func TestBuildSinksWiresConfiguredSinks(t *testing.T) {
	w := stubKafka(t)
	cfg := config.APIConfig{Notify: config.NotifyConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ceer.notifications",
		WebhookURL:   "https://hooks.ceer.test/bom",
	}}

	sinks, closer, err := buildSinks(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildSinks returned error: %v", err)
	}
	var names []string
	for _, s := range sinks {
		names = append(names, s.Name)
	}
	if len(names) != 3 || names[0] != "log" || names[1] != "kafka" || names[2] != "webhook" {
		t.Fatalf("unexpected sinks %v", names)
	}
	if w.closed != 0 {
		t.Fatal("expected writer to stay open until closer runs")
	}
	closer()
	if w.closed != 1 {
		t.Fatalf("expected closer to close the kafka writer, got %d", w.closed)
	}
}
