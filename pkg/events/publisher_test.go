package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type recordedPublish struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []recordedPublish
	err       error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, recordedPublish{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisherWrapsEventInEnvelope(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, "roomchat.events")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	if err := p.Publish(context.Background(), RoomCreated, RoomCreatedEvent{RoomID: "lobby"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(ch.published))
	}
	got := ch.published[0]
	if got.exchange != "roomchat.events" || got.key != RoomCreated {
		t.Fatalf("unexpected routing: %+v", got)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing: %+v", got.msg)
	}

	var env struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		OccurredAt time.Time       `json:"occurredAt"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(got.msg.Body, &env); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if env.ID == "" || env.ID != got.msg.MessageId {
		t.Fatalf("expected message id to match envelope id, got %q vs %q", env.ID, got.msg.MessageId)
	}
	if env.Type != RoomCreated || !env.OccurredAt.Equal(fixed) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if string(env.Data) != `{"roomId":"lobby"}` {
		t.Fatalf("unexpected data %s", env.Data)
	}
}

func TestAMQPPublisherSurfacesChannelErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := newAMQPPublisher(ch, "x")
	if err := p.Publish(context.Background(), MessageCreated, MessageCreatedEvent{}); err == nil {
		t.Fatalf("expected publish error")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ch.closed {
		t.Fatalf("expected channel closed")
	}
}

func TestNewAMQPPublisherValidatesInput(t *testing.T) {
	if _, err := NewAMQPPublisher("", "x"); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewAMQPPublisher("amqp://localhost", " "); err == nil {
		t.Fatalf("expected error for empty exchange")
	}
}
