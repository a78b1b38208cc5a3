package monitor

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPublisherWithoutRedisIsNoop(t *testing.T) {
	p := NewPublisher(nil, zerolog.New(io.Discard))

	if err := p.Publish(context.Background(), Event{Type: EventStarted, SessionID: "s1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	ids, err := p.ActiveSessions(context.Background())
	if err != nil || ids != nil {
		t.Errorf("ActiveSessions() = %v, %v; want nil, nil", ids, err)
	}
	if ps := p.Subscribe(context.Background(), "s1"); ps != nil {
		t.Error("Subscribe() should return nil without Redis")
	}

	var nilPublisher *Publisher
	if err := nilPublisher.Publish(context.Background(), Event{}); err != nil {
		t.Errorf("nil Publisher.Publish() error = %v", err)
	}
}

func TestEventJSON(t *testing.T) {
	opt := 2
	ev := Event{
		Type:       EventAnswered,
		SessionID:  "s1",
		QuestionID: "q3",
		Option:     &opt,
		Answered:   3,
		Remaining:  421,
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "answered" || got["question_id"] != "q3" || got["option"] != float64(2) {
		t.Errorf("unexpected payload: %s", data)
	}
	if _, ok := got["score"]; ok {
		t.Errorf("score should be omitted: %s", data)
	}
	if _, ok := got["error"]; ok {
		t.Errorf("error should be omitted: %s", data)
	}
}
