package events

import (
	"context"
	"encoding/json"
	"testing"

	"insightxr/internal/asset"
)

func TestEncodeKeysByOwner(t *testing.T) {
	msg, err := Encode(Event{Op: "submit", Asset: asset.Snapshot{ID: "a1", Owner: "u1", Stage: asset.StageUploaded, Version: 3}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(msg.Key) != "u1" {
		t.Fatalf("expected owner key, got %q", msg.Key)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != StageChanged || decoded.Op != "submit" || decoded.Asset.Stage != asset.StageUploaded || decoded.Asset.Version != 3 {
		t.Fatalf("unexpected event %+v", decoded)
	}
}

func TestEncodeFallsBackToAssetID(t *testing.T) {
	msg, err := Encode(Event{Asset: asset.Snapshot{ID: "a1"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(msg.Key) != "a1" {
		t.Fatalf("expected asset id key, got %q", msg.Key)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka:9092, ,kafka2:9092 ")
	if len(got) != 2 || got[0] != "kafka:9092" || got[1] != "kafka2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatalf("expected nil for empty list")
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("nop publish: %v", err)
	}
}
