package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/manisoni28/voice-keyboard/internal/capture"
)

func TestNewManagerValidation(t *testing.T) {
	deps := testDeps(t, &queueService{}, &stubSaver{})

	if _, err := NewManager(nil, deps, testConfig()); err == nil {
		t.Error("Expected error for nil device factory")
	}

	broken := deps
	broken.Service = nil
	if _, err := NewManager(func() capture.Device { return capture.NewMemoryDevice() }, broken, testConfig()); err == nil {
		t.Error("Expected error for nil service")
	}
}

func TestManagerSessionLifecycle(t *testing.T) {
	device := capture.NewMemoryDevice()
	manager := testManager(t, device, &queueService{}, &stubSaver{})

	s, err := manager.StartSession()
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if got, ok := manager.Get(s.ID); !ok || got != s {
		t.Error("Expected session to be retrievable by id")
	}
	if manager.Len() != 1 {
		t.Errorf("Expected 1 live session, got %d", manager.Len())
	}

	list := manager.List()
	if len(list) != 1 || list[0].ID != s.ID {
		t.Errorf("Unexpected session list: %+v", list)
	}

	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	manager.Remove(s.ID)

	if manager.Len() != 0 {
		t.Errorf("Expected no live sessions, got %d", manager.Len())
	}
	if _, ok := manager.Get(s.ID); ok {
		t.Error("Removed session must not be retrievable")
	}
}

func TestManagerPublishesEvents(t *testing.T) {
	device := capture.NewMemoryDevice()
	manager := testManager(t, device, &queueService{texts: []string{"hi"}}, &stubSaver{})

	var mu sync.Mutex
	kinds := make(map[EventKind]int)
	manager.Subscribe(func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds[event.Kind]++
	})

	s, err := manager.StartSession()
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	device.Feed(loudPCM(400))
	waitFor(t, 2*time.Second, func() bool { return s.statuses.Len() >= 1 })

	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if kinds[EventRecordingStarted] != 1 {
		t.Errorf("Expected 1 recording_started event, got %d", kinds[EventRecordingStarted])
	}
	if kinds[EventSliceProduced] == 0 {
		t.Error("Expected slice_produced events")
	}
	if kinds[EventSliceSettled] == 0 {
		t.Error("Expected slice_settled events")
	}
	if kinds[EventSessionFinalized] != 1 {
		t.Errorf("Expected 1 session_finalized event, got %d", kinds[EventSessionFinalized])
	}
}

func TestManagerPublishesPipelineStageEvents(t *testing.T) {
	device := capture.NewMemoryDevice()
	manager := testManager(t, device, &queueService{texts: []string{"hi"}}, &stubSaver{})

	var mu sync.Mutex
	var gateDecisions, transcriptions int
	var speechSeen bool
	var tiers []string
	manager.Subscribe(func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		switch event.Kind {
		case EventGateDecision:
			gateDecisions++
			if event.Speech {
				speechSeen = true
			}
		case EventTranscriptionDone:
			transcriptions++
			if event.Err == nil && event.Attempts < 1 {
				t.Errorf("Successful transcription event reported %d attempts", event.Attempts)
			}
		case EventDedupCleaned:
			tiers = append(tiers, event.Tier)
		}
	})

	s, err := manager.StartSession()
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	device.Feed(loudPCM(400))
	waitFor(t, 2*time.Second, func() bool { return s.statuses.Len() >= 1 })

	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gateDecisions == 0 {
		t.Error("Expected gate_decision events")
	}
	if !speechSeen {
		t.Error("Expected at least one speech-positive gate decision")
	}
	if transcriptions == 0 {
		t.Error("Expected transcription_done events")
	}
	if len(tiers) == 0 {
		t.Error("Expected dedup_cleaned events")
	}
	for _, tier := range tiers {
		if tier == "" {
			t.Error("Dedup event carried an empty tier label")
		}
	}
}

func TestManagerShutdownCancelsSessions(t *testing.T) {
	device := capture.NewMemoryDevice()
	manager := testManager(t, device, &queueService{blocking: true}, &stubSaver{})

	s, err := manager.StartSession()
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	device.Feed(loudPCM(400))
	waitFor(t, 2*time.Second, func() bool { return s.Transcribing() })

	manager.Shutdown()

	waitFor(t, 2*time.Second, func() bool { return !s.Transcribing() })
	if manager.Len() != 0 {
		t.Errorf("Expected no live sessions after shutdown, got %d", manager.Len())
	}
	if s.State() != capture.StateStopped {
		t.Errorf("Expected stopped recorder after shutdown, got %s", s.State())
	}
}
