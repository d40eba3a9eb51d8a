package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan StreamStartedEvent, 1)

	unsub := bus.Subscribe(func(e StreamStartedEvent) {
		received <- e
	})
	defer unsub()

	event := StreamStartedEvent{
		DevicePath: "/dev/video0",
		Format:     "MJPG 1280x720 @ 30.00 fps",
		MaxFPS:     15,
		Timestamp:  time.Now(),
	}
	bus.Publish(event)

	got := <-received
	if got.DevicePath != event.DevicePath {
		t.Errorf("Expected device_path %s, got %s", event.DevicePath, got.DevicePath)
	}
	if got.MaxFPS != event.MaxFPS {
		t.Errorf("Expected max_fps %v, got %v", event.MaxFPS, got.MaxFPS)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan StreamStoppedEvent, 1)
	received2 := make(chan StreamStoppedEvent, 1)

	unsub1 := bus.Subscribe(func(e StreamStoppedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e StreamStoppedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(StreamStoppedEvent{DevicePath: "/dev/video0", Frames: 100})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan StreamErrorEvent, 1)

	unsub := bus.Subscribe(func(e StreamErrorEvent) {
		received <- e
	})

	bus.Publish(StreamErrorEvent{DevicePath: "/dev/video0"})
	<-received

	unsub()

	bus.Publish(StreamErrorEvent{DevicePath: "/dev/video1"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	errorReceived := make(chan bool, 1)
	droppedReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ StreamErrorEvent) {
		errorReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ FramesDroppedEvent) {
		droppedReceived <- true
	})
	defer unsub2()

	bus.Publish(StreamErrorEvent{DevicePath: "/dev/video0"})
	<-errorReceived

	select {
	case <-droppedReceived:
		t.Fatal("Drop subscriber should NOT have received StreamErrorEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(FramesDroppedEvent{DevicePath: "/dev/video0", Dropped: 3})
	<-droppedReceived

	select {
	case <-errorReceived:
		t.Fatal("Error subscriber should NOT have received FramesDroppedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ DeviceDiscoveryEvent) {
		receivedCh <- true
	})
	defer unsub()

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < eventsPerGoroutine; n++ {
				bus.Publish(DeviceDiscoveryEvent{
					Action:    "added",
					Timestamp: time.Now(),
				})
			}
		}()
	}

	wg.Wait()

	// Read all expected events
	for n := 0; n < expected; n++ {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"StreamStarted", StreamStartedEvent{DevicePath: "/dev/video0"}},
		{"StreamStopped", StreamStoppedEvent{DevicePath: "/dev/video0"}},
		{"StreamError", StreamErrorEvent{DevicePath: "/dev/video0", Code: "CAPTURE_TIMEOUT"}},
		{"DeviceDiscovery", DeviceDiscoveryEvent{Action: "added"}},
		{"FramesDropped", FramesDroppedEvent{Dropped: 1}},
		{"StillCaptured", StillCapturedEvent{Width: 640, Height: 480}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case StreamStartedEvent:
				unsub = bus.Subscribe(func(e StreamStartedEvent) { received <- e })
			case StreamStoppedEvent:
				unsub = bus.Subscribe(func(e StreamStoppedEvent) { received <- e })
			case StreamErrorEvent:
				unsub = bus.Subscribe(func(e StreamErrorEvent) { received <- e })
			case DeviceDiscoveryEvent:
				unsub = bus.Subscribe(func(e DeviceDiscoveryEvent) { received <- e })
			case FramesDroppedEvent:
				unsub = bus.Subscribe(func(e FramesDroppedEvent) { received <- e })
			case StillCapturedEvent:
				unsub = bus.Subscribe(func(e StillCapturedEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
	}{
		{
			"StreamStartedEvent",
			StreamStartedEvent{
				DevicePath: "/dev/video0",
				Format:     "H264 1920x1080 @ 30.00 fps",
				MaxFPS:     30,
				Timestamp:  time.Now(),
			},
		},
		{
			"StreamErrorEvent",
			StreamErrorEvent{
				DevicePath: "/dev/video0",
				Code:       "DEVICE_UNAVAILABLE",
				Error:      "device went away",
				Fatal:      true,
				Timestamp:  time.Now(),
			},
		},
		{
			"StillCapturedEvent",
			StillCapturedEvent{
				DevicePath: "/dev/video0",
				Width:      1280,
				Height:     720,
				Size:       1280 * 720 * 3 / 2,
				Timestamp:  time.Now(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if len(result) == 0 {
				t.Fatal("Unmarshaled to empty object")
			}
		})
	}
}
