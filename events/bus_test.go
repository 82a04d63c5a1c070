package events

import (
	"regexp"
	"testing"

	"github.com/c360studio/agentboard/model"
)

func TestNewEventShape(t *testing.T) {
	ev := NewEvent(model.EventTaskCreated, model.LevelInfo, "task task-001 created")
	if !regexp.MustCompile(`^evt-[0-9a-f]{8}$`).MatchString(ev.ID) {
		t.Errorf("unexpected event id %q", ev.ID)
	}
	if ev.Type != model.EventTaskCreated || ev.Level != model.LevelInfo {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.CreatedAt == "" {
		t.Error("created_at must be stamped")
	}
}

func TestNewLeaseIDShape(t *testing.T) {
	lease := NewLeaseID()
	if !regexp.MustCompile(`^lease-[0-9a-f]{12}$`).MatchString(lease) {
		t.Errorf("unexpected lease id %q", lease)
	}
	if lease == NewLeaseID() {
		t.Error("lease ids must be unique")
	}
}

func TestNewReloadEnvelope(t *testing.T) {
	env := NewReloadEnvelope("proj-x", "/tmp/proj-x/tasks.json")
	if env.Kind != KindDocumentReload || env.ProjectID != "proj-x" {
		t.Errorf("unexpected envelope: %+v", env)
	}
	if env.Event == nil {
		t.Fatal("a reload envelope carries its document_changed event")
	}
	if env.Event.Type != model.EventDocumentChanged {
		t.Errorf("unexpected event type %s", env.Event.Type)
	}
	if env.Event.ID == "" || env.Event.CreatedAt == "" {
		t.Error("the embedded event must be fully stamped")
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus(nil)
	ch1, cancel1 := bus.Subscribe(4)
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel1()
	defer cancel2()

	env := Envelope{Kind: KindTaskChanged, ProjectID: "proj-x", At: model.NowISO()}
	bus.Publish(env)

	for i, ch := range []<-chan Envelope{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Kind != KindTaskChanged || got.ProjectID != "proj-x" {
				t.Errorf("subscriber %d got %+v", i, got)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestBusSlowSubscriberDrops(t *testing.T) {
	bus := NewBus(nil)
	_, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Envelope{Kind: KindEventEmitted})
	bus.Publish(Envelope{Kind: KindEventEmitted})

	if bus.Dropped() != 1 {
		t.Errorf("expected 1 dropped envelope, got %d", bus.Dropped())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel() // double cancel must be safe

	if _, open := <-ch; open {
		t.Error("channel must be closed after cancel")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	// Publishing with no subscribers must not panic.
	bus.Publish(Envelope{Kind: KindWorkerChanged})
}
