package realtime

import (
	"errors"
	"testing"

	"github.com/xelth-com/propcount/internal/loop/looptest"
	"github.com/xelth-com/propcount/internal/models"
)

type recordingTransport struct {
	sent []models.Envelope
	err  error
}

func (r *recordingTransport) Emit(env models.Envelope) error {
	r.sent = append(r.sent, env)
	return r.err
}

func verifiedEvent(office, id string, verified bool) models.Envelope {
	a := models.Asset{ID: id, Office: office, PhysicalCountDetails: models.PhysicalCountDetails{Verified: verified}}
	if verified {
		by := "ana"
		a.PhysicalCountDetails.VerifiedBy = &by
	}
	return models.Envelope{Type: models.EventAssetVerified, Room: models.RoomFor(office), Asset: &a}
}

func TestSwitchOfficeLeavesBeforeJoining(t *testing.T) {
	loop := looptest.New()
	tr := &recordingTransport{}
	ch := NewChannel(loop, nil)
	ch.Attach(tr)

	if err := ch.SwitchOffice("Treasury"); err != nil {
		t.Fatalf("SwitchOffice: %v", err)
	}
	if err := ch.SwitchOffice("Treasury"); err != nil {
		t.Fatalf("SwitchOffice again: %v", err)
	}
	if err := ch.SwitchOffice("Assessor"); err != nil {
		t.Fatalf("SwitchOffice: %v", err)
	}

	want := []models.Envelope{
		{Type: models.EventJoinRoom, Room: "office:Treasury"},
		{Type: models.EventLeaveRoom, Room: "office:Treasury"},
		{Type: models.EventJoinRoom, Room: "office:Assessor"},
	}
	if len(tr.sent) != len(want) {
		t.Fatalf("sent %d frames, want %d: %+v", len(tr.sent), len(want), tr.sent)
	}
	for i := range want {
		if tr.sent[i] != want[i] {
			t.Errorf("frame %d = %+v, want %+v", i, tr.sent[i], want[i])
		}
	}
	if ch.Room() != "office:Assessor" {
		t.Errorf("room = %s", ch.Room())
	}

	if err := ch.SwitchOffice(""); err != nil {
		t.Fatalf("SwitchOffice empty: %v", err)
	}
	if ch.Room() != "" {
		t.Errorf("room = %s after leaving", ch.Room())
	}
}

func TestEventsForOtherRoomsDropped(t *testing.T) {
	loop := looptest.New()
	ch := NewChannel(loop, nil)
	ch.Attach(&recordingTransport{})

	var got []string
	ch.OnVerified(func(env models.Envelope) { got = append(got, env.Asset.ID) })

	ch.SwitchOffice("Treasury")
	ch.SwitchOffice("Assessor")

	ch.Deliver(verifiedEvent("Treasury", "t1", true))
	ch.Deliver(verifiedEvent("Assessor", "a1", true))

	// Mis-tagged: room says Assessor, asset belongs to Treasury.
	bad := verifiedEvent("Treasury", "t2", true)
	bad.Room = models.RoomFor("Assessor")
	ch.Deliver(bad)

	loop.RunPending()
	if len(got) != 1 || got[0] != "a1" {
		t.Errorf("delivered = %v, want [a1]", got)
	}
}

func TestDispatchByType(t *testing.T) {
	loop := looptest.New()
	ch := NewChannel(loop, nil)
	ch.Attach(&recordingTransport{})
	ch.JoinRoom("Treasury")

	var verified, updated int
	ch.OnVerified(func(models.Envelope) { verified++ })
	ch.OnStatusUpdated(func(models.Envelope) { updated++ })

	ch.Deliver(verifiedEvent("Treasury", "t1", true))
	upd := verifiedEvent("Treasury", "t1", true)
	upd.Type = models.EventAssetUpdated
	ch.Deliver(upd)
	ch.Deliver(models.Envelope{Type: models.EventRoomJoined, Room: "office:Treasury"})
	loop.RunPending()

	if verified != 1 || updated != 1 {
		t.Errorf("verified=%d updated=%d, want 1/1", verified, updated)
	}
}

func TestConnectionErrorIsOneShot(t *testing.T) {
	loop := looptest.New()
	ch := NewChannel(loop, nil)

	var warnings int
	ch.OnConnectionError(func(error) { warnings++ })

	ch.ConnectionFailed(errors.New("dial tcp: refused"))
	ch.ConnectionFailed(errors.New("dial tcp: refused"))
	loop.RunPending()
	if warnings != 1 {
		t.Fatalf("warnings = %d, want 1", warnings)
	}

	ch.Connected()
	ch.ConnectionFailed(errors.New("read: reset"))
	loop.RunPending()
	if warnings != 2 {
		t.Errorf("warnings = %d after reconnect+drop, want 2", warnings)
	}
}

func TestJoinWithoutTransport(t *testing.T) {
	ch := NewChannel(looptest.New(), nil)
	if err := ch.JoinRoom("Treasury"); !errors.Is(err, ErrNoTransport) {
		t.Errorf("JoinRoom = %v, want ErrNoTransport", err)
	}
}
