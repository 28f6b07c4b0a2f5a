package verification

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/xelth-com/propcount/internal/loop/looptest"
	"github.com/xelth-com/propcount/internal/models"
)

type reply struct {
	asset *models.Asset
	err   error
}

type call struct {
	assetID  string
	verified bool
	reply    chan reply
}

// fakeVerifier blocks every request until the test answers it.
type fakeVerifier struct {
	calls chan call
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{calls: make(chan call, 16)}
}

func (f *fakeVerifier) VerifyAsset(ctx context.Context, assetID string, verified bool) (*models.Asset, error) {
	c := call{assetID: assetID, verified: verified, reply: make(chan reply, 1)}
	f.calls <- c
	r := <-c.reply
	return r.asset, r.err
}

func (f *fakeVerifier) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no verify request was sent")
	}
	return call{}
}

func (f *fakeVerifier) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected verify request for %s", c.assetID)
	case <-time.After(50 * time.Millisecond):
	}
}

func asset(id, code string, verified bool, by string) models.Asset {
	return models.Asset{
		ID:                   id,
		PropertyNumber:       code,
		Office:               "Treasury",
		Status:               models.StatusInUse,
		PhysicalCountDetails: models.Verification(verified, by, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
	}
}

type fixture struct {
	loop     *looptest.Manual
	verifier *fakeVerifier
	store    *Store
	changes  []Change
	failures []string
}

func newFixture(assets ...models.Asset) *fixture {
	f := &fixture{loop: looptest.New(), verifier: newFakeVerifier()}
	f.store = NewStore(f.verifier, f.loop, nil)
	f.store.OnChange(func(c Change) { f.changes = append(f.changes, c) })
	f.store.OnError(func(id string, err error) { f.failures = append(f.failures, id) })
	f.store.Reset(assets)
	return f
}

// netDelta is what an aggregator fed from the change stream would add up to.
func (f *fixture) netDelta() int {
	n := 0
	for _, c := range f.changes {
		if c.WasVerified != c.IsVerified {
			if c.IsVerified {
				n++
			} else {
				n--
			}
		}
	}
	return n
}

func TestToggleRollbackRestoresState(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", false, ""))
	before, _ := f.store.Get("a1")

	if err := f.store.Toggle(context.Background(), "a1", true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if v, _ := f.store.Get("a1"); !v.Verified || !v.Pending {
		t.Fatalf("optimistic view = %+v, want verified+pending", v)
	}

	c := f.verifier.next(t)
	c.reply <- reply{err: errors.New("502 bad gateway")}
	f.loop.Await(2 * time.Second)

	after, _ := f.store.Get("a1")
	if !reflect.DeepEqual(before, after) {
		t.Errorf("after rollback = %+v, want %+v", after, before)
	}
	if f.netDelta() != 0 {
		t.Errorf("net verified delta = %d, want 0", f.netDelta())
	}
	if len(f.failures) != 1 || f.failures[0] != "a1" {
		t.Errorf("failures = %v", f.failures)
	}
}

func TestToggleSingleFlight(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", false, ""))

	if err := f.store.Toggle(context.Background(), "a1", true); err != nil {
		t.Fatalf("first Toggle: %v", err)
	}
	if err := f.store.Toggle(context.Background(), "a1", false); !errors.Is(err, ErrInFlight) {
		t.Fatalf("second Toggle = %v, want ErrInFlight", err)
	}
	if err := f.store.Toggle(context.Background(), "a1", true); !errors.Is(err, ErrInFlight) {
		t.Fatalf("third Toggle = %v, want ErrInFlight", err)
	}

	c := f.verifier.next(t)
	f.verifier.none(t)

	done := asset("a1", "P-0001", true, "ana")
	c.reply <- reply{asset: &done}
	f.loop.Await(2 * time.Second)

	if v, _ := f.store.Get("a1"); !v.Verified || v.Pending {
		t.Errorf("committed view = %+v", v)
	}
	if f.netDelta() != 1 {
		t.Errorf("net verified delta = %d, want 1", f.netDelta())
	}
}

func TestToggleGuards(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", true, "ana"))

	if err := f.store.Toggle(context.Background(), "zz", true); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("Toggle unknown = %v, want ErrUnknownAsset", err)
	}
	if err := f.store.Toggle(context.Background(), "a1", true); err != nil {
		t.Errorf("Toggle to current state = %v, want nil", err)
	}
	f.verifier.none(t)
	if len(f.changes) != 0 {
		t.Errorf("no-op toggle emitted %d changes", len(f.changes))
	}
}

func TestRemoteEventAfterLocalSettles(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", false, ""))

	f.store.Toggle(context.Background(), "a1", true)
	c := f.verifier.next(t)
	mine := asset("a1", "P-0001", true, "ana")
	c.reply <- reply{asset: &mine}
	f.loop.Await(2 * time.Second)

	// Another operator unticks it afterwards.
	theirs := asset("a1", "P-0001", false, "")
	onPage, buffered := f.store.ApplyRemoteVerified(theirs)
	if !onPage || buffered {
		t.Fatalf("ApplyRemoteVerified = %v/%v, want applied directly", onPage, buffered)
	}

	v, _ := f.store.Get("a1")
	if v.Verified {
		t.Error("final state should reflect the later remote event")
	}
	if f.netDelta() != 0 {
		t.Errorf("net delta = %d, want 0", f.netDelta())
	}
}

func TestRemoteEventDuringFlightIsBuffered(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", false, ""))

	f.store.Toggle(context.Background(), "a1", true)
	c := f.verifier.next(t)

	theirs := asset("a1", "P-0001", false, "")
	onPage, buffered := f.store.ApplyRemoteVerified(theirs)
	if !onPage || !buffered {
		t.Fatalf("ApplyRemoteVerified = %v/%v, want buffered", onPage, buffered)
	}
	if v, _ := f.store.Get("a1"); !v.Verified || !v.Pending {
		t.Fatalf("buffered event leaked into view: %+v", v)
	}

	mine := asset("a1", "P-0001", true, "ana")
	c.reply <- reply{asset: &mine}
	f.loop.Await(2 * time.Second)

	v, _ := f.store.Get("a1")
	if v.Verified || v.Pending {
		t.Errorf("final view = %+v, want the replayed remote state", v)
	}
	if f.netDelta() != 0 {
		t.Errorf("net delta = %d, want 0", f.netDelta())
	}
}

func TestBufferedEventLatestWins(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", false, ""))

	f.store.Toggle(context.Background(), "a1", true)
	c := f.verifier.next(t)
	f.store.ApplyRemoteVerified(asset("a1", "P-0001", false, ""))
	f.store.ApplyRemoteVerified(asset("a1", "P-0001", true, "ben"))

	c.reply <- reply{err: errors.New("timeout")}
	f.loop.Await(2 * time.Second)

	v, _ := f.store.Get("a1")
	if !v.Verified || *v.Asset.PhysicalCountDetails.VerifiedBy != "ben" {
		t.Errorf("final view = %+v, want ben's verification", v)
	}
	if f.netDelta() != 1 {
		t.Errorf("net delta = %d, want 1", f.netDelta())
	}
}

func TestEchoOfOwnMutationIsNoOp(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", false, ""))

	f.store.Toggle(context.Background(), "a1", true)
	c := f.verifier.next(t)
	mine := asset("a1", "P-0001", true, "ana")
	f.store.ApplyRemoteVerified(mine)
	c.reply <- reply{asset: &mine}
	f.loop.Await(2 * time.Second)
	f.store.ApplyRemoteVerified(mine)

	if f.netDelta() != 1 {
		t.Errorf("net delta = %d, want 1 (echo double counted)", f.netDelta())
	}
}

func TestSettleAfterEntryLeftPage(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", false, ""))

	f.store.Toggle(context.Background(), "a1", true)
	c := f.verifier.next(t)
	f.store.Reset([]models.Asset{asset("a2", "P-0002", false, "")})
	f.changes = nil

	c.reply <- reply{err: errors.New("offline")}
	f.loop.Await(2 * time.Second)

	if len(f.changes) != 0 || len(f.failures) != 0 {
		t.Errorf("settle on a destroyed entry had effects: %d changes, %d failures", len(f.changes), len(f.failures))
	}
	if _, ok := f.store.Get("a1"); ok {
		t.Error("a1 resurrected")
	}
}

func TestResetKeepsInFlightForSurvivors(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", false, ""), asset("a2", "P-0002", false, ""))

	f.store.Toggle(context.Background(), "a1", true)
	c := f.verifier.next(t)
	f.store.Reset([]models.Asset{asset("a1", "P-0001", false, "")})

	if v, _ := f.store.Get("a1"); !v.Pending {
		t.Fatal("reload dropped the in-flight mutation")
	}
	if err := f.store.Toggle(context.Background(), "a1", false); !errors.Is(err, ErrInFlight) {
		t.Errorf("Toggle after reload = %v, want ErrInFlight", err)
	}

	mine := asset("a1", "P-0001", true, "ana")
	c.reply <- reply{asset: &mine}
	f.loop.Await(2 * time.Second)
	if v, _ := f.store.Get("a1"); !v.Verified || v.Pending {
		t.Errorf("view = %+v", v)
	}
}

func TestApplyRemoteUpdate(t *testing.T) {
	f := newFixture(asset("a1", "P-0001", false, ""))

	upd := asset("a1", "P-0001", false, "")
	upd.Status = models.StatusForRepair
	upd.Remarks = "cracked screen"
	prev, onPage := f.store.ApplyRemoteUpdate(upd)
	if !onPage || prev != models.StatusInUse {
		t.Fatalf("ApplyRemoteUpdate = %s/%v", prev, onPage)
	}
	v, _ := f.store.ByPropertyNumber("P-0001")
	if v.Asset.Status != models.StatusForRepair || v.Asset.Remarks != "cracked screen" {
		t.Errorf("row not repainted: %+v", v.Asset)
	}

	if _, onPage := f.store.ApplyRemoteUpdate(asset("zz", "P-9999", false, "")); onPage {
		t.Error("off-page update reported as on page")
	}
}
