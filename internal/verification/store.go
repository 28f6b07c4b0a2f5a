// Package verification holds the client-side cache of per-asset verification
// state for the page being viewed, with optimistic toggles that roll back on
// failure and at most one request in flight per asset.
package verification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/models"
)

var (
	// ErrInFlight rejects a toggle while a request for the same asset is outstanding.
	ErrInFlight = errors.New("verification request already in flight")
	// ErrUnknownAsset is returned for assets that are not on the current page.
	ErrUnknownAsset = errors.New("asset not on current page")
)

// Verifier sends a verify request to the backend. It may block.
type Verifier interface {
	VerifyAsset(ctx context.Context, assetID string, verified bool) (*models.Asset, error)
}

// Poster schedules a continuation on the store's loop.
type Poster interface {
	Post(fn func()) bool
}

// Cause says why the displayed verified flag of an asset changed.
type Cause int

const (
	CauseOptimistic Cause = iota
	CauseCommitted
	CauseRolledBack
	CauseRemote
)

func (c Cause) String() string {
	switch c {
	case CauseOptimistic:
		return "optimistic"
	case CauseCommitted:
		return "committed"
	case CauseRolledBack:
		return "rolled-back"
	case CauseRemote:
		return "remote"
	}
	return "unknown"
}

// Change is emitted whenever an entry's displayed state may have moved.
// WasVerified/IsVerified are the displayed values before and after, so
// summing IsVerified-WasVerified over all changes is exact.
type Change struct {
	Asset       models.Asset
	WasVerified bool
	IsVerified  bool
	Cause       Cause
}

// View is the rendered projection of one entry.
type View struct {
	Asset    models.Asset
	Verified bool
	Pending  bool
}

type mutation struct {
	desired   bool
	requestID string
}

type entry struct {
	server   models.Asset
	pending  *mutation
	buffered *models.Asset
}

func (e *entry) displayed() bool {
	if e.pending != nil {
		return e.pending.desired
	}
	return e.server.Verified()
}

// Store is the single writer of verification state. It is loop-confined:
// all methods, and the callbacks it invokes, run on the owning loop.
type Store struct {
	verifier Verifier
	post     Poster
	log      *logrus.Entry

	entries map[string]*entry
	order   []string
	byCode  map[string]string

	onChange func(Change)
	onError  func(assetID string, err error)
}

// NewStore creates an empty store.
func NewStore(verifier Verifier, post Poster, log *logrus.Logger) *Store {
	return &Store{
		verifier: verifier,
		post:     post,
		log:      logging.Or(log).WithField("component", "verification"),
		entries:  make(map[string]*entry),
		byCode:   make(map[string]string),
	}
}

// OnChange sets the change listener.
func (s *Store) OnChange(fn func(Change)) { s.onChange = fn }

// OnError sets the listener for failed (rolled back) requests.
func (s *Store) OnError(fn func(assetID string, err error)) { s.onError = fn }

// Reset replaces the page. Entries for assets that stay on the page keep
// their in-flight mutation and buffered event; all others are destroyed.
func (s *Store) Reset(assets []models.Asset) {
	next := make(map[string]*entry, len(assets))
	order := make([]string, 0, len(assets))
	byCode := make(map[string]string, len(assets))

	for _, a := range assets {
		if _, dup := next[a.ID]; dup {
			continue
		}
		e := &entry{server: a}
		if old, ok := s.entries[a.ID]; ok {
			e.pending = old.pending
			e.buffered = old.buffered
		}
		next[a.ID] = e
		order = append(order, a.ID)
		if a.PropertyNumber != "" {
			byCode[a.PropertyNumber] = a.ID
		}
	}

	s.entries = next
	s.order = order
	s.byCode = byCode
}

// Len returns the number of entries on the page.
func (s *Store) Len() int { return len(s.order) }

// Get returns the view of one asset.
func (s *Store) Get(assetID string) (View, bool) {
	e, ok := s.entries[assetID]
	if !ok {
		return View{}, false
	}
	return e.view(), true
}

// ByPropertyNumber finds an entry by its scannable code.
func (s *Store) ByPropertyNumber(code string) (View, bool) {
	id, ok := s.byCode[code]
	if !ok {
		return View{}, false
	}
	return s.Get(id)
}

// Views returns all entries in page order.
func (s *Store) Views() []View {
	out := make([]View, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].view())
	}
	return out
}

func (e *entry) view() View {
	return View{Asset: e.server, Verified: e.displayed(), Pending: e.pending != nil}
}

// Toggle flips an asset optimistically and sends exactly one request. A
// second toggle for the same asset before the first settles is rejected
// with ErrInFlight. Asking for the state already held is a no-op.
func (s *Store) Toggle(ctx context.Context, assetID string, desired bool) error {
	e, ok := s.entries[assetID]
	if !ok {
		return ErrUnknownAsset
	}
	if e.pending != nil {
		return ErrInFlight
	}
	if e.server.Verified() == desired {
		return nil
	}

	m := &mutation{desired: desired, requestID: uuid.NewString()}
	e.pending = m
	s.emit(Change{Asset: e.server, WasVerified: !desired, IsVerified: desired, Cause: CauseOptimistic})

	s.log.WithFields(logrus.Fields{"assetId": assetID, "verified": desired, "requestId": m.requestID}).Debug("Verify request sent")
	go func() {
		asset, err := s.verifier.VerifyAsset(ctx, assetID, desired)
		s.post.Post(func() { s.settle(assetID, m.requestID, asset, err) })
	}()
	return nil
}

// settle applies the outcome of a request. It is a no-op when the entry is
// gone or belongs to a newer page load.
func (s *Store) settle(assetID, requestID string, asset *models.Asset, err error) {
	e, ok := s.entries[assetID]
	if !ok || e.pending == nil || e.pending.requestID != requestID {
		s.log.WithField("assetId", assetID).Debug("Verify response for an entry no longer on the page")
		return
	}
	desired := e.pending.desired
	e.pending = nil

	if err != nil {
		s.log.WithError(err).WithField("assetId", assetID).Warn("Verify failed, rolling back")
		s.emit(Change{Asset: e.server, WasVerified: desired, IsVerified: e.server.Verified(), Cause: CauseRolledBack})
		if s.onError != nil {
			s.onError(assetID, err)
		}
	} else {
		if asset != nil && asset.ID == assetID {
			e.server.PhysicalCountDetails = asset.PhysicalCountDetails
		} else {
			e.server.PhysicalCountDetails.Verified = desired
		}
		s.emit(Change{Asset: e.server, WasVerified: desired, IsVerified: e.server.Verified(), Cause: CauseCommitted})
	}

	if e.buffered != nil {
		b := *e.buffered
		e.buffered = nil
		s.applyRemote(e, b)
	}
}

// ApplyRemoteVerified merges an authoritative asset-verified snapshot.
// While a local request for the asset is in flight the snapshot is held
// (latest wins) and replayed once the request settles. onPage is false for
// assets not on the current page.
func (s *Store) ApplyRemoteVerified(asset models.Asset) (onPage, buffered bool) {
	e, ok := s.entries[asset.ID]
	if !ok {
		return false, false
	}
	if e.pending != nil {
		e.buffered = &asset
		return true, true
	}
	s.applyRemote(e, asset)
	return true, false
}

func (s *Store) applyRemote(e *entry, asset models.Asset) {
	was := e.server.Verified()
	e.server.PhysicalCountDetails = asset.PhysicalCountDetails
	s.emit(Change{Asset: e.server, WasVerified: was, IsVerified: e.server.Verified(), Cause: CauseRemote})
}

// ApplyRemoteUpdate merges a status/condition/remarks snapshot and returns
// the status the entry held before. Verification fields are left to
// asset-verified events.
func (s *Store) ApplyRemoteUpdate(asset models.Asset) (previous models.AssetStatus, onPage bool) {
	e, ok := s.entries[asset.ID]
	if !ok {
		return "", false
	}
	previous = e.server.Status
	e.server.Status = asset.Status
	e.server.Condition = asset.Condition
	e.server.Remarks = asset.Remarks
	if asset.Description != "" {
		e.server.Description = asset.Description
	}
	return previous, true
}

func (s *Store) emit(c Change) {
	if s.onChange != nil {
		s.onChange(c)
	}
}
