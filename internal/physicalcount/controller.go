// Package physicalcount wires the scanner, verification store, summary
// aggregator and realtime channel of one counting session together. A
// Controller is built once per session and owns all of them; nothing is
// shared through package state.
package physicalcount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/gateway"
	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/models"
	"github.com/xelth-com/propcount/internal/realtime"
	"github.com/xelth-com/propcount/internal/scanner"
	"github.com/xelth-com/propcount/internal/summary"
	"github.com/xelth-com/propcount/internal/verification"
)

// ErrBusy rejects a bulk save while another one is running.
var ErrBusy = errors.New("bulk save already in progress")

// ErrNoScanner is returned by scanner calls when no pipeline is attached.
var ErrNoScanner = errors.New("no scanner attached")

// Gateway is the slice of the REST client the controller uses.
type Gateway interface {
	ListAssets(ctx context.Context, q gateway.AssetQuery) (*models.AssetPage, error)
	VerifyAsset(ctx context.Context, assetID string, verified bool) (*models.Asset, error)
	BulkSave(ctx context.Context, updates []models.PhysicalCountUpdate, user string) (*gateway.BulkSaveResult, error)
	LookupByPropertyNumber(ctx context.Context, propertyNumber string) (*models.Asset, error)
}

// Scheduler runs tasks on the controller's loop.
type Scheduler interface {
	Post(fn func()) bool
	After(d time.Duration, fn func()) func()
}

// Level grades a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "unknown"
}

// Notifier shows short-lived messages to the operator.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, message string)

// Notify calls f.
func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

// Options configure a Controller.
type Options struct {
	PageSize     int
	HighlightFor time.Duration
	Notifier     Notifier
}

const (
	defaultPageSize     = 50
	defaultHighlightFor = 2 * time.Second
)

// Row is one rendered line of the count sheet.
type Row struct {
	Asset       models.Asset
	Verified    bool
	Pending     bool
	Highlighted bool
}

// Summary is the rendered counter block.
type Summary struct {
	Office string
	Loaded bool
	models.SummaryStats
}

// PageState describes the current filter and load status.
type PageState struct {
	Office  string
	Search  string
	Page    int
	Limit   int
	Total   int64
	Loading bool
	Saving  bool
}

// Controller mediates one counting session. It is loop-confined: all
// methods must be called from the loop passed as sched.
type Controller struct {
	ctx    context.Context
	gw     Gateway
	sched  Scheduler
	log    *logrus.Entry
	notify Notifier
	opts   Options

	store    *verification.Store
	agg      *summary.Aggregator
	channel  *realtime.Channel
	pipeline *scanner.Pipeline

	office  string
	search  string
	page    int
	total   int64
	gen     uint64
	loading bool
	saving  bool

	highlights map[string]highlight
	hlSeq      uint64
	onRender   []func()
}

type highlight struct {
	seq    uint64
	cancel func()
}

// New builds a controller. ctx bounds the requests it issues.
func New(ctx context.Context, gw Gateway, sched Scheduler, log *logrus.Logger, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.HighlightFor <= 0 {
		opts.HighlightFor = defaultHighlightFor
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(Level, string) {})
	}
	log = logging.Or(log)

	c := &Controller{
		ctx:        ctx,
		gw:         gw,
		sched:      sched,
		log:        log.WithField("component", "physicalcount"),
		notify:     opts.Notifier,
		opts:       opts,
		store:      verification.NewStore(gw, sched, log),
		agg:        summary.New(log),
		channel:    realtime.NewChannel(sched, log),
		page:       1,
		highlights: make(map[string]highlight),
	}

	c.store.OnChange(c.storeChanged)
	c.store.OnError(c.verifyFailed)
	c.channel.OnVerified(c.remoteVerified)
	c.channel.OnStatusUpdated(c.remoteUpdated)
	c.channel.OnConnectionError(func(err error) {
		c.notify.Notify(LevelWarning, "Live updates unavailable. Refresh to see changes from other counters.")
	})
	return c
}

// Channel returns the realtime channel; attach a transport to it and pass
// it to the transport as the event handler.
func (c *Controller) Channel() *realtime.Channel { return c.channel }

// AttachScanner routes the pipeline's decodes into the controller.
func (c *Controller) AttachScanner(p *scanner.Pipeline) {
	c.pipeline = p
	p.OnDecoded(c.HandleDecoded)
}

// OnRender registers a callback run after every visible state change.
func (c *Controller) OnRender(fn func()) { c.onRender = append(c.onRender, fn) }

// SelectOffice switches the office filter. The old room is left and the new
// one joined before anything else happens, then the page is reloaded.
func (c *Controller) SelectOffice(office string) {
	if err := c.channel.SwitchOffice(office); err != nil {
		c.log.WithError(err).WithField("office", office).Warn("Room switch failed")
	}
	c.office = office
	c.page = 1
	c.store.Reset(nil)
	c.agg.Reset(office)
	c.clearHighlights()
	c.reload()
}

// SetPage loads another page of the current filter.
func (c *Controller) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	c.page = page
	c.reload()
}

// SetSearch filters the current office by free text and goes back to page 1.
func (c *Controller) SetSearch(search string) {
	c.search = search
	c.page = 1
	c.reload()
}

// Reload refetches the current page and the office totals.
func (c *Controller) Reload() { c.reload() }

func (c *Controller) reload() {
	c.gen++
	gen := c.gen
	office := c.office
	q := gateway.AssetQuery{Office: office, Search: c.search, Page: c.page, Limit: c.opts.PageSize}
	c.loading = true
	c.render()

	go func() {
		page, err := c.gw.ListAssets(c.ctx, q)
		c.sched.Post(func() { c.loaded(gen, office, page, err) })
	}()
}

func (c *Controller) loaded(gen uint64, office string, page *models.AssetPage, err error) {
	if gen != c.gen {
		return
	}
	c.loading = false
	if err != nil {
		c.log.WithError(err).WithField("office", office).Error("Loading assets failed")
		c.notify.Notify(LevelError, "Could not load assets.")
		c.render()
		return
	}

	c.store.Reset(page.Assets)
	c.total = page.Total
	if page.SummaryStats != nil && office != "" {
		c.agg.LoadFull(office, *page.SummaryStats)
	}
	c.log.WithFields(logrus.Fields{"office": office, "page": c.page, "rows": len(page.Assets), "total": page.Total}).Debug("Page loaded")
	c.render()
}

// Toggle flips one row's verified checkbox. A row with a request in flight
// rejects the toggle with verification.ErrInFlight.
func (c *Controller) Toggle(assetID string, verified bool) error {
	return c.store.Toggle(c.ctx, assetID, verified)
}

// BulkSave commits status/condition/remarks edits and reloads the page on
// success. It is not optimistic.
func (c *Controller) BulkSave(updates []models.PhysicalCountUpdate, user string) error {
	if c.saving {
		return ErrBusy
	}
	if len(updates) == 0 {
		return nil
	}
	c.saving = true
	c.render()

	go func() {
		res, err := c.gw.BulkSave(c.ctx, updates, user)
		c.sched.Post(func() {
			c.saving = false
			if err != nil {
				c.log.WithError(err).WithField("updates", len(updates)).Error("Bulk save failed")
				c.notify.Notify(LevelError, "Saving the count failed.")
				c.render()
				return
			}
			c.notify.Notify(LevelInfo, fmt.Sprintf("Saved %d assets.", res.Updated))
			c.reload()
		})
	}()
	return nil
}

// StartScanner acquires the camera in the given mode. Acquisition failures
// are shown to the operator and not retried.
func (c *Controller) StartScanner(mode scanner.Mode) error {
	if c.pipeline == nil {
		return ErrNoScanner
	}
	err := c.pipeline.Start(c.ctx, mode)
	if errors.Is(err, scanner.ErrCameraUnavailable) {
		c.log.WithError(err).Warn("Camera unavailable")
		c.notify.Notify(LevelError, "Camera unavailable. Check the device and its permissions.")
	}
	c.render()
	return err
}

// StopScanner releases the camera. Verify requests already sent still settle.
func (c *Controller) StopScanner() {
	if c.pipeline != nil {
		c.pipeline.Stop()
		c.render()
	}
}

// HandleDecoded resolves a scanned property number against the page and
// reports the outcome to the scanner.
func (c *Controller) HandleDecoded(d scanner.Decode) {
	log := c.log.WithField("code", d.Code)

	if view, ok := c.store.ByPropertyNumber(d.Code); ok {
		c.highlight(view.Asset.ID)
		if view.Verified {
			c.complete(d, scanner.FeedbackAlreadyVerified, fmt.Sprintf("%s is already verified.", d.Code))
			return
		}
		if err := c.store.Toggle(c.ctx, view.Asset.ID, true); err != nil {
			log.WithError(err).Warn("Scan could not verify asset")
			c.complete(d, scanner.FeedbackError, fmt.Sprintf("%s could not be verified: %v", d.Code, err))
			return
		}
		log.Info("✅ Verified by scan")
		c.complete(d, scanner.FeedbackSuccess, fmt.Sprintf("%s verified.", d.Code))
		return
	}

	office := c.office
	go func() {
		asset, err := c.gw.LookupByPropertyNumber(c.ctx, d.Code)
		c.sched.Post(func() {
			switch {
			case errors.Is(err, gateway.ErrNotFound):
				c.complete(d, scanner.FeedbackNotFound, fmt.Sprintf("%s does not exist.", d.Code))
			case err != nil:
				log.WithError(err).Warn("Lookup after scan miss failed")
				c.complete(d, scanner.FeedbackError, fmt.Sprintf("%s is not on this page and could not be looked up.", d.Code))
			case asset.Office != office:
				c.complete(d, scanner.FeedbackWrongOffice, fmt.Sprintf("%s belongs to office %s.", d.Code, asset.Office))
			default:
				c.complete(d, scanner.FeedbackNotOnPage, fmt.Sprintf("%s is in this office but not on the current page.", d.Code))
			}
		})
	}()
}

func (c *Controller) complete(d scanner.Decode, kind scanner.FeedbackKind, msg string) {
	if c.pipeline != nil {
		c.pipeline.Complete(d, scanner.Result{Kind: kind, Message: msg})
	}
	c.render()
}

func (c *Controller) storeChanged(ch verification.Change) {
	if ch.Asset.Office == c.agg.Office() {
		c.agg.ApplyVerifiedDelta(ch.WasVerified, ch.IsVerified)
	}
	c.render()
}

func (c *Controller) verifyFailed(assetID string, err error) {
	code := assetID
	if v, ok := c.store.Get(assetID); ok {
		code = v.Asset.PropertyNumber
	}
	c.notify.Notify(LevelError, fmt.Sprintf("Could not update %s. Try again.", code))
}

func (c *Controller) remoteVerified(env models.Envelope) {
	asset := *env.Asset
	if asset.Office != c.office {
		return
	}
	onPage, buffered := c.store.ApplyRemoteVerified(asset)
	if onPage {
		c.highlight(asset.ID)
		if buffered {
			c.log.WithField("assetId", asset.ID).Debug("Remote verify held until local request settles")
		}
		c.render()
		return
	}
	// Counted twice when a LoadFull already included this change; the next
	// reload corrects it.
	if env.Previous != nil {
		c.agg.ApplyVerifiedDelta(env.Previous.Verified(), asset.Verified())
		c.render()
	}
}

func (c *Controller) remoteUpdated(env models.Envelope) {
	asset := *env.Asset
	if asset.Office != c.office {
		return
	}
	previous, onPage := c.store.ApplyRemoteUpdate(asset)
	if !onPage {
		if env.Previous == nil {
			return
		}
		previous = env.Previous.Status
	} else {
		c.highlight(asset.ID)
	}
	c.agg.ApplyStatusDelta(previous, asset.Status)
	c.render()
}

func (c *Controller) highlight(assetID string) {
	if h, ok := c.highlights[assetID]; ok {
		h.cancel()
	}
	c.hlSeq++
	seq := c.hlSeq
	c.highlights[assetID] = highlight{seq: seq, cancel: c.sched.After(c.opts.HighlightFor, func() {
		if h, ok := c.highlights[assetID]; ok && h.seq == seq {
			delete(c.highlights, assetID)
			c.render()
		}
	})}
}

func (c *Controller) clearHighlights() {
	for id, h := range c.highlights {
		h.cancel()
		delete(c.highlights, id)
	}
}

// Rows projects the store into display rows in page order.
func (c *Controller) Rows() []Row {
	views := c.store.Views()
	rows := make([]Row, 0, len(views))
	for _, v := range views {
		_, hl := c.highlights[v.Asset.ID]
		rows = append(rows, Row{Asset: v.Asset, Verified: v.Verified, Pending: v.Pending, Highlighted: hl})
	}
	return rows
}

// Summary returns the office counters.
func (c *Controller) Summary() Summary {
	return Summary{Office: c.agg.Office(), Loaded: c.agg.Loaded(), SummaryStats: c.agg.Snapshot()}
}

// State returns the current filter and load status.
func (c *Controller) State() PageState {
	return PageState{
		Office: c.office, Search: c.search, Page: c.page, Limit: c.opts.PageSize,
		Total: c.total, Loading: c.loading, Saving: c.saving,
	}
}

// Scanner returns the scanner state, Idle when none is attached.
func (c *Controller) Scanner() scanner.State {
	if c.pipeline == nil {
		return scanner.Idle
	}
	return c.pipeline.State()
}

// Close stops the scanner and leaves the office room.
func (c *Controller) Close() {
	c.StopScanner()
	if err := c.channel.SwitchOffice(""); err != nil {
		c.log.WithError(err).Debug("Leaving room on close failed")
	}
	c.clearHighlights()
	c.onRender = nil
}

func (c *Controller) render() {
	for _, fn := range c.onRender {
		fn()
	}
}
