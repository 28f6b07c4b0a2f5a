package physicalcount

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xelth-com/propcount/internal/gateway"
	"github.com/xelth-com/propcount/internal/models"
	"github.com/xelth-com/propcount/internal/scanner"
)

// fakeBackend is an in-memory API. It is called from request goroutines.
type fakeBackend struct {
	mu          sync.Mutex
	assets      map[string]models.Asset
	verifyCalls int
	failVerify  bool
	gate        chan struct{}
	operator    string
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{assets: make(map[string]models.Asset), operator: "ana"}
	for i := 1; i <= 10; i++ {
		a := models.Asset{
			ID:             fmt.Sprintf("t%02d", i),
			PropertyNumber: fmt.Sprintf("P-%04d", i),
			Office:         "Treasury",
			Status:         models.StatusInUse,
		}
		if i <= 3 {
			a.PhysicalCountDetails = models.Verification(true, "seed", time.Now())
		}
		b.assets[a.ID] = a
	}
	for i := 1; i <= 3; i++ {
		a := models.Asset{
			ID:             fmt.Sprintf("a%02d", i),
			PropertyNumber: fmt.Sprintf("P-%04d", 100+i),
			Office:         "Assessor",
			Status:         models.StatusInUse,
		}
		b.assets[a.ID] = a
	}
	return b
}

func (b *fakeBackend) asset(id string) models.Asset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.assets[id]
}

func (b *fakeBackend) ListAssets(ctx context.Context, q gateway.AssetQuery) (*models.AssetPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []models.Asset
	stats := models.SummaryStats{}
	for _, a := range b.assets {
		if q.Office != "" && a.Office != q.Office {
			continue
		}
		stats.TotalOfficeAssets++
		if a.Verified() {
			stats.VerifiedCount++
		}
		switch a.Status {
		case models.StatusMissing:
			stats.MissingCount++
		case models.StatusForRepair:
			stats.ForRepairCount++
		}
		if q.Search != "" && !strings.Contains(a.PropertyNumber, q.Search) {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].PropertyNumber < matched[j].PropertyNumber })

	page, limit := q.Page, q.Limit
	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	res := &models.AssetPage{Assets: matched[start:end], Total: int64(len(matched)), Page: page, Limit: limit}
	if q.Office != "" {
		res.SummaryStats = &stats
	}
	return res, nil
}

func (b *fakeBackend) VerifyAsset(ctx context.Context, assetID string, verified bool) (*models.Asset, error) {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifyCalls++
	if b.failVerify {
		return nil, errors.New("503 service unavailable")
	}
	a, ok := b.assets[assetID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	a.PhysicalCountDetails = models.Verification(verified, b.operator, time.Now())
	b.assets[assetID] = a
	return &a, nil
}

func (b *fakeBackend) BulkSave(ctx context.Context, updates []models.PhysicalCountUpdate, user string) (*gateway.BulkSaveResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range updates {
		a := b.assets[u.ID]
		a.Status, a.Condition, a.Remarks = u.Status, u.Condition, u.Remarks
		b.assets[u.ID] = a
	}
	return &gateway.BulkSaveResult{Message: "ok", Updated: len(updates)}, nil
}

func (b *fakeBackend) LookupByPropertyNumber(ctx context.Context, propertyNumber string) (*models.Asset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.assets {
		if a.PropertyNumber == propertyNumber {
			return &a, nil
		}
	}
	return nil, gateway.ErrNotFound
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.verifyCalls
}

type recordingTransport struct {
	sent []models.Envelope
}

func (r *recordingTransport) Emit(env models.Envelope) error {
	r.sent = append(r.sent, env)
	return nil
}

type labelImage struct {
	*image.Gray
	code string
}

func label(code string) image.Image {
	return labelImage{Gray: image.NewGray(image.Rect(0, 0, 4, 4)), code: code}
}

var labelDecoder = scanner.DecoderFunc(func(f scanner.Frame) (string, bool) {
	img, ok := f.Image.(labelImage)
	if !ok {
		return "", false
	}
	return img.code, true
})

type notice struct {
	level Level
	msg   string
}
