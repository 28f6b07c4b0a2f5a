package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/propcount/internal/locking"
	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/middleware"
	"github.com/xelth-com/propcount/internal/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	maxBulkUpdates   = 1000
	lockTTL          = 30 * time.Second
)

// assetFilter is the parsed query of GET /api/assets and the export.
type assetFilter struct {
	PhysicalCount bool
	Office        string
	Verified      *bool
	Search        string
	Page          int
	Limit         int
}

func parseAssetFilter(q url.Values) (assetFilter, error) {
	f := assetFilter{
		Office: strings.TrimSpace(q.Get("office")),
		Search: strings.TrimSpace(q.Get("search")),
		Page:   1,
		Limit:  defaultPageLimit,
	}
	if v := q.Get("physicalCount"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid physicalCount %q", v)
		}
		f.PhysicalCount = b
	}
	if v := q.Get("verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid verified %q", v)
		}
		f.Verified = &b
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid page %q", v)
		}
		f.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		if n > maxPageLimit {
			n = maxPageLimit
		}
		f.Limit = n
	}
	return f, nil
}

// scope applies everything but the verified/search/paging filters, i.e. the
// set the office totals are computed over.
func (f assetFilter) scope(db *gorm.DB) *gorm.DB {
	if f.Office != "" {
		db = db.Where("office = ?", f.Office)
	}
	if f.PhysicalCount {
		db = db.Where("status <> ?", models.StatusDisposed)
	}
	return db
}

func (f assetFilter) apply(db *gorm.DB) *gorm.DB {
	db = f.scope(db)
	if f.Verified != nil {
		db = db.Where("pc_verified = ?", *f.Verified)
	}
	if f.Search != "" {
		like := "%" + escapeLike(f.Search) + "%"
		db = db.Where("property_number ILIKE ? OR description ILIKE ? OR remarks ILIKE ?", like, like, like)
	}
	return db
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// listAssets returns one page of assets plus office totals when an office is set
func (r *Router) listAssets(w http.ResponseWriter, req *http.Request) {
	f, err := parseAssetFilter(req.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	db := r.db.WithContext(req.Context())

	var total int64
	if err := f.apply(db.Model(&models.Asset{})).Count(&total).Error; err != nil {
		logging.LogError(r.log, "handlers", "listAssets", "count", f, err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch assets")
		return
	}

	assets := make([]models.Asset, 0, f.Limit)
	err = f.apply(db.Model(&models.Asset{})).
		Order("property_number").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&assets).Error
	if err != nil {
		logging.LogError(r.log, "handlers", "listAssets", "find", f, err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch assets")
		return
	}

	page := models.AssetPage{Assets: assets, Total: total, Page: f.Page, Limit: f.Limit}
	if f.Office != "" {
		stats, err := r.summaryStats(req.Context(), f)
		if err != nil {
			logging.LogError(r.log, "handlers", "listAssets", "summary", f.Office, err)
			respondError(w, http.StatusInternalServerError, "Failed to compute summary")
			return
		}
		page.SummaryStats = stats
	}
	respondJSON(w, http.StatusOK, page)
}

func (r *Router) summaryStats(ctx context.Context, f assetFilter) (*models.SummaryStats, error) {
	var row struct {
		Total     int
		Verified  int
		Missing   int
		ForRepair int
	}
	err := f.scope(r.db.WithContext(ctx).Model(&models.Asset{})).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN pc_verified THEN 1 ELSE 0 END), 0) AS verified,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS missing,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS for_repair`,
			models.StatusMissing, models.StatusForRepair).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &models.SummaryStats{
		TotalOfficeAssets: row.Total,
		VerifiedCount:     row.Verified,
		MissingCount:      row.Missing,
		ForRepairCount:    row.ForRepair,
	}, nil
}

// verifyAsset sets or clears the verified flag and broadcasts the result to
// the asset's office room. Writes and broadcasts for one asset are
// serialized so room members see them in commit order.
func (r *Router) verifyAsset(w http.ResponseWriter, req *http.Request) {
	assetID := mux.Vars(req)["assetId"]
	if _, err := uuid.Parse(assetID); err != nil {
		respondError(w, http.StatusNotFound, "Asset not found")
		return
	}
	var body models.VerifyRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Verified == nil {
		respondError(w, http.StatusBadRequest, "Body must be {\"verified\": bool}")
		return
	}
	op, _ := middleware.OperatorFromContext(req.Context())
	log := r.log.WithFields(logrus.Fields{"assetId": assetID, "operator": op.Name, "verified": *body.Verified})

	unlock, err := r.locker.Lock(req.Context(), "asset:"+assetID, lockTTL)
	if err != nil {
		log.WithError(err).Warn("Asset lock not obtained")
		respondError(w, http.StatusServiceUnavailable, "Asset is busy, try again")
		return
	}
	defer unlock()

	var asset, previous models.Asset
	err = r.db.WithContext(req.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&asset, "id = ?", assetID).Error; err != nil {
			return err
		}
		previous = asset
		details := models.Verification(*body.Verified, op.Name, time.Now())
		if err := tx.Model(&asset).Updates(map[string]interface{}{
			"pc_verified":    details.Verified,
			"pc_verified_by": details.VerifiedBy,
			"pc_verified_at": details.VerifiedAt,
		}).Error; err != nil {
			return err
		}
		asset.PhysicalCountDetails = details
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "Asset not found")
		return
	}
	if err != nil {
		logging.LogError(r.log, "handlers", "verifyAsset", "update", assetID, err)
		respondError(w, http.StatusInternalServerError, "Failed to verify asset")
		return
	}

	if r.hub != nil {
		if err := r.hub.PublishAsset(req.Context(), models.EventAssetVerified, &asset, &previous); err != nil {
			log.WithError(err).Error("Broadcast failed")
		}
	}
	log.Info("Asset verification updated")
	respondJSON(w, http.StatusOK, asset)
}

func validateBulk(body models.BulkSaveRequest) error {
	if len(body.Updates) == 0 {
		return errors.New("updates must not be empty")
	}
	if len(body.Updates) > maxBulkUpdates {
		return fmt.Errorf("at most %d updates per request", maxBulkUpdates)
	}
	seen := make(map[string]bool, len(body.Updates))
	for i, u := range body.Updates {
		if _, err := uuid.Parse(u.ID); err != nil {
			return fmt.Errorf("updates[%d]: invalid id %q", i, u.ID)
		}
		if seen[u.ID] {
			return fmt.Errorf("updates[%d]: duplicate id %s", i, u.ID)
		}
		seen[u.ID] = true
		if !u.Status.Valid() {
			return fmt.Errorf("updates[%d]: invalid status %q", i, u.Status)
		}
		if !u.Condition.Valid() {
			return fmt.Errorf("updates[%d]: invalid condition %q", i, u.Condition)
		}
	}
	return nil
}

// bulkSave commits status/condition/remarks for many assets in one
// transaction, records an audit row, and broadcasts asset-updated for every
// asset that actually changed.
func (r *Router) bulkSave(w http.ResponseWriter, req *http.Request) {
	var body models.BulkSaveRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if err := validateBulk(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	op, _ := middleware.OperatorFromContext(req.Context())
	if body.User == "" {
		body.User = op.Name
	}
	ctx := req.Context()

	ids := make([]string, len(body.Updates))
	for i, u := range body.Updates {
		ids[i] = u.ID
	}
	var offices []string
	if err := r.db.WithContext(ctx).Model(&models.Asset{}).Where("id IN ?", ids).Distinct().Pluck("office", &offices).Error; err != nil {
		logging.LogError(r.log, "handlers", "bulkSave", "offices", ids, err)
		respondError(w, http.StatusInternalServerError, "Failed to save physical count")
		return
	}

	keys := make([]string, 0, len(offices)+len(ids))
	for _, o := range offices {
		keys = append(keys, "office:"+o)
	}
	for _, id := range ids {
		keys = append(keys, "asset:"+id)
	}
	unlock, err := locking.LockAll(ctx, r.locker, keys, lockTTL)
	if err != nil {
		r.log.WithError(err).WithField("offices", offices).Warn("Bulk save lock not obtained")
		respondError(w, http.StatusServiceUnavailable, "Another save is in progress, try again")
		return
	}
	defer unlock()

	type change struct{ before, after models.Asset }
	var changes []change
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.Asset
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return err
		}
		byID := make(map[string]models.Asset, len(rows))
		for _, a := range rows {
			byID[a.ID] = a
		}
		var missing []string
		for _, id := range ids {
			if _, ok := byID[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return &unknownAssetsError{ids: missing}
		}

		for _, u := range body.Updates {
			before := byID[u.ID]
			if before.Status == u.Status && before.Condition == u.Condition && before.Remarks == u.Remarks {
				continue
			}
			after := before
			after.Status, after.Condition, after.Remarks = u.Status, u.Condition, u.Remarks
			if err := tx.Model(&after).Updates(map[string]interface{}{
				"status":    u.Status,
				"condition": u.Condition,
				"remarks":   u.Remarks,
			}).Error; err != nil {
				return err
			}
			changes = append(changes, change{before, after})
		}

		payload, err := json.Marshal(body.Updates)
		if err != nil {
			return err
		}
		sort.Strings(offices)
		return tx.Create(&models.PhysicalCountLog{
			User:    body.User,
			Offices: strings.Join(offices, ","),
			Changed: len(changes),
			Updates: payload,
		}).Error
	})

	var unknown *unknownAssetsError
	if errors.As(err, &unknown) {
		respondError(w, http.StatusBadRequest, unknown.Error())
		return
	}
	if err != nil {
		logging.LogError(r.log, "handlers", "bulkSave", "transaction", body.User, err)
		respondError(w, http.StatusInternalServerError, "Failed to save physical count")
		return
	}

	if r.hub != nil {
		for _, c := range changes {
			after, before := c.after, c.before
			if err := r.hub.PublishAsset(ctx, models.EventAssetUpdated, &after, &before); err != nil {
				r.log.WithError(err).WithField("assetId", after.ID).Error("Broadcast failed")
			}
		}
	}
	r.log.WithFields(logrus.Fields{"user": body.User, "updates": len(body.Updates), "changed": len(changes)}).Info("Physical count saved")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Physical count saved",
		"updated": len(changes),
	})
}

type unknownAssetsError struct {
	ids []string
}

func (e *unknownAssetsError) Error() string {
	return "unknown asset ids: " + strings.Join(e.ids, ", ")
}

// lookupByPropertyNumber finds an asset in any office. The router matches
// encoded paths, so the code arrives still escaped.
func (r *Router) lookupByPropertyNumber(w http.ResponseWriter, req *http.Request) {
	pn, err := url.PathUnescape(mux.Vars(req)["propertyNumber"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid property number")
		return
	}
	var asset models.Asset
	err = r.db.WithContext(req.Context()).Where("property_number = ?", pn).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "Asset not found")
		return
	}
	if err != nil {
		logging.LogError(r.log, "handlers", "lookupByPropertyNumber", "find", pn, err)
		respondError(w, http.StatusInternalServerError, "Failed to look up asset")
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

// exportCSV streams the count sheet of an office (or all offices)
func (r *Router) exportCSV(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	f := assetFilter{Office: strings.TrimSpace(q.Get("office")), PhysicalCount: true}

	rows, err := f.scope(r.db.WithContext(req.Context()).Model(&models.Asset{})).
		Order("office").Order("property_number").Rows()
	if err != nil {
		logging.LogError(r.log, "handlers", "exportCSV", "query", f.Office, err)
		respondError(w, http.StatusInternalServerError, "Failed to export")
		return
	}
	defer rows.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(f.Office, time.Now())))
	w.WriteHeader(http.StatusOK)

	cw := newSheetWriter(w)
	for rows.Next() {
		var a models.Asset
		if err := r.db.ScanRows(rows, &a); err != nil {
			r.log.WithError(err).Error("Export row scan failed")
			return
		}
		if err := cw.Write(a); err != nil {
			r.log.WithError(err).Debug("Export client went away")
			return
		}
	}
	if err := cw.Flush(); err != nil {
		r.log.WithError(err).Debug("Export flush failed")
	}
}
