package models

import (
	"time"
)

// AssetStatus is the lifecycle state of a property item.
type AssetStatus string

const (
	StatusInUse     AssetStatus = "In Use"
	StatusInStorage AssetStatus = "In Storage"
	StatusForRepair AssetStatus = "For Repair"
	StatusMissing   AssetStatus = "Missing"
	StatusWaste     AssetStatus = "Waste"
	StatusDisposed  AssetStatus = "Disposed"
)

// Valid reports whether s is one of the known statuses.
func (s AssetStatus) Valid() bool {
	switch s {
	case StatusInUse, StatusInStorage, StatusForRepair, StatusMissing, StatusWaste, StatusDisposed:
		return true
	}
	return false
}

// AssetCondition is the physical condition noted during a count. Optional.
type AssetCondition string

const (
	ConditionGood          AssetCondition = "Good"
	ConditionFair          AssetCondition = "Fair"
	ConditionPoor          AssetCondition = "Poor"
	ConditionUnserviceable AssetCondition = "Unserviceable"
)

// Valid reports whether c is empty or a known condition.
func (c AssetCondition) Valid() bool {
	switch c {
	case "", ConditionGood, ConditionFair, ConditionPoor, ConditionUnserviceable:
		return true
	}
	return false
}

// PhysicalCountDetails is the verification sub-object of an asset.
// Verified implies VerifiedBy and VerifiedAt are set; unverified implies both nil.
type PhysicalCountDetails struct {
	Verified   bool       `gorm:"default:false;index" json:"verified"`
	VerifiedBy *string    `json:"verifiedBy"`
	VerifiedAt *time.Time `json:"verifiedAt"`
}

// Verification builds details that satisfy the verified/by/at invariant.
func Verification(verified bool, by string, at time.Time) PhysicalCountDetails {
	if !verified {
		return PhysicalCountDetails{}
	}
	at = at.UTC()
	return PhysicalCountDetails{Verified: true, VerifiedBy: &by, VerifiedAt: &at}
}

// Consistent reports whether the verified flag agrees with VerifiedBy/VerifiedAt.
func (d PhysicalCountDetails) Consistent() bool {
	if d.Verified {
		return d.VerifiedBy != nil && d.VerifiedAt != nil
	}
	return d.VerifiedBy == nil && d.VerifiedAt == nil
}

// Asset is the subset of a registry asset the physical count works with.
// Standardized: Go (PascalCase) -> DB (snake_case) -> JSON (camelCase)
type Asset struct {
	ID             string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	PropertyNumber string         `gorm:"uniqueIndex;not null" json:"propertyNumber"`
	Description    string         `json:"description,omitempty"`
	Office         string         `gorm:"index;not null" json:"office"`
	Status         AssetStatus    `gorm:"default:'In Use';index" json:"status"`
	Condition      AssetCondition `json:"condition,omitempty"`
	Remarks        string         `json:"remarks"`

	PhysicalCountDetails PhysicalCountDetails `gorm:"embedded;embeddedPrefix:pc_" json:"physicalCountDetails"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for Asset model
func (Asset) TableName() string {
	return "assets"
}

// Verified is shorthand for PhysicalCountDetails.Verified.
func (a Asset) Verified() bool {
	return a.PhysicalCountDetails.Verified
}

// SummaryStats are the office-wide physical count counters.
type SummaryStats struct {
	TotalOfficeAssets int `json:"totalOfficeAssets"`
	VerifiedCount     int `json:"verifiedCount"`
	MissingCount      int `json:"missingCount"`
	ForRepairCount    int `json:"forRepairCount"`
}

// AssetPage is one page of GET assets, with office totals when an office filter is set.
type AssetPage struct {
	Assets       []Asset       `json:"assets"`
	Total        int64         `json:"total"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
	SummaryStats *SummaryStats `json:"summaryStats,omitempty"`
}
