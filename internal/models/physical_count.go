package models

import (
	"time"

	"gorm.io/datatypes"
)

// PhysicalCountUpdate is one row of a bulk count commit.
type PhysicalCountUpdate struct {
	ID        string         `json:"id"`
	Status    AssetStatus    `json:"status"`
	Condition AssetCondition `json:"condition"`
	Remarks   string         `json:"remarks"`
}

// BulkSaveRequest is the body of PUT physical-count.
type BulkSaveRequest struct {
	Updates []PhysicalCountUpdate `json:"updates"`
	User    string                `json:"user"`
}

// VerifyRequest is the body of PUT physical-count/:assetId/verify.
type VerifyRequest struct {
	Verified *bool `json:"verified"`
}

// PhysicalCountLog keeps the payload of every committed bulk save.
type PhysicalCountLog struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	User      string         `gorm:"index" json:"user"`
	Offices   string         `json:"offices"`
	Changed   int            `json:"changed"`
	Updates   datatypes.JSON `json:"updates"`
	CreatedAt time.Time      `json:"createdAt"`
}

// TableName specifies the table name for PhysicalCountLog model
func (PhysicalCountLog) TableName() string {
	return "physical_count_logs"
}
