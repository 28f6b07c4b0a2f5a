package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/pflag"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/propcount/internal/config"
	"github.com/xelth-com/propcount/internal/database"
	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/models"
	"github.com/xelth-com/propcount/internal/utils"
)

// demoOffice describes one office of the demo dataset.
type demoOffice struct {
	Name     string
	Prefix   int
	Count    int
	Verified int
	Missing  int
	Repair   int
}

var offices = []demoOffice{
	{Name: "Treasury", Prefix: 0, Count: 10, Verified: 3},
	{Name: "Assessor", Prefix: 100, Count: 25, Verified: 5, Missing: 2, Repair: 1},
	{Name: "General Services", Prefix: 200, Count: 60, Verified: 12, Missing: 4, Repair: 6},
}

var descriptions = []string{
	"Office chair, swivel", "Steel filing cabinet, 4-drawer", "Desktop computer", "Laser printer",
	"Executive desk", "Air conditioner, split type", "Electric fan, stand", "Laptop computer",
	"Document scanner", "Steel cabinet with glass door",
}

func main() {
	framesDir := pflag.String("frames", "./frames", "write one QR PNG per property number here (empty to skip)")
	reset := pflag.Bool("reset", false, "delete existing demo assets first")
	operator := pflag.String("operator", "demo", "operator name for the printed station token")
	tokenTTL := pflag.Duration("token-ttl", 7*24*time.Hour, "validity of the printed station token")
	pflag.Parse()

	fmt.Println("🌱 Physical Count Demo Data Seeder")
	fmt.Println(strings.Repeat("=", 60))

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("✅ Connected to database")

	fmt.Println("🔨 Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	if *reset {
		fmt.Println("🗑️  Clearing existing assets...")
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Asset{}).Error; err != nil {
			log.Fatalf("❌ Clear failed: %v", err)
		}
	}

	assets := buildAssets(offices, time.Now())
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "property_number"}},
		DoNothing: true,
	}).CreateInBatches(assets, 100).Error
	if err != nil {
		log.Fatalf("❌ Failed to create assets: %v", err)
	}
	for _, o := range offices {
		fmt.Printf("   ✓ %-18s %3d assets (%d verified, %d missing, %d for repair)\n", o.Name, o.Count, o.Verified, o.Missing, o.Repair)
	}

	if *framesDir != "" {
		n, err := writeFrames(*framesDir, assets)
		if err != nil {
			log.Fatalf("❌ Failed to write QR frames: %v", err)
		}
		fmt.Printf("✅ Wrote %d QR frames to %s\n", n, *framesDir)
	}

	if cfg.JWTSecret != "" {
		token, err := utils.GenerateToken(*operator, "counter", cfg.JWTSecret, *tokenTTL)
		if err != nil {
			log.Fatalf("❌ Failed to issue token: %v", err)
		}
		fmt.Println()
		fmt.Printf("🔑 Station token for %q:\n%s\n", *operator, token)
	}
	fmt.Println("✅ Done")
}

// buildAssets lays out each office's assets; the first Verified are
// verified, then Missing are missing and Repair are for repair.
func buildAssets(offices []demoOffice, now time.Time) []models.Asset {
	var out []models.Asset
	for _, o := range offices {
		for i := 1; i <= o.Count; i++ {
			a := models.Asset{
				PropertyNumber: fmt.Sprintf("P-%04d", o.Prefix+i),
				Description:    descriptions[(o.Prefix+i)%len(descriptions)],
				Office:         o.Name,
				Status:         models.StatusInUse,
				Condition:      models.ConditionGood,
			}
			switch {
			case i <= o.Verified:
				a.PhysicalCountDetails = models.Verification(true, "seed", now)
			case i <= o.Verified+o.Missing:
				a.Status = models.StatusMissing
				a.Condition = ""
			case i <= o.Verified+o.Missing+o.Repair:
				a.Status = models.StatusForRepair
				a.Condition = models.ConditionPoor
			}
			out = append(out, a)
		}
	}
	return out
}

// writeFrames renders one QR code PNG per asset, named by property number.
func writeFrames(dir string, assets []models.Asset) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	for i, a := range assets {
		path := filepath.Join(dir, fmt.Sprintf("%04d_%s.png", i, a.PropertyNumber))
		if err := qrcode.WriteFile(a.PropertyNumber, qrcode.Medium, 256, path); err != nil {
			return i, err
		}
	}
	return len(assets), nil
}
