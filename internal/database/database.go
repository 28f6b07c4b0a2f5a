package database

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/propcount/internal/config"
	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/models"
)

const (
	defaultEmbeddedDir  = "./db_data"
	defaultEmbeddedPort = 5433
	embeddedPassword    = "postgres"
)

// DB wraps gorm.DB and includes a reference to an embedded process if active
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
	log      *logrus.Logger
}

// Connect opens the asset database. With Embedded() set it first starts the
// bundled PostgreSQL on cfg.EmbeddedPort with its data in cfg.EmbeddedDir.
func Connect(cfg config.DatabaseConfig, log *logrus.Logger) (*DB, error) {
	log = logging.Or(log)

	var embedded *embeddedpostgres.EmbeddedPostgres
	password := cfg.Password
	if cfg.Embedded() {
		if cfg.EmbeddedPort == 0 {
			cfg.EmbeddedPort = defaultEmbeddedPort
		}
		if cfg.EmbeddedDir == "" {
			cfg.EmbeddedDir = defaultEmbeddedDir
		}
		var err error
		if embedded, err = startEmbedded(cfg, log); err != nil {
			return nil, err
		}
		cfg.Port = strconv.Itoa(cfg.EmbeddedPort)
		password = embeddedPassword
	} else {
		log.Infof("🌐 Mode: [External PostgreSQL] - Connecting to %s:%s", cfg.Host, cfg.Port)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, password, cfg.Database)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  gormLogger(log),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("✅ Database connection established")
	return &DB{DB: db, embedded: embedded, log: log}, nil
}

func startEmbedded(cfg config.DatabaseConfig, log *logrus.Logger) (*embeddedpostgres.EmbeddedPostgres, error) {
	log.WithFields(logrus.Fields{"port": cfg.EmbeddedPort, "dir": cfg.EmbeddedDir}).
		Info("📦 Mode: [Embedded PostgreSQL] - Initializing internal database...")

	stopOrphan(cfg.EmbeddedDir, log)
	if !waitPortFree(cfg.EmbeddedPort, 3*time.Second) {
		return nil, fmt.Errorf("port %d is still in use by another process", cfg.EmbeddedPort)
	}

	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		DataPath(cfg.EmbeddedDir).
		Port(uint32(cfg.EmbeddedPort)).
		Database(cfg.Database).
		Username(cfg.Username).
		Password(embeddedPassword).
		Logger(log.WriterLevel(logrus.DebugLevel)))
	if err := pg.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded database: %w", err)
	}
	log.Infof("✅ Embedded PostgreSQL process started on port %d", cfg.EmbeddedPort)
	return pg, nil
}

// stopOrphan terminates a postmaster left running in dataDir by a crashed
// process and removes its pid file.
func stopOrphan(dataDir string, log *logrus.Logger) {
	pidFile := filepath.Join(dataDir, "postmaster.pid")
	pid, err := readPid(pidFile)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		log.Warnf("⚠️  Could not parse PID from postmaster.pid: %v", err)
		return
	}
	defer os.Remove(pidFile)

	proc, err := os.FindProcess(pid)
	if err != nil || proc.Signal(syscall.Signal(0)) != nil {
		log.Infof("🧹 Cleaning up stale postmaster.pid (PID %d not running)", pid)
		return
	}

	log.Warnf("⚠️  Found orphaned PostgreSQL process (PID %d), attempting to stop...", pid)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Warnf("⚠️  Could not send SIGTERM to PID %d: %v", pid, err)
	}
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		time.Sleep(500 * time.Millisecond)
		if proc.Signal(syscall.Signal(0)) != nil {
			log.Info("✅ Orphaned PostgreSQL process stopped")
			return
		}
	}
	log.Warn("⚠️  Process did not stop gracefully, sending SIGKILL...")
	proc.Kill()
	time.Sleep(500 * time.Millisecond)
}

// readPid returns the PID on the first line of a postmaster.pid file.
func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	first, _, _ := strings.Cut(string(data), "\n")
	return strconv.Atoi(strings.TrimSpace(first))
}

// waitPortFree reports whether nothing listens on the local port within timeout.
func waitPortFree(port int, timeout time.Duration) bool {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	for deadline := time.Now().Add(timeout); ; {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return true
		}
		conn.Close()
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// gormLogger routes gorm's SQL log through logrus; statements are logged
// only at debug, slow ones always.
func gormLogger(log *logrus.Logger) logger.Interface {
	level := logger.Warn
	if log.IsLevelEnabled(logrus.DebugLevel) {
		level = logger.Info
	}
	return logger.New(log, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// Close ensures the database connection and embedded process are shut down
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if db.embedded != nil {
		db.log.Info("🛑 Stopping Embedded PostgreSQL process...")
		if stopErr := db.embedded.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

// Migrate creates or updates the physical count tables.
func (db *DB) Migrate() error {
	return db.DB.AutoMigrate(&models.Asset{}, &models.PhysicalCountLog{})
}
