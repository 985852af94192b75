// Package db opens the database the application runs on. SQLite is the
// default, Postgres can be selected with database.driver
package db

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/pkg/util"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultSQLitePath = "database.db"

// Needed so concurrent redemptions wait for the write lock instead of failing
const sqliteParams = "_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"

// New opens the database configured in viper and migrates it
func New() (*gorm.DB, error) {
	driver := viper.GetString("database.driver")
	dsn := viper.GetString("database.dsn")

	// If running in a docker container don't allow the sqlite file to be created.
	// The host should instead mount it using volumes
	if driver == "sqlite" && (dsn == "" || dsn == defaultSQLitePath) && util.IsRunningInDocker() {
		if _, err := os.Stat(defaultSQLitePath); errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("SQLite database file not mounted, please use docker volumes to mount it to /app/database.db")
		}
	}

	return Open(driver, dsn)
}

// Open connects to the database with the given driver and runs the migrations
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = defaultSQLitePath
		}

		if !strings.Contains(dsn, "_busy_timeout") {
			if strings.Contains(dsn, "?") {
				dsn += "&" + sqliteParams
			} else {
				dsn += "?" + sqliteParams
			}
		}

		dialector = sqlite.Open(dsn)
	case "postgres":
		if dsn == "" {
			return nil, errors.New("no postgres dsn provided")
		}

		dialector = postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: logger.New(zap.NewStdLog(zap.L()), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s database, %w", driver, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&model.User{}, &model.File{}, &model.PrintToken{}, &model.QRCode{})
	if err != nil {
		return fmt.Errorf("failed to automigrate tables, %w", err)
	}

	return nil
}
