package db

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/smallbiznis/entitlements/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm dialector for DATABASE_TYPE. DATABASE_URL, when
// set, is handed to the driver untouched.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch dialectName(cfg) {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// DSN renders the connection string for the configured database. Every
// dialect is pinned to UTC so period boundaries compare equal across drivers.
func DSN(cfg config.Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DBURL); dsn != "" {
		return dsn, nil
	}
	switch dialectName(cfg) {
	case "postgres":
		q := url.Values{}
		q.Set("sslmode", cfg.DBSSLMode)
		q.Set("TimeZone", "UTC")
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
			Host:     net.JoinHostPort(cfg.DBHost, cfg.DBPort),
			Path:     "/" + cfg.DBName,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	case "mysql":
		mc := mysqldriver.NewConfig()
		mc.User = cfg.DBUser
		mc.Passwd = cfg.DBPassword
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
		mc.DBName = cfg.DBName
		mc.ParseTime = true
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return mc.FormatDSN(), nil
	case "sqlite":
		if cfg.DBPath == "" {
			return "", fmt.Errorf("db: DATABASE_PATH is required for sqlite")
		}
		return cfg.DBPath, nil
	default:
		return "", fmt.Errorf("db: unsupported database type %q", cfg.DBType)
	}
}

func dialectName(cfg config.Config) string {
	return strings.ToLower(strings.TrimSpace(cfg.DBType))
}
