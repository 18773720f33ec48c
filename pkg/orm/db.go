package orm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

const (
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
)

type Config struct {
	Type                   string `yaml:"type" mapstructure:"type"` // mysql / postgres
	SourceName             string `yaml:"source_name" mapstructure:"source_name"`
	MaxOpenConns           int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql" mapstructure:"log_sql"`
	AutoMigrate            bool   `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

func driverName(typ string) (string, error) {
	switch typ {
	case TypeMySQL, "":
		return "mysql", nil
	case TypePostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported db type %q", typ)
	}
}

// OpenSQL 建连接池并 Ping
func OpenSQL(ctx context.Context, c Config) (*sql.DB, error) {
	name, err := driverName(c.Type)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(name, c.SourceName)
	if err != nil {
		return nil, err
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewGorm 复用已有连接池构造 gorm
func NewGorm(sqlDB *sql.DB, c Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.Type {
	case TypePostgres:
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	default:
		dialector = mysql.New(mysql.Config{Conn: sqlDB})
	}
	return gorm.Open(dialector, GormConfig(c.LogSQL))
}

// GormConfig 写操作都显式开事务，唯一键冲突翻译成 gorm.ErrDuplicatedKey
func GormConfig(logSQL bool) *gorm.Config {
	level := glogger.Warn
	if logSQL {
		level = glogger.Info
	}
	return &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger:                 glogger.Default.LogMode(level),
	}
}
