// Package repo 是 domain.Store 的 gorm 实现，MySQL 和 Postgres 共用
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/xerr"
)

type txKey struct{}

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

var _ domain.Store = (*Repo)(nil)

func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	// 已经在事务里就直接复用，不开嵌套事务
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// forUpdate 事务里读出来要改的行加 FOR UPDATE，CAS 落空后的重读能看到已提交的最新状态；事务外照常读
func (r *Repo) forUpdate(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.db.WithContext(ctx)
}

// DB 给 AutoMigrate 和连接池指标用
func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(domain.AllModels()...); err != nil {
		return xerr.Wrap(err, xerr.DbError, "auto migrate")
	}
	return nil
}

// dbErr 把驱动错误翻译成领域错误；notFound 为 nil 时查无记录也算数据库错误
func dbErr(err error, notFound error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrDuplicate
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return xerr.Wrap(err, xerr.DbError, op)
}
