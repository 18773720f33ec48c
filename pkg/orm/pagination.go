package orm

import "gorm.io/gorm"

const MaxLimit = 200

// ApplyPagination 应用分页；page <= 0 或 limit <= 0 不分页，limit 上限 MaxLimit
func ApplyPagination(db *gorm.DB, page, limit int) *gorm.DB {
	if page > 0 && limit > 0 {
		if limit > MaxLimit {
			limit = MaxLimit
		}
		offset := (page - 1) * limit
		return db.Offset(offset).Limit(limit)
	}
	return db
}
