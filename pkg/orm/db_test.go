package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type row struct {
	ID int64 `gorm:"primaryKey"`
}

func TestDriverName(t *testing.T) {
	n, err := driverName(TypePostgres)
	require.NoError(t, err)
	assert.Equal(t, "pgx", n)

	n, err = driverName("")
	require.NoError(t, err)
	assert.Equal(t, "mysql", n)

	_, err = driverName("oracle")
	assert.Error(t, err)
}

func TestApplyPagination(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), GormConfig(false))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&row{}))
	for i := 1; i <= 5; i++ {
		require.NoError(t, db.Create(&row{ID: int64(i)}).Error)
	}

	var got []row
	require.NoError(t, ApplyPagination(db.Model(&row{}).Order("id"), 2, 2).Find(&got).Error)
	assert.Equal(t, []row{{ID: 3}, {ID: 4}}, got)

	got = nil
	require.NoError(t, ApplyPagination(db.Model(&row{}), 0, 2).Find(&got).Error)
	assert.Len(t, got, 5)
}
