package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRowCount 写入影响行数与预期不符：说明并发假设被破坏，调用方必须
// 回滚所在事务，不可当作可重试错误处理。
var ErrRowCount = errors.New("unexpected affected row count")

// checkRows 校验受影响行数
func checkRows(res *gorm.DB, want int64) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != want {
		return fmt.Errorf("%w: got %d, want %d", ErrRowCount, res.RowsAffected, want)
	}
	return nil
}

// skipLocked 返回跳过已锁行的行锁子句；sqlite（测试用）不支持则不加锁，
// 单进程测试内不存在行争用。
func skipLocked(db *gorm.DB) []clause.Expression {
	if db.Dialector.Name() == "postgres" {
		return []clause.Expression{clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}}
	}
	return nil
}
