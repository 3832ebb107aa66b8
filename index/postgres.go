package index

import (
	"context"
	"fmt"

	"github.com/TIANLI0/CardKit/fingerprint"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// hashRow card_hashes表的一行
type hashRow struct {
	ID              string  `gorm:"column:id;primaryKey"`
	Name            *string `gorm:"column:name"`
	SetCode         *string `gorm:"column:set_code"`
	SetName         *string `gorm:"column:set_name"`
	CollectorNumber *string `gorm:"column:collector_number"`
	Rarity          *string `gorm:"column:rarity"`
	Hash            string  `gorm:"column:hash"`
}

// PostgresLoader 从共享的Postgres表读取，建库程序在事务中整表替换
type PostgresLoader struct {
	DSN   string
	Table string
}

func (l *PostgresLoader) Source() string { return "postgres" }

func (l *PostgresLoader) Load(ctx context.Context) ([]Record, string, error) {
	gdb, err := gorm.Open(postgres.Open(l.DSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, "", fmt.Errorf("connect postgres: %w", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}

	var rows []hashRow
	if err := gdb.WithContext(ctx).Table(l.Table).Order("id").Find(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("query %s: %w", l.Table, err)
	}
	return rowsToRecords(rows)
}

func rowsToRecords(rows []hashRow) ([]Record, string, error) {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		fp, err := fingerprint.ParseHex(row.Hash)
		if err != nil {
			return nil, "", fmt.Errorf("card %s: %w", row.ID, err)
		}
		records = append(records, Record{
			ID:              row.ID,
			Name:            deref(row.Name),
			SetCode:         deref(row.SetCode),
			SetName:         deref(row.SetName),
			CollectorNumber: deref(row.CollectorNumber),
			Rarity:          deref(row.Rarity),
			Fingerprint:     fp,
		})
	}
	return records, "", nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
