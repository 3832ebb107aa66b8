package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/TIANLI0/CardKit/fingerprint"
	"github.com/TIANLI0/CardKit/utils"

	_ "modernc.org/sqlite"
)

// SQLiteLoader 从离线建库生成的SQLite文件读取
type SQLiteLoader struct {
	Path        string
	Table       string
	LockTimeout time.Duration
}

func (l *SQLiteLoader) Source() string { return "sqlite" }

func (l *SQLiteLoader) Load(ctx context.Context) ([]Record, string, error) {
	var (
		records  []Record
		checksum string
	)
	err := withReadLock(ctx, l.Path, l.LockTimeout, func() error {
		// sql.Open会为不存在的路径创建空库
		if _, err := os.Stat(l.Path); err != nil {
			return err
		}
		db, err := sql.Open("sqlite", l.Path)
		if err != nil {
			return fmt.Errorf("open sqlite index: %w", err)
		}
		defer db.Close()

		records, err = scanRecords(ctx, db, l.Table)
		if err != nil {
			return err
		}
		checksum, err = utils.FileMD5(l.Path)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return records, checksum, nil
}

func scanRecords(ctx context.Context, db *sql.DB, table string) ([]Record, error) {
	query := fmt.Sprintf(`SELECT id, name, set_code, set_name, collector_number, rarity, hash FROM %s`, table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                                   Record
			name, setCode, setName, number, rar sql.NullString
			hash                                string
		)
		if err := rows.Scan(&r.ID, &name, &setCode, &setName, &number, &rar, &hash); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		r.Name, r.SetCode, r.SetName = name.String, setCode.String, setName.String
		r.CollectorNumber, r.Rarity = number.String, rar.String
		if r.Fingerprint, err = fingerprint.ParseHex(hash); err != nil {
			return nil, fmt.Errorf("card %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
