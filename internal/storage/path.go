package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

const WarehousePrefix = "warehouse"

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// TableObjectKey is the key a table's current parquet source lives at.
func TableObjectKey(tableName string) (string, error) {
	if err := validateTableName(tableName); err != nil {
		return "", err
	}
	return path.Join(WarehousePrefix, tableName+".parquet"), nil
}

// SnapshotObjectKey is where a dated copy of a table's source is archived.
func SnapshotObjectKey(tableName string, at time.Time) (string, error) {
	if err := validateTableName(tableName); err != nil {
		return "", err
	}
	ts := at.UTC()
	return path.Join(
		WarehousePrefix,
		"snapshots",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s-%d.parquet", tableName, ts.Unix()),
	), nil
}

func validateTableName(value string) error {
	if !tableNamePattern.MatchString(value) {
		return fmt.Errorf("invalid table name: %q", value)
	}
	return nil
}
