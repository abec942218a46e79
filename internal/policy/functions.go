package policy

// deniedFunctions read files, reach other databases or expose server state.
var deniedFunctions = []string{
	"read_csv", "read_csv_auto", "read_parquet", "parquet_scan", "read_json", "read_json_auto",
	"read_json_objects", "read_ndjson", "read_ndjson_auto", "read_ndjson_objects", "read_text",
	"read_blob", "csv_scan", "json_scan", "iceberg_scan", "delta_scan", "glob", "getenv",
	"sqlite_scan", "sqlite_attach", "postgres_scan", "postgres_query", "mysql_scan", "query",
	"query_table", "current_setting", "set_config", "load_extension", "lo_import", "lo_export",
	"dblink", "file_fdw",
}

// deniedPrefixes cover system catalog functions in DuckDB and PostgreSQL.
var deniedPrefixes = []string{"duckdb_", "pg_", "parquet_", "sqlite_", "postgres_", "mysql_"}

// niladicFunctions are called without parentheses and look like columns.
var niladicFunctions = map[string]struct{}{
	"current_date": {}, "current_time": {}, "current_timestamp": {},
	"localtime": {}, "localtimestamp": {},
}

func isNiladicFunction(name string) bool {
	_, ok := niladicFunctions[name]
	return ok
}
