package remote

import "strings"

// Driver names accepted in Config.Driver.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
)

// remoteColumns are written on every upsert. received_at_utc is left to the
// server default and never overwritten.
var remoteColumns = []string{
	"id", "description", "retailer", "customer", "supplier", "code", "pack_code",
	"size_kg", "price_gbp", "bird_temp_c", "van_temp_c", "use_by_date",
	"sample_number", "created_at_local", "device_id", "driver_id",
}

// dialect holds the SQL that differs between remote engines.
type dialect struct {
	name   string
	schema []string
	upsert string
}

var mysqlDialect = dialect{
	name: DriverMySQL,
	schema: []string{`
	CREATE TABLE IF NOT EXISTS samples (
		id CHAR(36) NOT NULL PRIMARY KEY,
		description TEXT NOT NULL,
		retailer VARCHAR(255) NOT NULL,
		customer VARCHAR(255),
		supplier VARCHAR(255),
		code VARCHAR(64),
		pack_code VARCHAR(64),
		size_kg DECIMAL(7,3) CHECK (size_kg >= 0),
		price_gbp DECIMAL(10,2) CHECK (price_gbp >= 0),
		bird_temp_c DECIMAL(4,1) CHECK (bird_temp_c BETWEEN -5.0 AND 20.0),
		van_temp_c DECIMAL(4,1) CHECK (van_temp_c BETWEEN -5.0 AND 20.0),
		use_by_date DATE,
		sample_number INT NOT NULL,
		created_at_local DATETIME(6) NOT NULL,
		device_id VARCHAR(64),
		driver_id VARCHAR(64),
		received_at_utc DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_samples_created (created_at_local),
		INDEX idx_samples_device (device_id),
		INDEX idx_samples_driver (driver_id),
		INDEX idx_samples_sample_number (sample_number)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`},
	upsert: buildUpsert(func(col string) string { return col + " = VALUES(" + col + ")" },
		" ON DUPLICATE KEY UPDATE "),
}

// sqliteDialect serves both the sqlite and libsql drivers. Decimals are
// kept as TEXT so values round-trip exactly.
var sqliteDialect = dialect{
	name: DriverSQLite,
	schema: []string{`
	CREATE TABLE IF NOT EXISTS samples (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL CHECK (length(trim(description)) > 0),
		retailer TEXT NOT NULL CHECK (length(trim(retailer)) > 0),
		customer TEXT,
		supplier TEXT,
		code TEXT,
		pack_code TEXT,
		size_kg TEXT CHECK (size_kg IS NULL OR CAST(size_kg AS REAL) >= 0),
		price_gbp TEXT CHECK (price_gbp IS NULL OR CAST(price_gbp AS REAL) >= 0),
		bird_temp_c TEXT CHECK (bird_temp_c IS NULL OR CAST(bird_temp_c AS REAL) BETWEEN -5.0 AND 20.0),
		van_temp_c TEXT CHECK (van_temp_c IS NULL OR CAST(van_temp_c AS REAL) BETWEEN -5.0 AND 20.0),
		use_by_date TEXT,
		sample_number INTEGER NOT NULL,
		created_at_local TEXT NOT NULL,
		device_id TEXT,
		driver_id TEXT,
		received_at_utc TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_created ON samples(created_at_local)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_device ON samples(device_id)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_driver ON samples(driver_id)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_sample_number ON samples(sample_number)`,
	},
	upsert: buildUpsert(func(col string) string { return col + " = excluded." + col },
		" ON CONFLICT(id) DO UPDATE SET "),
}

func buildUpsert(assign func(col string) string, clause string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(remoteColumns)), ", ")

	var sets []string
	for _, col := range remoteColumns[1:] {
		sets = append(sets, assign(col))
	}

	return "INSERT INTO samples (" + strings.Join(remoteColumns, ", ") + ") VALUES (" +
		placeholders + ")" + clause + strings.Join(sets, ", ")
}
