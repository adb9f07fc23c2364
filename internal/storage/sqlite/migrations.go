package sqlite

import "database/sql"

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Amounts are stored as decimal TEXT; instants as Unix seconds; balance months
// as "YYYY-MM" so they sort lexically.
const schema = `
CREATE TABLE IF NOT EXISTS landlords (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS landlord_shortcodes (
    short_code TEXT PRIMARY KEY,
    landlord_id TEXT NOT NULL,
    FOREIGN KEY (landlord_id) REFERENCES landlords(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS units (
    id TEXT PRIMARY KEY,
    landlord_id TEXT NOT NULL,
    reference TEXT NOT NULL,
    monthly_rent TEXT NOT NULL,
    occupancy TEXT NOT NULL DEFAULT 'vacant',
    created_at INTEGER NOT NULL,
    FOREIGN KEY (landlord_id) REFERENCES landlords(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    landlord_id TEXT NOT NULL,
    name TEXT NOT NULL,
    phone TEXT NOT NULL DEFAULT '',
    secondary_phone TEXT NOT NULL DEFAULT '',
    unit_id TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (landlord_id) REFERENCES landlords(id) ON DELETE CASCADE,
    FOREIGN KEY (unit_id) REFERENCES units(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    landlord_id TEXT NOT NULL,
    external_ref TEXT NOT NULL,
    amount TEXT NOT NULL,
    occurred_at INTEGER NOT NULL,
    payer_name TEXT NOT NULL DEFAULT '',
    payer_phone TEXT NOT NULL DEFAULT '',
    unit_reference TEXT NOT NULL DEFAULT '',
    channel TEXT NOT NULL,
    status TEXT NOT NULL,
    confidence INTEGER,
    matched_unit_id TEXT,
    matched_tenant_id TEXT,
    match_reason TEXT NOT NULL DEFAULT '',
    parse_error TEXT NOT NULL DEFAULT '',
    raw_payload TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (landlord_id, external_ref),
    FOREIGN KEY (landlord_id) REFERENCES landlords(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS payments (
    id TEXT PRIMARY KEY,
    landlord_id TEXT NOT NULL,
    unit_id TEXT,
    tenant_id TEXT,
    transaction_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    external_ref TEXT NOT NULL,
    occurred_at INTEGER NOT NULL,
    payer_name TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    UNIQUE (landlord_id, external_ref),
    FOREIGN KEY (landlord_id) REFERENCES landlords(id) ON DELETE CASCADE,
    FOREIGN KEY (unit_id) REFERENCES units(id) ON DELETE SET NULL,
    FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE SET NULL,
    FOREIGN KEY (transaction_id) REFERENCES transactions(id)
);

CREATE TABLE IF NOT EXISTS balances (
    unit_id TEXT NOT NULL,
    month TEXT NOT NULL,
    expected_rent TEXT NOT NULL,
    carry_forward TEXT NOT NULL,
    paid_amount TEXT NOT NULL,
    balance TEXT NOT NULL,
    status TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (unit_id, month),
    FOREIGN KEY (unit_id) REFERENCES units(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS push_requests (
    checkout_request_id TEXT PRIMARY KEY,
    merchant_request_id TEXT NOT NULL DEFAULT '',
    landlord_id TEXT NOT NULL,
    account_reference TEXT NOT NULL,
    phone TEXT NOT NULL,
    amount TEXT NOT NULL,
    status TEXT NOT NULL,
    result_desc TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (landlord_id) REFERENCES landlords(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS unattributed_payloads (
    id TEXT PRIMARY KEY,
    channel TEXT NOT NULL,
    external_ref TEXT NOT NULL,
    amount TEXT NOT NULL,
    reference TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL,
    raw_payload TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    UNIQUE (channel, external_ref)
);

CREATE INDEX IF NOT EXISTS idx_units_landlord_id ON units(landlord_id);
CREATE INDEX IF NOT EXISTS idx_tenants_landlord_id ON tenants(landlord_id);
CREATE INDEX IF NOT EXISTS idx_transactions_landlord_status ON transactions(landlord_id, status);
CREATE INDEX IF NOT EXISTS idx_payments_unit_occurred ON payments(unit_id, occurred_at);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
