package sqlite

import "database/sql"

// schema contains the SQL statements to set up the ledger.
// These run on startup to ensure tables exist.
// Amounts are stored as TEXT so decimal values round-trip exactly.
// Pledges and payouts carry no foreign keys; the loader validates references.
const schema = `
CREATE TABLE IF NOT EXISTS participants (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    is_closed INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS teams (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    owner_id TEXT,
    is_approved INTEGER NOT NULL DEFAULT 0,
    is_closed INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (owner_id) REFERENCES participants(id)
);

CREATE TABLE IF NOT EXISTS team_members (
    team_id TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    PRIMARY KEY (team_id, participant_id),
    FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE,
    FOREIGN KEY (participant_id) REFERENCES participants(id)
);

CREATE TABLE IF NOT EXISTS pledges (
    participant_id TEXT NOT NULL,
    team_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    PRIMARY KEY (participant_id, team_id)
);

CREATE TABLE IF NOT EXISTS payout_instructions (
    team_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    PRIMARY KEY (team_id, member_id)
);

CREATE TABLE IF NOT EXISTS payday_runs (
    id TEXT PRIMARY KEY,
    snapshot_at INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL,
    status TEXT NOT NULL,
    failure TEXT NOT NULL DEFAULT '',
    total_captured TEXT NOT NULL DEFAULT '0',
    total_paid_out TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS transfer_instructions (
    run_id TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    amount TEXT NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, participant_id),
    FOREIGN KEY (run_id) REFERENCES payday_runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS run_lock (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    run_id TEXT NOT NULL,
    acquired_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_team_members_team_id ON team_members(team_id);
CREATE INDEX IF NOT EXISTS idx_transfer_instructions_run_id ON transfer_instructions(run_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
