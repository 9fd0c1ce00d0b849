// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/audit"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
)

// Store is the embedded relational state store (§4.8), backed by a single
// SQLite file in WAL mode so readers never block the one writer.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSystem, "failed to open store db")
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		rule_json TEXT NOT NULL,
		rendered_json TEXT NOT NULL,
		verdict_json TEXT NOT NULL,
		conflict_json TEXT NOT NULL,
		explanation TEXT,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deployments (
		id TEXT PRIMARY KEY,
		proposal_id TEXT NOT NULL REFERENCES proposals(id),
		backend_name TEXT NOT NULL DEFAULT '',
		backup_ref_json TEXT NOT NULL,
		applied_at INTEGER NOT NULL,
		heartbeat_deadline INTEGER,
		state TEXT NOT NULL,
		last_heartbeat_at INTEGER,
		failure_reason TEXT,
		UNIQUE(proposal_id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		source_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		source_ip TEXT,
		target TEXT,
		observed_at INTEGER NOT NULL,
		raw BLOB,
		causal_tag TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_observed ON events(observed_at);
	CREATE INDEX IF NOT EXISTS idx_events_source_ip ON events(source_ip);

	CREATE TABLE IF NOT EXISTS audit (
		sequence INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		proposal_id TEXT,
		deployment_id TEXT,
		event_id TEXT,
		assessment_id TEXT,
		subject TEXT,
		backend TEXT,
		error_kind TEXT,
		message TEXT,
		operator_action INTEGER NOT NULL DEFAULT 0,
		attributes_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_proposal ON audit(proposal_id);
	CREATE INDEX IF NOT EXISTS idx_audit_deployment ON audit(deployment_id);

	CREATE TABLE IF NOT EXISTS daemon_state (
		key TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS never_block (
		id TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		kind TEXT NOT NULL,
		resolved_json TEXT,
		added_at INTEGER NOT NULL,
		description TEXT
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to initialize store schema")
	}
	return nil
}

// appendAudit inserts one audit row within tx, returning its assigned
// sequence. The audit table has no DELETE privilege granted to this
// process, so once a transaction commits, the row is permanent (§4.8).
func appendAudit(tx *sql.Tx, rec audit.Record) (int64, error) {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "failed to marshal audit attributes")
	}
	res, err := tx.Exec(`
		INSERT INTO audit (timestamp, event_type, severity, proposal_id, deployment_id, event_id,
			assessment_id, subject, backend, error_kind, message, operator_action, attributes_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timeToUnix(rec.Timestamp), string(rec.EventType), string(rec.Severity),
		rec.ProposalID, rec.DeploymentID, rec.EventID, rec.AssessmentID, rec.Subject,
		rec.Backend, rec.ErrorKind, rec.Message, boolToInt(rec.OperatorFlag), string(attrs))
	if err != nil {
		return 0, errors.Wrap(err, errors.KindSystem, "failed to append audit record")
	}
	return res.LastInsertId()
}

// AppendAudit inserts a standalone audit record not tied to a row mutation
// (e.g. safety-gate-tripped, correlator-flood-mode).
func (s *Store) AppendAudit(ctx context.Context, rec audit.Record) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindSystem, "failed to begin transaction")
	}
	seq, err := appendAudit(tx, rec)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.KindSystem, "failed to commit audit record")
	}
	return seq, nil
}

// SaveProposal upserts p and appends rec in a single transaction, so the
// row and its audit trail either both commit or neither does (§4.8).
func (s *Store) SaveProposal(ctx context.Context, p Proposal, rec audit.Record) (int64, error) {
	ruleJSON, err := json.Marshal(p.Rule)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "failed to marshal rule")
	}
	renderedJSON, _ := json.Marshal(p.Rendered)
	verdictJSON, _ := json.Marshal(p.Verdict)
	conflictJSON, _ := json.Marshal(p.ConflictReport)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindSystem, "failed to begin transaction")
	}
	_, err = tx.Exec(`
		INSERT INTO proposals (id, rule_json, rendered_json, verdict_json, conflict_json, explanation, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rule_json = excluded.rule_json,
			rendered_json = excluded.rendered_json,
			verdict_json = excluded.verdict_json,
			conflict_json = excluded.conflict_json,
			explanation = excluded.explanation,
			state = excluded.state`,
		p.ID, string(ruleJSON), string(renderedJSON), string(verdictJSON), string(conflictJSON),
		p.Explanation, string(p.State), timeToUnix(p.CreatedAt))
	if err != nil {
		tx.Rollback()
		return 0, errors.Wrap(err, errors.KindSystem, "failed to upsert proposal")
	}

	seq, err := appendAudit(tx, rec)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.KindSystem, "failed to commit proposal transaction")
	}
	return seq, nil
}

// GetProposal loads a proposal by id.
func (s *Store) GetProposal(ctx context.Context, id string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, rule_json, rendered_json, verdict_json, conflict_json, explanation, state, created_at
		 FROM proposals WHERE id = ?`, id)
	var p Proposal
	var ruleJSON, renderedJSON, verdictJSON, conflictJSON string
	var state string
	var createdAt int64
	if err := row.Scan(&p.ID, &ruleJSON, &renderedJSON, &verdictJSON, &conflictJSON, &p.Explanation, &state, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return Proposal{}, errors.Errorf(errors.KindNotFound, "proposal %q not found", id)
		}
		return Proposal{}, errors.Wrap(err, errors.KindSystem, "failed to load proposal")
	}
	p.State = ProposalState(state)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(ruleJSON), &p.Rule); err != nil {
		return Proposal{}, errors.Wrap(err, errors.KindInternal, "corrupt proposal rule")
	}
	json.Unmarshal([]byte(renderedJSON), &p.Rendered)
	json.Unmarshal([]byte(verdictJSON), &p.Verdict)
	json.Unmarshal([]byte(conflictJSON), &p.ConflictReport)
	return p, nil
}

// SaveDeployment upserts d and appends rec in a single transaction (§4.8).
func (s *Store) SaveDeployment(ctx context.Context, d Deployment, rec audit.Record) (int64, error) {
	backupJSON, err := json.Marshal(d.BackupRef)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "failed to marshal backup ref")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindSystem, "failed to begin transaction")
	}
	_, err = tx.Exec(`
		INSERT INTO deployments (id, proposal_id, backend_name, backup_ref_json, applied_at, heartbeat_deadline,
			state, last_heartbeat_at, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			backup_ref_json = excluded.backup_ref_json,
			heartbeat_deadline = excluded.heartbeat_deadline,
			state = excluded.state,
			last_heartbeat_at = excluded.last_heartbeat_at,
			failure_reason = excluded.failure_reason`,
		d.ID, d.ProposalID, d.BackendName, string(backupJSON), timeToUnix(d.AppliedAt), timeToUnixPtr(d.HeartbeatDeadline),
		string(d.State), timeToUnixPtr(d.LastHeartbeatAt), d.FailureReason)
	if err != nil {
		tx.Rollback()
		return 0, errors.Wrap(err, errors.KindSystem, "failed to upsert deployment")
	}

	seq, err := appendAudit(tx, rec)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.KindSystem, "failed to commit deployment transaction")
	}
	return seq, nil
}

// GetDeployment loads a deployment by id.
func (s *Store) GetDeployment(ctx context.Context, id string) (Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, proposal_id, backend_name, backup_ref_json, applied_at, heartbeat_deadline, state, last_heartbeat_at, failure_reason
		FROM deployments WHERE id = ?`, id)
	var d Deployment
	var backupJSON string
	var appliedAt int64
	var heartbeatDeadline, lastHeartbeat sql.NullInt64
	var state string
	if err := row.Scan(&d.ID, &d.ProposalID, &d.BackendName, &backupJSON, &appliedAt, &heartbeatDeadline, &state, &lastHeartbeat, &d.FailureReason); err != nil {
		if err == sql.ErrNoRows {
			return Deployment{}, errors.Errorf(errors.KindNotFound, "deployment %q not found", id)
		}
		return Deployment{}, errors.Wrap(err, errors.KindSystem, "failed to load deployment")
	}
	d.State = DeploymentState(state)
	d.AppliedAt = time.Unix(appliedAt, 0).UTC()
	if heartbeatDeadline.Valid {
		d.HeartbeatDeadline = time.Unix(heartbeatDeadline.Int64, 0).UTC()
	}
	if lastHeartbeat.Valid {
		d.LastHeartbeatAt = time.Unix(lastHeartbeat.Int64, 0).UTC()
	}
	json.Unmarshal([]byte(backupJSON), &d.BackupRef)
	return d, nil
}

// GetDeploymentByProposal returns the most recent deployment created for
// proposalID, if any (§4.9 facade approve(): lets a caller that only has
// the proposal id observe the deployment an async Apply produces).
func (s *Store) GetDeploymentByProposal(ctx context.Context, proposalID string) (*Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM deployments WHERE proposal_id = ? ORDER BY applied_at DESC LIMIT 1`, proposalID)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.KindSystem, "failed to query deployment by proposal")
	}
	d, err := s.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ActiveDeploymentForBackend returns the applying/probation deployment
// currently serialized against backendName, if any (§3 invariant: exactly
// one deployment is in applying|probation per backend at a time).
func (s *Store) ActiveDeploymentForBackend(ctx context.Context, backendName string) (*Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id FROM deployments d
		JOIN proposals p ON p.id = d.proposal_id
		WHERE d.state IN ('applying', 'probation')
		AND json_extract(p.rendered_json, '$.BackendName') = ?`, backendName)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSystem, "failed to query active deployment")
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	var id string
	if err := rows.Scan(&id); err != nil {
		return nil, errors.Wrap(err, errors.KindSystem, "failed to scan deployment id")
	}
	d, err := s.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RecordEvent persists an immutable SecurityEvent. Events are never updated
// or deleted once observed (§3).
func (s *Store) RecordEvent(ctx context.Context, e SecurityEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, source_name, kind, severity, source_ip, target, observed_at, raw, causal_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SourceName, e.Kind, string(e.Severity), e.SourceIP, e.Target, timeToUnix(e.ObservedAt), e.Raw, e.CausalTag)
	if err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to record event")
	}
	return nil
}

// EventsSince returns events observed at or after since, oldest first, for
// the Correlator's window reconstruction on restart.
func (s *Store) EventsSince(ctx context.Context, since time.Time, limit int) ([]SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_name, kind, severity, source_ip, target, observed_at, raw, causal_tag
		FROM events WHERE observed_at >= ? ORDER BY observed_at ASC LIMIT ?`,
		timeToUnix(since), limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSystem, "failed to query events")
	}
	defer rows.Close()

	var out []SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		var severity string
		var observedAt int64
		if err := rows.Scan(&e.ID, &e.SourceName, &e.Kind, &severity, &e.SourceIP, &e.Target, &observedAt, &e.Raw, &e.CausalTag); err != nil {
			return nil, errors.Wrap(err, errors.KindSystem, "failed to scan event")
		}
		e.Severity = EventSeverity(severity)
		e.ObservedAt = time.Unix(observedAt, 0).UTC()
		out = append(out, e)
	}
	return out, nil
}

// AuditSince returns audit rows with sequence strictly greater than
// afterSeq, oldest first — used by metrics.TailAudit to follow the log.
func (s *Store) AuditSince(ctx context.Context, afterSeq int64, limit int) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, timestamp, event_type, severity, proposal_id, deployment_id, event_id,
			assessment_id, subject, backend, error_kind, message, operator_action, attributes_json
		FROM audit WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSystem, "failed to query audit log")
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var r audit.Record
		var eventType, severity string
		var ts int64
		var operatorFlag int
		var attrsJSON string
		if err := rows.Scan(&r.Sequence, &ts, &eventType, &severity, &r.ProposalID, &r.DeploymentID,
			&r.EventID, &r.AssessmentID, &r.Subject, &r.Backend, &r.ErrorKind, &r.Message, &operatorFlag, &attrsJSON); err != nil {
			return nil, errors.Wrap(err, errors.KindSystem, "failed to scan audit row")
		}
		r.Timestamp = time.Unix(ts, 0).UTC()
		r.EventType = audit.EventType(eventType)
		r.Severity = audit.Severity(severity)
		r.OperatorFlag = operatorFlag != 0
		json.Unmarshal([]byte(attrsJSON), &r.Attributes)
		out = append(out, r)
	}
	return out, nil
}

// LatestAuditSequence returns the highest assigned audit sequence number,
// or 0 if the audit log is empty (§4.9 daemon_status()).
func (s *Store) LatestAuditSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM audit`).Scan(&seq); err != nil {
		return 0, errors.Wrap(err, errors.KindSystem, "failed to query latest audit sequence")
	}
	return seq.Int64, nil
}

// SetDaemonState persists an opaque resume-state value under key (e.g. the
// Correlator's sliding-window checkpoint, the last-processed log cursor).
func (s *Store) SetDaemonState(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to marshal daemon state")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daemon_state (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
		key, string(data), timeToUnix(time.Now()))
	if err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to persist daemon state")
	}
	return nil
}

// GetDaemonState loads the value stored under key into dest, returning
// false if no value has been set.
func (s *Store) GetDaemonState(ctx context.Context, key string, dest any) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value_json FROM daemon_state WHERE key = ?`, key)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, errors.Wrap(err, errors.KindSystem, "failed to load daemon state")
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, errors.Wrap(err, errors.KindInternal, "corrupt daemon state")
	}
	return true, nil
}

// AddNeverBlock persists a NeverBlockEntry.
func (s *Store) AddNeverBlock(ctx context.Context, e NeverBlockEntry) error {
	resolved, _ := json.Marshal(e.Resolved)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO never_block (id, value, kind, resolved_json, added_at, description)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Value, e.Kind, string(resolved), timeToUnix(e.AddedAt), e.Description)
	if err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to add never_block entry")
	}
	return nil
}

// RemoveNeverBlock deletes a NeverBlockEntry by id. Apart from this and
// Prune (events and terminal proposals/deployments), the store deletes no
// rows; audit rows are never deleted (§4.8).
func (s *Store) RemoveNeverBlock(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM never_block WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to remove never_block entry")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.Errorf(errors.KindNotFound, "never_block entry %q not found", id)
	}
	return nil
}

// SetNeverBlockResolved updates the resolved address set for a never_block
// entry (the periodic hostname/interface refresh, §4.4 never-block
// matching).
func (s *Store) SetNeverBlockResolved(ctx context.Context, id string, resolved []string) error {
	data, err := json.Marshal(resolved)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to marshal resolved addresses")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE never_block SET resolved_json = ? WHERE id = ?`, string(data), id); err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to update never_block resolved addresses")
	}
	return nil
}

// ListNeverBlock returns every NeverBlockEntry.
func (s *Store) ListNeverBlock(ctx context.Context) ([]NeverBlockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, value, kind, resolved_json, added_at, description FROM never_block`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSystem, "failed to list never_block entries")
	}
	defer rows.Close()

	var out []NeverBlockEntry
	for rows.Next() {
		var e NeverBlockEntry
		var resolvedJSON string
		var addedAt int64
		if err := rows.Scan(&e.ID, &e.Value, &e.Kind, &resolvedJSON, &addedAt, &e.Description); err != nil {
			return nil, errors.Wrap(err, errors.KindSystem, "failed to scan never_block entry")
		}
		e.AddedAt = time.Unix(addedAt, 0).UTC()
		json.Unmarshal([]byte(resolvedJSON), &e.Resolved)
		out = append(out, e)
	}
	return out, nil
}

// Prune deletes security events and terminal-state proposals/deployments
// recorded before cutoff (§6 "store.retain_days"). It never touches the
// audit table: audit rows are permanent regardless of retention (§4.8), and
// never_block entries are operator state, not history.
//
// A deployment is only eligible once it is committed, rolled-back or
// failed, so an applying or probation row is never pruned out from under
// the Deployment Controller. A proposal is eligible when rejected or
// superseded, or when approved with no deployment row referencing it;
// pending-approval proposals are kept.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE observed_at < ?`, timeToUnix(cutoff))
	if err != nil {
		return total, errors.Wrap(err, errors.KindSystem, "failed to prune events")
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM deployments
		WHERE applied_at < ? AND state IN (?, ?, ?)`,
		timeToUnix(cutoff), string(DeploymentCommitted), string(DeploymentRolledBack), string(DeploymentFailed))
	if err != nil {
		return total, errors.Wrap(err, errors.KindSystem, "failed to prune deployments")
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM proposals
		WHERE created_at < ? AND state IN (?, ?, ?)
		AND id NOT IN (SELECT proposal_id FROM deployments)`,
		timeToUnix(cutoff), string(ProposalRejected), string(ProposalSuperseded), string(ProposalApproved))
	if err != nil {
		return total, errors.Wrap(err, errors.KindSystem, "failed to prune proposals")
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

func timeToUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeToUnixPtr(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
