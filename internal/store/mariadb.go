package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"policy-bench/internal/model"
)

const (
	kindPrefix = "prefix"
	kindExact  = "exact"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bench_rule_set (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		rule_type VARCHAR(16) NOT NULL,
		seed BIGINT NOT NULL,
		total_rules INT UNSIGNED NOT NULL,
		output_format VARCHAR(16) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS bench_rule (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		set_id BIGINT UNSIGNED NOT NULL,
		rule_id INT UNSIGNED NOT NULL,
		kind VARCHAR(8) NOT NULL,
		cidr VARCHAR(64) NULL,
		ip VARCHAR(64) NULL,
		port INT UNSIGNED NOT NULL,
		protocol VARCHAR(8) NOT NULL,
		action VARCHAR(8) NOT NULL,
		priority INT UNSIGNED NULL,
		INDEX idx_bench_rule_set (set_id, rule_id)
	)`,
}

// MariaDBStore persists generated rule sets for the measurement pipeline.
type MariaDBStore struct {
	db *sql.DB
}

func NewMariaDBStore(dsn string) (*MariaDBStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &MariaDBStore{db: db}, nil
}

func (s *MariaDBStore) Close() {
	s.db.Close()
}

func (s *MariaDBStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveRuleSet writes the set and all of its rules in one transaction and
// returns the new set ID.
func (s *MariaDBStore) SaveRuleSet(ctx context.Context, set *model.RuleSet, format string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO bench_rule_set (rule_type, seed, total_rules, output_format) VALUES (?, ?, ?, ?)",
		string(set.Metadata.Type), set.Metadata.Seed, set.Metadata.TotalRules, format)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rule set: %w", err)
	}
	setID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO bench_rule (set_id, rule_id, kind, cidr, ip, port, protocol, action, priority) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range set.Prefix {
		if _, err := stmt.ExecContext(ctx, setID, r.ID, kindPrefix, r.CIDR, nil, r.Port, string(r.Protocol), string(r.Action), r.Priority); err != nil {
			return 0, fmt.Errorf("failed to insert rule %d: %w", r.ID, err)
		}
	}
	for _, r := range set.Exact {
		if _, err := stmt.ExecContext(ctx, setID, r.ID, kindExact, nil, r.IP, r.Port, string(r.Protocol), string(r.Action), nil); err != nil {
			return 0, fmt.Errorf("failed to insert rule %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return setID, nil
}

// LoadRuleSet reads a stored set back in generation order.
func (s *MariaDBStore) LoadRuleSet(ctx context.Context, setID int64) (*model.RuleSet, error) {
	set := &model.RuleSet{}
	var ruleType string
	err := s.db.QueryRowContext(ctx,
		"SELECT rule_type, seed, total_rules FROM bench_rule_set WHERE id = ?", setID).
		Scan(&ruleType, &set.Metadata.Seed, &set.Metadata.TotalRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule set %d: %w", setID, err)
	}
	set.Metadata.Type = model.RuleType(ruleType)

	rows, err := s.db.QueryContext(ctx,
		"SELECT rule_id, kind, cidr, ip, port, protocol, action, priority FROM bench_rule WHERE set_id = ? ORDER BY rule_id ASC", setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, port         int
			kind, proto, act string
			cidr, ip         sql.NullString
			priority         sql.NullInt64
		)
		if err := rows.Scan(&id, &kind, &cidr, &ip, &port, &proto, &act, &priority); err != nil {
			return nil, err
		}
		switch kind {
		case kindPrefix:
			set.Prefix = append(set.Prefix, model.PrefixRule{
				ID:       id,
				CIDR:     cidr.String,
				Port:     port,
				Protocol: model.Protocol(proto),
				Action:   model.Action(act),
				Priority: int(priority.Int64),
			})
		case kindExact:
			set.Exact = append(set.Exact, model.ExactRule{
				ID:       id,
				IP:       ip.String,
				Port:     port,
				Protocol: model.Protocol(proto),
				Action:   model.Action(act),
			})
		default:
			return nil, fmt.Errorf("rule %d: unknown kind %q", id, kind)
		}
	}
	return set, rows.Err()
}
