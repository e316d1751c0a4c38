package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	chstore "swap-detector/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database when missing, applies
// every embedded migration statement by statement and returns a connection
// bound to that database. ClickHouse DDL here is IF NOT EXISTS throughout,
// so files are re-applied on every start.
func RunClickhouseMigrations(ctx context.Context, dsn string, log *zap.Logger) (*chstore.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	pending, err := load(clickhouseDir)
	if err != nil {
		return nil, err
	}
	if err := ensureDatabase(ctx, dsn, db); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", db, err)
	}

	for _, m := range pending {
		if err := applyStatements(ctx, conn, m); err != nil {
			conn.Close()
			return nil, err
		}
		log.Info("migration applied", zap.String("driver", "clickhouse"), zap.String("name", m.Name))
	}
	return conn, nil
}

func ensureDatabase(ctx context.Context, dsn, db string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	execErr := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+db)
	closeErr := admin.Close()
	if execErr != nil {
		return fmt.Errorf("create database %s: %w", db, execErr)
	}
	return closeErr
}

// The native driver rejects multi-statement Exec.
func applyStatements(ctx context.Context, conn *chstore.Conn, m Migration) error {
	if err := validateNoSemicolonInStrings(m.SQL); err != nil {
		return fmt.Errorf("migration %s: %w", m.Name, err)
	}
	for i, stmt := range splitStatements(m.SQL) {
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s statement %d: %w", m.Name, i+1, err)
		}
	}
	return nil
}

// splitStatements drops blank and -- comment lines and splits the rest on
// semicolons. Migrations must keep semicolons out of string literals and
// block comments.
func splitStatements(sql string) []string {
	var body strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var stmts []string
	for _, part := range strings.Split(body.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

var errSemicolonInString = errors.New("semicolon inside string literal")

// validateNoSemicolonInStrings rejects SQL that splitStatements would cut
// inside a quoted literal. Doubled quotes are treated as escapes.
func validateNoSemicolonInStrings(sql string) error {
	quoted := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if quoted && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return fmt.Errorf("%w at offset %d", errSemicolonInString, i)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		return db, nil
	}
	return "", fmt.Errorf("clickhouse dsn %q has no database", u.Redacted())
}
