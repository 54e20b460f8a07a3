package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "solana-twin-mirror/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the journal database named in dsn if needed,
// applies the journal schema and returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	if err := createDatabase(ctx, dsn, dbName); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect journal database %s: %w", dbName, err)
	}
	for _, m := range files {
		stmts, err := splitStatements(m.sql)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migration %s: %w", m.name, err)
		}
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.name, err)
			}
		}
	}
	return conn, nil
}

func createDatabase(ctx context.Context, dsn, dbName string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect journal server: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		return fmt.Errorf("create journal database %s: %w", dbName, err)
	}
	return nil
}

// splitStatements cuts a migration into single statements, since the driver
// executes one statement per Exec. Only -- comments are understood, and a
// semicolon inside a quoted literal is rejected.
func splitStatements(sql string) ([]string, error) {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	for _, line := range strings.Split(sql, "\n") {
		if !quoted && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for i := 0; i < len(line); i++ {
			ch := line[i]
			switch {
			case ch == '\'' && quoted && i+1 < len(line) && line[i+1] == '\'':
				current.WriteString("''")
				i++
				continue
			case ch == '\'':
				quoted = !quoted
			case ch == ';' && quoted:
				return nil, fmt.Errorf("semicolon inside string literal")
			case ch == ';':
				if stmt := strings.TrimSpace(current.String()); stmt != "" {
					stmts = append(stmts, stmt)
				}
				current.Reset()
				continue
			}
			current.WriteByte(ch)
		}
		current.WriteByte('\n')
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse journal dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("journal dsn names no database")
	}
	return db, nil
}
