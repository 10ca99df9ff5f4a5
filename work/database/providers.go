package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"vidsniff/work/config"
)

// ProviderTemplates loads every stored provider template in probing order.
// Inactive templates are included so the admin API can list them.
func (db *DB) ProviderTemplates(ctx context.Context) ([]config.ProviderTemplate, error) {
	query := `
		SELECT name, movie_url, tv_url, strategy, interaction,
		       order_priority, tv_order_priority, active
		FROM providers
		ORDER BY order_priority, id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load providers: %w", err)
	}
	defer rows.Close()

	var templates []config.ProviderTemplate
	for rows.Next() {
		var t config.ProviderTemplate
		if err := rows.Scan(&t.Name, &t.MovieURL, &t.TVURL, &t.Strategy, &t.Interaction,
			&t.Order, &t.TVOrder, &t.Active); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		templates = append(templates, t)
	}

	return templates, rows.Err()
}

// SaveProvider inserts or updates a provider template by name
func (db *DB) SaveProvider(ctx context.Context, t *config.ProviderTemplate) error {
	if t.Name == "" {
		return errors.New("provider name is required")
	}
	if t.MovieURL == "" && t.TVURL == "" {
		return fmt.Errorf("provider %s needs a movie or tv url", t.Name)
	}

	tvOrder := t.TVOrder
	if tvOrder == 0 {
		tvOrder = t.Order
	}

	query := `
		INSERT INTO providers (
			name, movie_url, tv_url, strategy, interaction,
			order_priority, tv_order_priority, active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			movie_url = excluded.movie_url,
			tv_url = excluded.tv_url,
			strategy = excluded.strategy,
			interaction = excluded.interaction,
			order_priority = excluded.order_priority,
			tv_order_priority = excluded.tv_order_priority,
			active = excluded.active,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := db.ExecContext(ctx, query,
		t.Name, t.MovieURL, t.TVURL, t.Strategy, t.Interaction,
		t.Order, tvOrder, t.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save provider: %w", err)
	}
	return nil
}

// DeleteProvider marks a provider as inactive. It reports whether a row matched.
func (db *DB) DeleteProvider(ctx context.Context, name string) (bool, error) {
	result, err := db.ExecContext(ctx,
		"UPDATE providers SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete provider: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// SeedProviders stores templates when the providers table is still empty
func (db *DB) SeedProviders(ctx context.Context, templates []config.ProviderTemplate) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM providers").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count providers: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	for i := range templates {
		if err := db.SaveProvider(ctx, &templates[i]); err != nil {
			return i, err
		}
	}
	return len(templates), nil
}

// HeaderRules loads the stored host pattern header overrides
func (db *DB) HeaderRules(ctx context.Context) ([]config.HeaderRule, error) {
	rows, err := db.QueryContext(ctx, "SELECT pattern, headers FROM header_rules ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to load header rules: %w", err)
	}
	defer rows.Close()

	var rules []config.HeaderRule
	for rows.Next() {
		var rule config.HeaderRule
		var headers string
		if err := rows.Scan(&rule.Pattern, &headers); err != nil {
			return nil, fmt.Errorf("failed to scan header rule: %w", err)
		}
		if err := json.Unmarshal([]byte(headers), &rule.Headers); err != nil {
			continue
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// SaveHeaderRule inserts or replaces the headers for a pattern
func (db *DB) SaveHeaderRule(ctx context.Context, rule config.HeaderRule) error {
	headers, err := json.Marshal(rule.Headers)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO header_rules (pattern, headers, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(pattern) DO UPDATE SET headers = excluded.headers, updated_at = CURRENT_TIMESTAMP
	`, rule.Pattern, string(headers))
	if err != nil {
		return fmt.Errorf("failed to save header rule: %w", err)
	}
	return nil
}

// DeleteHeaderRule removes a pattern
func (db *DB) DeleteHeaderRule(ctx context.Context, pattern string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM header_rules WHERE pattern = ?", pattern)
	if err != nil {
		return fmt.Errorf("failed to delete header rule: %w", err)
	}
	return nil
}

// SeedHeaderRules stores rules when the table is still empty
func (db *DB) SeedHeaderRules(ctx context.Context, rules []config.HeaderRule) error {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM header_rules").Scan(&count); err != nil {
		return fmt.Errorf("failed to count header rules: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, rule := range rules {
		if err := db.SaveHeaderRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}
