// seed-rules loads a normalization rule set from a YAML file into the
// rules table. Existing rules are left untouched; a rule whose type,
// pattern, and replacement already exist is skipped, so re-running with
// the same file duplicates nothing.
//
// Usage: go run ./scripts/seed-rules <rules.yaml>
//
// Database connection: Uses standard PG* environment variables
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"

	"github.com/aedregistry/matching-engine/pkg/database"
	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/repositories"
)

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	RuleType    string `yaml:"rule_type"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Priority    int    `yaml:"priority"`
	Active      *bool  `yaml:"active"`
}

var validRuleTypes = map[string]bool{
	models.RuleTypeExact:           true,
	models.RuleTypeRegionPrefix:    true,
	models.RuleTypeCorporateSuffix: true,
	models.RuleTypeWhitespace:      true,
	models.RuleTypeParenthetical:   true,
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: go run ./scripts/seed-rules <rules.yaml>")
		os.Exit(1)
	}

	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		fatal("read rules file: %v", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		fatal("parse rules file: %v", err)
	}
	if len(file.Rules) == 0 {
		fatal("no rules found in %s", os.Args[1])
	}

	for i, r := range file.Rules {
		if !validRuleTypes[r.RuleType] {
			fatal("rule %d: unknown rule_type %q", i+1, r.RuleType)
		}
		if r.Pattern == "" && r.RuleType != models.RuleTypeWhitespace && r.RuleType != models.RuleTypeParenthetical {
			fatal("rule %d: pattern is required for rule_type %q", i+1, r.RuleType)
		}
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connString())
	if err != nil {
		fatal("connect: %v", err)
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// All inserts go through the repository, scoped to this transaction.
	txCtx := database.WithQuerier(ctx, tx)
	repo := repositories.NewRuleRepository()

	existing, err := repo.List(txCtx)
	if err != nil {
		fatal("list existing rules: %v", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[ruleKey(r.RuleType, r.Pattern, r.Replacement)] = true
	}

	inserted := 0
	for _, r := range file.Rules {
		if seen[ruleKey(r.RuleType, r.Pattern, r.Replacement)] {
			continue
		}
		active := true
		if r.Active != nil {
			active = *r.Active
		}
		rule := &models.NormalizationRule{
			RuleType:    r.RuleType,
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Priority:    r.Priority,
			Active:      active,
		}
		if err := repo.Create(txCtx, rule); err != nil {
			fatal("insert rule (%s %q): %v", r.RuleType, r.Pattern, err)
		}
		seen[ruleKey(r.RuleType, r.Pattern, r.Replacement)] = true
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		fatal("commit: %v", err)
	}

	fmt.Printf("Inserted %d of %d rules\n", inserted, len(file.Rules))
}

func ruleKey(ruleType, pattern, replacement string) string {
	return fmt.Sprintf("%s\x00%s\x00%s", ruleType, pattern, replacement)
}

func connString() string {
	host := envOr("PGHOST", "localhost")
	port := envOr("PGPORT", "5432")
	user := envOr("PGUSER", "aedregistry")
	dbname := envOr("PGDATABASE", "matching_engine")
	password := os.Getenv("PGPASSWORD")
	sslmode := envOr("PGSSLMODE", "disable")
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
