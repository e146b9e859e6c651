// Package override loads and applies the filename/metadata pattern
// overrides that let operators redirect specific documents to a named
// parser strategy without touching the router's static configuration.
package override

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// StrategyConfig is the declarative parser-strategy shape shared with
// the router's static/default strategy configuration.
type StrategyConfig struct {
	Name     string
	Model    *string
	MaxPages *int
}

// PatternOverride pairs a compiled object-key pattern with the
// strategy applied when it matches.
type PatternOverride struct {
	Pattern  *regexp.Regexp
	Strategy StrategyConfig
}

// OverrideSet is the immutable snapshot consulted by the router during
// a single ingestion cycle. It is safe to share across goroutines:
// nothing in it is ever mutated after Load returns.
type OverrideSet struct {
	PatternOverrides []PatternOverride
}

// Provider produces a fresh OverrideSet. Load never returns an error
// for malformed individual entries — those are dropped and logged —
// but may fail if every configured source is unreachable.
type Provider interface {
	Load(ctx context.Context) (OverrideSet, error)
}

// SecretStore is the capability interface for fetching a named secret
// from an external secret manager (production: AWS Secrets Manager).
type SecretStore interface {
	GetSecret(ctx context.Context, scope, key string) (string, error)
}

// NullSecretStore is a null-object SecretStore: every lookup reports
// "not configured" without error, so TieredProvider can fall through
// to its next source.
type NullSecretStore struct{}

// GetSecret implements SecretStore by always returning an empty value.
func (NullSecretStore) GetSecret(context.Context, string, string) (string, error) {
	return "", nil
}

// OverrideTableStore is the capability interface over the configured
// Postgres override table (database.OverrideTableStore satisfies it).
type OverrideTableStore interface {
	LoadOverrides(ctx context.Context) (string, error)
}

// NullOverrideTableStore is a null-object OverrideTableStore.
type NullOverrideTableStore struct{}

// LoadOverrides implements OverrideTableStore by always returning no rows.
func (NullOverrideTableStore) LoadOverrides(context.Context) (string, error) {
	return "", nil
}

// rawEntry is the wire shape of a single override, as it appears in a
// secret payload, an override-table row, or the PARSER_STRATEGY_OVERRIDES
// environment variable. "strategy" is an object; an entry whose strategy
// is a plain string does not decode.
type rawEntry struct {
	Pattern  string `json:"pattern"`
	Strategy struct {
		Name     string `json:"name"`
		Model    *string `json:"model"`
		MaxPages *int    `json:"max_pages"`
	} `json:"strategy"`
}

// TieredProvider loads overrides from, in priority order: a secret
// manager scope, a configured Postgres override table, and an
// environment-variable JSON payload. All three are concatenated (not
// first-match-wins) — later, lower-priority sources simply append
// more pattern overrides, since the router itself already applies
// pattern overrides in list order and stops at the first match.
type TieredProvider struct {
	Secrets          SecretStore
	SecretsScope     string
	SecretsKey       string
	Table            OverrideTableStore
	EnvPayload       string
	Logger           *zap.Logger
	regexCache       *lru.Cache
}

// NewTieredProvider builds a TieredProvider with a bounded (256-entry)
// compiled-regex cache keyed by pattern text, so a pattern compiled by
// an earlier Load is reused instead of recompiled.
func NewTieredProvider(secrets SecretStore, secretsScope, secretsKey string, table OverrideTableStore, envPayload string, logger *zap.Logger) *TieredProvider {
	if secrets == nil {
		secrets = NullSecretStore{}
	}
	if table == nil {
		table = NullOverrideTableStore{}
	}
	cache, _ := lru.New(256)
	return &TieredProvider{
		Secrets:      secrets,
		SecretsScope: secretsScope,
		SecretsKey:   secretsKey,
		Table:        table,
		EnvPayload:   envPayload,
		Logger:       logger,
		regexCache:   cache,
	}
}

// Load implements Provider.
func (p *TieredProvider) Load(ctx context.Context) (OverrideSet, error) {
	var overrides []PatternOverride

	if p.SecretsScope != "" && p.SecretsKey != "" {
		if payload, err := p.Secrets.GetSecret(ctx, p.SecretsScope, p.SecretsKey); err != nil {
			p.warn("fetching override secret failed, skipping", err)
		} else if payload != "" {
			overrides = append(overrides, p.parse(payload)...)
		}
	}

	if payload, err := p.Table.LoadOverrides(ctx); err != nil {
		p.warn("loading override table failed, skipping", err)
	} else if payload != "" {
		overrides = append(overrides, p.parse(payload)...)
	}

	if p.EnvPayload != "" {
		overrides = append(overrides, p.parse(p.EnvPayload)...)
	}

	return OverrideSet{PatternOverrides: overrides}, nil
}

// parse decodes payload as either a single override object or a JSON
// array of them, dropping and logging any entry with an invalid
// pattern or missing strategy name rather than failing the whole load.
func (p *TieredProvider) parse(payload string) []PatternOverride {
	var entries []rawEntry
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		var single rawEntry
		if err2 := json.Unmarshal([]byte(payload), &single); err2 != nil {
			p.warn("override payload is not valid JSON, skipping", err)
			return nil
		}
		entries = []rawEntry{single}
	}

	out := make([]PatternOverride, 0, len(entries))
	for _, e := range entries {
		if e.Pattern == "" || e.Strategy.Name == "" {
			p.warn("override entry missing pattern or strategy name, skipping", fmt.Errorf("entry=%+v", e))
			continue
		}
		pattern, err := p.compile(e.Pattern)
		if err != nil {
			p.warn("override pattern failed to compile, skipping", err)
			continue
		}
		out = append(out, PatternOverride{
			Pattern: pattern,
			Strategy: StrategyConfig{
				Name:     e.Strategy.Name,
				Model:    e.Strategy.Model,
				MaxPages: e.Strategy.MaxPages,
			},
		})
	}
	return out
}

func (p *TieredProvider) compile(pattern string) (*regexp.Regexp, error) {
	if p.regexCache != nil {
		if cached, ok := p.regexCache.Get(pattern); ok {
			return cached.(*regexp.Regexp), nil
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile override pattern %q: %w", pattern, err)
	}
	if p.regexCache != nil {
		p.regexCache.Add(pattern, re)
	}
	return re, nil
}

func (p *TieredProvider) warn(msg string, err error) {
	if p.Logger != nil {
		p.Logger.Warn(msg, zap.Error(err))
	}
}
