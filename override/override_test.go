package override

import (
	"context"
	"errors"
	"testing"
)

type fakeSecretStore struct {
	value string
	err   error
}

func (f fakeSecretStore) GetSecret(context.Context, string, string) (string, error) {
	return f.value, f.err
}

type fakeTableStore struct {
	value string
	err   error
}

func (f fakeTableStore) LoadOverrides(context.Context) (string, error) {
	return f.value, f.err
}

func TestTieredProviderConcatenatesAllSources(t *testing.T) {
	p := NewTieredProvider(
		fakeSecretStore{value: `[{"pattern":"^invoices/","strategy":{"name":"azure_di"}}]`},
		"scope", "key",
		fakeTableStore{value: `[{"pattern":"^scans/","strategy":{"name":"vision"}}]`},
		`[{"pattern":"^drafts/","strategy":{"name":"fallback_non_azure"}}]`,
		nil,
	)

	set, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(set.PatternOverrides) != 3 {
		t.Fatalf("len(PatternOverrides) = %d, want 3", len(set.PatternOverrides))
	}
	if set.PatternOverrides[0].Strategy.Name != "azure_di" {
		t.Errorf("first override = %q, want azure_di (secret takes priority)", set.PatternOverrides[0].Strategy.Name)
	}
}

func TestTieredProviderSkipsInvalidRegexWithoutFailing(t *testing.T) {
	p := NewTieredProvider(nil, "", "", nil, `[{"pattern":"(unterminated","strategy":{"name":"x"}}]`, nil)
	set, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v, want nil (invalid entries are dropped, not fatal)", err)
	}
	if len(set.PatternOverrides) != 0 {
		t.Errorf("len(PatternOverrides) = %d, want 0", len(set.PatternOverrides))
	}
}

func TestTieredProviderSkipsEntryMissingStrategyName(t *testing.T) {
	p := NewTieredProvider(nil, "", "", nil, `[{"pattern":"^a/"}]`, nil)
	set, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(set.PatternOverrides) != 0 {
		t.Errorf("len(PatternOverrides) = %d, want 0", len(set.PatternOverrides))
	}
}

func TestTieredProviderToleratesSecretStoreFailure(t *testing.T) {
	p := NewTieredProvider(
		fakeSecretStore{err: errors.New("access denied")},
		"scope", "key",
		nil,
		`[{"pattern":"^a/","strategy":{"name":"x"}}]`,
		nil,
	)
	set, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v, want nil despite secret failure", err)
	}
	if len(set.PatternOverrides) != 1 {
		t.Errorf("len(PatternOverrides) = %d, want 1 (env source still applied)", len(set.PatternOverrides))
	}
}

func TestTieredProviderAcceptsSingleObjectPayload(t *testing.T) {
	p := NewTieredProvider(nil, "", "", nil, `{"pattern":"^a/","strategy":{"name":"x"}}`, nil)
	set, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(set.PatternOverrides) != 1 {
		t.Errorf("len(PatternOverrides) = %d, want 1", len(set.PatternOverrides))
	}
}

func TestTieredProviderCachesCompiledRegex(t *testing.T) {
	p := NewTieredProvider(nil, "", "", nil, `[{"pattern":"^a/","strategy":{"name":"x"}}]`, nil)
	re1, err := p.compile("^a/")
	if err != nil {
		t.Fatalf("compile() error = %v", err)
	}
	re2, err := p.compile("^a/")
	if err != nil {
		t.Fatalf("compile() error = %v", err)
	}
	if re1 != re2 {
		t.Errorf("expected cached *regexp.Regexp pointer to be reused")
	}
}
