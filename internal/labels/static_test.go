package labels

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookupIsCaseInsensitive(t *testing.T) {
	provider := NewStaticProvider([]Label{
		{Address: "0xABCDEF", Name: "Mixer X", Category: CategoryMixer, Source: "ofac"},
		{Address: "0xabcdef", Name: "Also Mixer X", Category: CategoryMixer, Source: "internal"},
		{Address: "0xother", Name: "CEX", Category: CategoryExchange, Source: "etherscan"},
	})

	hits := provider.Lookup("  0xAbCdEf ")
	if len(hits) != 2 {
		t.Fatalf("expected both entries for the same address, got %d", len(hits))
	}
	if hits := provider.Lookup("0xunknown"); hits != nil {
		t.Fatalf("expected no hits, got %v", hits)
	}
}

func TestNegativeCategories(t *testing.T) {
	negatives := []Category{CategoryScam, CategoryPhishing, CategoryMixer}
	for _, category := range negatives {
		if !(Label{Category: category}).Negative() {
			t.Errorf("%s should be negative", category)
		}
	}
	for _, category := range []Category{CategoryExchange, CategoryVerified} {
		if (Label{Category: category}).Negative() {
			t.Errorf("%s should not be negative", category)
		}
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	content := `[{"address":"0xAAA","name":"Scam Pool","category":"scam","source":"chainalysis"}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write labels: %v", err)
	}

	provider, err := LoadStaticProvider(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	hits := provider.Lookup("0xaaa")
	if len(hits) != 1 || hits[0].Category != CategoryScam {
		t.Fatalf("unexpected hits: %+v", hits)
	}

	if _, err := LoadStaticProvider(""); err == nil {
		t.Fatal("empty path should fail")
	}
	if _, err := LoadStaticProvider(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("missing file should fail")
	}
}
