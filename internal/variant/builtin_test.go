package variant_test

import (
	"testing"

	"github.com/any-hub/peg-hub/internal/variant"
	_ "github.com/any-hub/peg-hub/internal/variant/reset"
	_ "github.com/any-hub/peg-hub/internal/variant/shell"
	_ "github.com/any-hub/peg-hub/internal/variant/swr"
)

func TestBuiltinVariantsRegistered(t *testing.T) {
	for _, key := range []string{variant.DefaultVariantKey(), variant.ResetVariantKey(), "swr"} {
		if _, ok := variant.Resolve(key); !ok {
			t.Fatalf("expected builtin variant %s", key)
		}
	}

	meta, _ := variant.Resolve("shell")
	profile := variant.ResolveProfile(meta, variant.Options{})
	if profile.StrategyFor(variant.ClassCoreAsset) != variant.StrategyCacheFirst {
		t.Fatalf("shell should serve core assets cache-first")
	}

	meta, _ = variant.Resolve("reset")
	if !variant.ResolveProfile(meta, variant.Options{}).Reset() {
		t.Fatalf("reset variant must be in reset mode")
	}
}
