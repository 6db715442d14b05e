package registry

import (
	"io/ioutil"
	"net/url"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestResolveKnownKeys(t *testing.T) {
	r := Default()

	for _, key := range r.Keys() {
		d, err := r.Resolve(key)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", key, err)
		}
		u, err := url.Parse(d.EntryPoint)
		if err != nil || !u.IsAbs() || u.Host == "" {
			t.Errorf("Resolve(%q) entry point %q is not a well-formed absolute URL", key, d.EntryPoint)
		}

		// lookups are pure, repeated calls return the same descriptor
		d2, err := r.Resolve(key)
		if err != nil {
			t.Fatalf("second Resolve(%q): %v", key, err)
		}
		if !reflect.DeepEqual(d, d2) {
			t.Errorf("Resolve(%q) not idempotent: %+v != %+v", key, d, d2)
		}
	}
}

func TestResolveUnknownKey(t *testing.T) {
	r := Default()

	_, err := r.Resolve("doesnotexist")
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if errors.Cause(err) != ErrUnknownProvider {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}

	// lookup failure must never fall back to the default
	_, err = r.ResolveOrFallback("doesnotexist")
	if errors.Cause(err) != ErrUnknownProvider {
		t.Errorf("ResolveOrFallback with bad key: expected ErrUnknownProvider, got %v", err)
	}
}

func TestResolveByEntityID(t *testing.T) {
	r := Default()

	d, err := r.ResolveByEntityID("https://validator.spid.gov.it")
	if err != nil {
		t.Fatalf("ResolveByEntityID: %v", err)
	}
	if d.Key != "validator" {
		t.Errorf("resolved key = %q, want validator", d.Key)
	}

	for _, entityID := range []string{"https://unknown.example", ""} {
		if _, err := r.ResolveByEntityID(entityID); errors.Cause(err) != ErrUnknownProvider {
			t.Errorf("ResolveByEntityID(%q): expected ErrUnknownProvider, got %v", entityID, err)
		}
	}
}

func TestFallbackOnlyForEmptyKey(t *testing.T) {
	r := Default()

	d, err := r.ResolveOrFallback("")
	if err != nil {
		t.Fatalf("ResolveOrFallback(\"\"): %v", err)
	}
	if d.Key != "demo" {
		t.Errorf("expected fallback to demo, got %q", d.Key)
	}

	noFallback, err := New([]Descriptor{{
		Key:        "only",
		EntityID:   "https://idp.example",
		EntryPoint: "https://idp.example/sso",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := noFallback.ResolveOrFallback(""); err == nil {
		t.Error("expected error resolving empty key with no fallback configured")
	}
}

func TestNewRejectsBadDescriptors(t *testing.T) {
	for _, tc := range []struct {
		name        string
		descriptors []Descriptor
		opts        []Option
	}{
		{
			name: "duplicate key",
			descriptors: []Descriptor{
				{Key: "a", EntityID: "https://a", EntryPoint: "https://a/sso"},
				{Key: "a", EntityID: "https://b", EntryPoint: "https://b/sso"},
			},
		},
		{
			name:        "relative entry point",
			descriptors: []Descriptor{{Key: "a", EntityID: "https://a", EntryPoint: "/sso"}},
		},
		{
			name:        "empty key",
			descriptors: []Descriptor{{EntityID: "https://a", EntryPoint: "https://a/sso"}},
		},
		{
			name:        "fallback not present",
			descriptors: []Descriptor{{Key: "a", EntityID: "https://a", EntryPoint: "https://a/sso"}},
			opts:        []Option{WithFallback("b")},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.descriptors, tc.opts...); err == nil {
				t.Error("expected construction error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	content := `- key: testidp
  entityId: https://idp.test.example
  entryPoint: https://idp.test.example/sso
  displayName: Test IdP
`
	if err := ioutil.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	r, err := LoadFile(path, WithFallback("demo"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	d, err := r.Resolve("testidp")
	if err != nil {
		t.Fatalf("Resolve(testidp): %v", err)
	}
	if d.EntryPoint != "https://idp.test.example/sso" {
		t.Errorf("unexpected entry point %q", d.EntryPoint)
	}
	// built-ins still present
	if _, err := r.Resolve("posteid"); err != nil {
		t.Errorf("Resolve(posteid): %v", err)
	}

	// file entries may not shadow built-ins
	if err := ioutil.WriteFile(path, []byte("- key: posteid\n  entityId: https://x\n  entryPoint: https://x/sso\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for duplicate built-in key")
	}
}
