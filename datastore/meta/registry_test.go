package meta_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kitaindia/slim3/datastore/meta"
	"github.com/kitaindia/slim3/datastore/record"
	fixtures "github.com/kitaindia/slim3/internal/meta"
	"github.com/kitaindia/slim3/internal/model"
	"github.com/kitaindia/slim3/utils/cleaner"
)

func newRegistry(t *testing.T) *meta.Registry {
	t.Helper()

	registry := meta.NewRegistry(meta.RegistryConfig{Logger: zap.NewNop()})
	fixtures.Register(registry)

	return registry
}

func TestNameOf(t *testing.T) {
	name := meta.NameOf(&model.Employee{})
	expected := "github.com/kitaindia/slim3/internal/model.Employee"

	if name != expected {
		t.Fatalf("expected %q, got %q", expected, name)
	}

	if meta.NameOf(model.Employee{}) != name {
		t.Fatalf("expected value and pointer to share a name")
	}
}

func TestMetaName(t *testing.T) {
	name := meta.MetaName("github.com/kitaindia/slim3/internal/model.Employee")
	expected := "github.com/kitaindia/slim3/internal/meta.EmployeeMeta"

	if name != expected {
		t.Fatalf("expected %q, got %q", expected, name)
	}
}

func TestResolve(t *testing.T) {
	registry := newRegistry(t)

	m, err := registry.ResolveModel(&model.Employee{})

	if err != nil {
		t.Fatalf("expected resolution to succeed: %s", err)
	}

	if m.Kind != "Employee" {
		t.Fatalf("expected kind Employee, got %s", m.Kind)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	registry := newRegistry(t)

	if _, err := registry.Resolve("github.com/acme/app/model.Widget"); !errors.Is(err, meta.ErrNoSuchMeta) {
		t.Fatalf("expected ErrNoSuchMeta, got %v", err)
	}
}

func TestResolveCachesDescriptors(t *testing.T) {
	registry := meta.NewRegistry(meta.RegistryConfig{Logger: zap.NewNop()})
	constructions := 0

	registry.Register(meta.MetaName(meta.NameOf(&model.Employee{})), func() *meta.ModelMeta {
		constructions++

		return fixtures.EmployeeMeta()
	})

	first, err := registry.ResolveModel(&model.Employee{})

	if err != nil {
		t.Fatalf("expected resolution to succeed: %s", err)
	}

	second, err := registry.ResolveModel(&model.Employee{})

	if err != nil {
		t.Fatalf("expected resolution to succeed: %s", err)
	}

	if first != second {
		t.Fatalf("expected both lookups to return the cached descriptor")
	}

	if constructions != 1 {
		t.Fatalf("expected one construction, got %d", constructions)
	}
}

func TestCleanerResetsCache(t *testing.T) {
	c := cleaner.New(zap.NewNop())
	registry := meta.NewRegistry(meta.RegistryConfig{Logger: zap.NewNop(), Cleaner: c})
	constructions := 0

	registry.Register(meta.MetaName(meta.NameOf(&model.Employee{})), func() *meta.ModelMeta {
		constructions++

		return fixtures.EmployeeMeta()
	})

	for i := 0; i < 3; i++ {
		if _, err := registry.ResolveModel(&model.Employee{}); err != nil {
			t.Fatalf("expected resolution to succeed: %s", err)
		}

		c.CleanAll()
	}

	// Each scope resolves fresh after the cleaner fires
	if constructions != 3 {
		t.Fatalf("expected 3 constructions, got %d", constructions)
	}
}

func TestResolvePolymorphic(t *testing.T) {
	registry := newRegistry(t)
	base := fixtures.EmployeeMeta()

	t.Run("plain record materializes as base", func(t *testing.T) {
		rec := record.New(record.NewIDKey("Employee", 1))

		m, err := registry.ResolvePolymorphic(base, rec)

		if err != nil {
			t.Fatalf("expected resolution to succeed: %s", err)
		}

		if m != base {
			t.Fatalf("expected the base descriptor, got %s", m.ModelName)
		}
	})

	t.Run("hierarchy leaf wins", func(t *testing.T) {
		rec := record.New(record.NewIDKey("Employee", 1))
		rec.Set(record.ClassHierarchyProperty, []any{
			meta.NameOf(&model.Employee{}),
			meta.NameOf(&model.Manager{}),
		})

		m, err := registry.ResolvePolymorphic(base, rec)

		if err != nil {
			t.Fatalf("expected resolution to succeed: %s", err)
		}

		if m.ModelName != meta.NameOf(&model.Manager{}) {
			t.Fatalf("expected the manager descriptor, got %s", m.ModelName)
		}
	})

	t.Run("leaf must descend from the requested base", func(t *testing.T) {
		rec := record.New(record.NewIDKey("Employee", 1))
		rec.Set(record.ClassHierarchyProperty, []any{meta.NameOf(&model.Employee{})})

		if _, err := registry.ResolvePolymorphic(fixtures.ManagerMeta(), rec); !errors.Is(err, meta.ErrNotAssignable) {
			t.Fatalf("expected ErrNotAssignable, got %v", err)
		}
	})
}
