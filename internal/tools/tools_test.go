package tools

import (
	"context"
	"testing"

	"github.com/starrealm/hoststar/internal/collab/fake"
)

func TestFirstAddedBecomesDefault(t *testing.T) {
	c := NewCatalog(KindHost)
	if err := c.Add(Tool{ID: "vga1", Kind: KindHost}); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(Tool{ID: "vga2", Kind: KindHost}); err != nil {
		t.Fatal(err)
	}
	def, ok := c.Default()
	if !ok || def.ID != "vga1" {
		t.Fatalf("expected vga1 default, got %+v ok=%v", def, ok)
	}
}

func TestRemoveDefaultPromotesNext(t *testing.T) {
	c := NewCatalog(KindHost)
	c.Add(Tool{ID: "a", Kind: KindHost})
	c.Add(Tool{ID: "b", Kind: KindHost})
	if !c.Remove("a") {
		t.Fatal("expected removal to succeed")
	}
	def, ok := c.Default()
	if !ok || def.ID != "b" {
		t.Fatalf("expected b to become default, got %+v ok=%v", def, ok)
	}
}

func TestRemoveUnknownReturnsFalse(t *testing.T) {
	c := NewCatalog(KindHost)
	if c.Remove("nope") {
		t.Fatal("expected false removing unknown tool")
	}
}

func TestRejectsInvalidID(t *testing.T) {
	c := NewCatalog(KindHost)
	if err := c.Add(Tool{ID: "has space", Kind: KindHost}); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestSetDefaultUnknown(t *testing.T) {
	c := NewCatalog(KindHost)
	c.Add(Tool{ID: "a", Kind: KindHost})
	if err := c.SetDefault("missing"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCopyToolPreservesMetadata(t *testing.T) {
	c := NewCatalog(KindTool)
	d := 42
	c.Add(Tool{ID: "src", Kind: KindTool, Description: "original", Difficulty: &d})

	if err := c.Copy(context.Background(), "src", "dst"); err != nil {
		t.Fatal(err)
	}
	dst, ok := c.Get("dst")
	if !ok || dst.Description != "original" || dst.Difficulty == nil || *dst.Difficulty != 42 {
		t.Fatalf("got %+v ok=%v", dst, ok)
	}
}

func TestValidatePathRequiresExistingFile(t *testing.T) {
	files := fake.NewFileService(nil)
	ctx := context.Background()

	if err := ValidatePath(ctx, files, ""); err != nil {
		t.Fatalf("empty path should be valid: %v", err)
	}
	if err := ValidatePath(ctx, files, "missing.cfg"); err == nil {
		t.Fatal("expected error for missing file")
	}
	files.WriteFile(ctx, "tool.cfg", []byte("x"))
	if err := ValidatePath(ctx, files, "tool.cfg"); err != nil {
		t.Fatalf("expected existing file to validate, got %v", err)
	}
}

func TestComputeDifficultyFromPlanetDensity(t *testing.T) {
	cfg := []byte("planetdensity=100\nplanet2density=150\nother=9\n")
	d := ComputeDifficulty(cfg)
	if d <= 0 || d > 250 {
		t.Fatalf("expected difficulty in (0,250], got %d", d)
	}
}

func TestComputeDifficultyNoKeys(t *testing.T) {
	if d := ComputeDifficulty([]byte("foo=bar\n")); d != 0 {
		t.Fatalf("expected 0, got %d", d)
	}
}

func TestApplyComputedDifficultyRespectsOverride(t *testing.T) {
	tool := Tool{ID: "x", Kind: KindHost}
	tool.SetDifficulty(10)
	tool.ApplyComputedDifficulty([]byte("planetdensity=200\n"))
	if tool.Difficulty == nil || *tool.Difficulty != 10 {
		t.Fatalf("override should be preserved, got %+v", tool.Difficulty)
	}
}

func TestRegistryDefaultTools(t *testing.T) {
	r := NewRegistry()
	r.Catalog(KindHost).Add(Tool{ID: "h1", Kind: KindHost})
	r.Catalog(KindMaster).Add(Tool{ID: "m1", Kind: KindMaster})

	defs := r.DefaultTools()
	if defs[KindHost] != "h1" || defs[KindMaster] != "m1" {
		t.Fatalf("got %+v", defs)
	}
	if _, ok := defs[KindShiplist]; ok {
		t.Fatalf("empty catalog should have no default entry")
	}
}
