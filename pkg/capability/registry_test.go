package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/protean-ai/protean/pkg/errmodel"
)

func testDescriptor(name string) *Descriptor {
	return &Descriptor{
		Name:        name,
		Description: "doubles a number",
		Parameters: []ParamSpec{
			{Name: "x", Kind: KindFloat, Description: "input"},
		},
		Behavior: "result = x * 2",
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(testDescriptor("double")); err != nil {
		t.Fatal(err)
	}

	// A second registry over the same directory sees the entry.
	r2, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	d, err := r2.Get("double")
	if err != nil {
		t.Fatal(err)
	}
	if d.Description != "doubles a number" || len(d.Parameters) != 1 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if d.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped on Add")
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(testDescriptor("double")); err != nil {
		t.Fatal(err)
	}
	err = r.Add(testDescriptor("double"))
	if !isCategory(err, "duplicate") {
		t.Fatalf("err = %v, want duplicate", err)
	}
}

func TestRegistryRemove(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(testDescriptor("double")); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("double"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "double.json")); !os.IsNotExist(err) {
		t.Fatal("file still on disk after Remove")
	}
	if !isCategory(r.Remove("double"), "not_found") {
		t.Fatal("second Remove should be not_found")
	}
}

func TestRegistrySkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(testDescriptor("double")); err != nil {
		t.Fatal(err)
	}
	if got := r.Names(); len(got) != 1 || got[0] != "double" {
		t.Fatalf("Names = %v", got)
	}
}

func TestRegistryRejectsNameMismatch(t *testing.T) {
	dir := t.TempDir()
	// File claims a name that does not match its filename.
	body := `{"name":"other","description":"d","parameters":[],"behavior":"result = 1"}`
	if err := os.WriteFile(filepath.Join(dir, "double.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 {
		t.Fatalf("mismatched file loaded, Len = %d", r.Len())
	}
}

func TestRegistryIncrementUsagePersists(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(testDescriptor("double")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := r.IncrementUsage("double"); err != nil {
			t.Fatal(err)
		}
	}
	r2, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	d, err := r2.Get("double")
	if err != nil {
		t.Fatal(err)
	}
	if d.UsageCount != 3 {
		t.Fatalf("UsageCount = %d, want 3", d.UsageCount)
	}
}

func TestRegistryReloadPicksUpExternalWrites(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	// Another process writes into the same directory.
	other, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Add(testDescriptor("double")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("double"); err == nil {
		t.Fatal("stale mirror should not see the entry yet")
	}
	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("double"); err != nil {
		t.Fatalf("after Reload: %v", err)
	}
}

func isCategory(err error, cat string) bool {
	return err != nil && errmodel.IsCategory(err, cat)
}
