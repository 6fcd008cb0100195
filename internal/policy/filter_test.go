package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func writeList(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFilterNoLists(t *testing.T) {
	f, err := NewFilter("", "")
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	if !f.Allowed("acct1", "space1") {
		t.Fatalf("expected everything allowed with no lists")
	}
}

func TestFilterInclusionWholeAccount(t *testing.T) {
	dir := t.TempDir()
	inc := writeList(t, dir, "inc.txt", "acct1")

	f, err := NewFilter(inc, "")
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	if !f.Allowed("acct1", "anything") {
		t.Fatalf("expected whole-account inclusion to match any space")
	}
	if f.Allowed("acct2", "anything") {
		t.Fatalf("expected acct2 to be excluded by omission")
	}
}

func TestFilterInclusionSpecificSpace(t *testing.T) {
	dir := t.TempDir()
	inc := writeList(t, dir, "inc.txt", "acct1/space1")

	f, err := NewFilter(inc, "")
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	if !f.Allowed("acct1", "space1") {
		t.Fatalf("expected exact match to be allowed")
	}
	if f.Allowed("acct1", "space2") {
		t.Fatalf("expected other space in same account to be excluded")
	}
}

func TestFilterExclusionWins(t *testing.T) {
	dir := t.TempDir()
	inc := writeList(t, dir, "inc.txt", "acct1")
	exc := writeList(t, dir, "exc.txt", "acct1/space2")

	f, err := NewFilter(inc, exc)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	if !f.Allowed("acct1", "space1") {
		t.Fatalf("expected space1 to remain allowed")
	}
	if f.Allowed("acct1", "space2") {
		t.Fatalf("expected space2 to be excluded despite account-level inclusion")
	}
}
