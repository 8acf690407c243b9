package credential

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestBuildArchive_BundlesContentAndCredential(t *testing.T) {
	iss := testIssuer(t)
	iss.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }

	cred, credHash, err := iss.Issue(testFacts())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	content := []byte("ipfs://QmExampleLicensedContent")
	arch, err := BuildArchive(content, cred, credHash)
	if err != nil {
		t.Fatalf("build archive: %v", err)
	}
	if len(arch.Hash) != 64 {
		t.Fatalf("expected sha256 hex archive hash, got %q", arch.Hash)
	}

	zr, err := zip.NewReader(bytes.NewReader(arch.Bytes), int64(len(arch.Bytes)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"content", "credential.json", "manifest.json"} {
		if !names[want] {
			t.Fatalf("archive missing entry %q (have %v)", want, names)
		}
	}

	rc, err := zr.Open("content")
	if err != nil {
		t.Fatalf("open content: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: %q", got)
	}
}

func TestBuildArchive_DeterministicBytes(t *testing.T) {
	iss := testIssuer(t)
	iss.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }

	cred, credHash, err := iss.Issue(testFacts())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	content := []byte("licensed-bytes")
	a1, err := BuildArchive(content, cred, credHash)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	a2, err := BuildArchive(content, cred, credHash)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if a1.Hash != a2.Hash {
		t.Fatalf("expected identical archive hashes, got %s vs %s", a1.Hash, a2.Hash)
	}
}

func TestBuildArchive_RequiresSignedCredential(t *testing.T) {
	iss := testIssuer(t)
	cred, credHash, err := iss.Issue(testFacts())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cred.Signature = ""
	if _, err := BuildArchive([]byte("x"), cred, credHash); err == nil {
		t.Fatal("expected error for unsigned credential")
	}

	if _, err := BuildArchive(nil, cred, credHash); err == nil {
		t.Fatal("expected error for empty content")
	}
}
