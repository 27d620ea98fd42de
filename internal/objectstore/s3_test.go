package objectstore

import (
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 7, 4, 8, 0, 0, 0, time.UTC)
	key := objectKey("/uploads/", 12, "My Résumé (final).PDF", now)

	if !strings.HasPrefix(key, "uploads/user_12/2026/07/04/My_R_sum_final_") {
		t.Fatalf("unexpected key prefix %q", key)
	}
	if !strings.HasSuffix(key, ".pdf") {
		t.Fatalf("expected lowercased extension, got %q", key)
	}

	if k := objectKey("uploads", 1, "...", now); !strings.Contains(k, "/file_") {
		t.Fatalf("expected placeholder base name, got %q", k)
	}
}

func TestKeyFromURL(t *testing.T) {
	key, err := keyFromURL("https://cdn.example.com/bucket/", "https://cdn.example.com/bucket/uploads/user_1/a.pdf")
	if err != nil {
		t.Fatalf("key from url: %v", err)
	}
	if key != "uploads/user_1/a.pdf" {
		t.Fatalf("unexpected key %q", key)
	}

	if _, err := keyFromURL("https://cdn.example.com/bucket", "https://evil.example.com/uploads/a.pdf"); err == nil {
		t.Fatalf("expected foreign url to be rejected")
	}
}
