package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	cases := map[string]bool{
		"rooms/abc/contract.pdf":  true,
		"":                        false,
		"/etc/passwd":             false,
		"rooms/../secret":         false,
		strings.Repeat("k", 1025): false,
	}
	for key, ok := range cases {
		err := ValidateKey(key)
		if ok && err != nil {
			t.Errorf("ValidateKey(%q) = %v", key, err)
		}
		if !ok && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) should fail", key)
		}
	}
}

func TestAttachmentURLPublicBase(t *testing.T) {
	c, err := NewClient(context.Background(), S3Config{
		Region:     "us-east-1",
		Bucket:     "attachments",
		AccessKey:  "test",
		SecretKey:  "test",
		PublicBase: "https://cdn.example.com/",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := c.AttachmentURL(context.Background(), "rooms/a.png")
	if err != nil {
		t.Fatalf("attachment url: %v", err)
	}
	if got != "https://cdn.example.com/rooms/a.png" {
		t.Fatalf("url = %q", got)
	}
}

func TestAttachmentURLPresigned(t *testing.T) {
	c, err := NewClient(context.Background(), S3Config{
		Region:     "us-east-1",
		Bucket:     "attachments",
		AccessKey:  "test",
		SecretKey:  "test",
		Endpoint:   "http://localhost:9000",
		PresignTTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := c.AttachmentURL(context.Background(), "rooms/a.png")
	if err != nil {
		t.Fatalf("attachment url: %v", err)
	}
	if !strings.HasPrefix(got, "http://localhost:9000/attachments/rooms/a.png?") || !strings.Contains(got, "X-Amz-Signature=") {
		t.Fatalf("unexpected presigned url %q", got)
	}
}
