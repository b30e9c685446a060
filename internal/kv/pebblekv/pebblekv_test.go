package pebblekv

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/matheus3301/portalchat/internal/kv"
)

func testBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "pebble"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)

	if _, ok, err := b.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get(missing) = %v %v", ok, err)
	}
	if err := b.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := b.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Errorf("Get(k) = %q %v %v", v, ok, err)
	}
	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Error("key present after Delete")
	}
}

func TestKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	for _, k := range []string{"portal.chat.thread:a|b", "portal.chat.thread:b|c", "portal.chat.unread:a", "portal.directory.staff"} {
		if err := b.Set(ctx, k, []byte("1")); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := b.Keys(ctx, "portal.chat.thread:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys() = %v, want 2 thread keys", keys)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		in   []byte
		want []byte
	}{
		{[]byte("abc"), []byte("abd")},
		{[]byte{'a', 0xff}, []byte{'b'}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		if got := prefixUpperBound(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("prefixUpperBound(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStoreOverPebble(t *testing.T) {
	ctx := context.Background()
	s := kv.New(testBackend(t), kv.CBOR, nil, nil)

	var seen []string
	s.Update(ctx, "roster", &seen, func(bool) bool {
		seen = append(seen, "alice@x")
		return true
	})
	got := kv.Load(ctx, s, "roster", []string(nil))
	if len(got) != 1 || got[0] != "alice@x" {
		t.Errorf("roster = %v", got)
	}
}
