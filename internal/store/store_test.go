package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestSqliteFilter(t *testing.T) {
	tests := []struct {
		name     string
		f        Filter
		wantSQL  string
		wantArgs int
	}{
		{"empty", Filter{}, "", 0},
		{"language only", Filter{Language: "en"}, " AND r.language = ?", 1},
		{"all set", Filter{Language: "ar", AppName: "ana", Type: "article"},
			" AND r.language = ? AND r.app_name = ? AND r.type = ?", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := sqliteFilter(tt.f)
			if sql != tt.wantSQL {
				t.Errorf("sql %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("%d args, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestSerializeFloat32(t *testing.T) {
	v := []float32{1.5, -2.25, 0}
	b := serializeFloat32(v)
	if len(b) != 12 {
		t.Fatalf("expected 12 bytes, got %d", len(b))
	}
	for i, want := range v {
		got := math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		if got != want {
			t.Errorf("element %d: %v, want %v", i, got, want)
		}
	}
}

func TestStorageError(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := storageErr("query", inner)

	if !IsStorageError(err) {
		t.Error("IsStorageError must recognize the wrapped kind")
	}
	if !errors.Is(err, inner) {
		t.Error("underlying error must unwrap")
	}
	if storageErr("query", nil) != nil {
		t.Error("nil error must stay nil")
	}
	wrapped := fmt.Errorf("retrieval failed: %w", err)
	if !IsStorageError(wrapped) {
		t.Error("IsStorageError must see through wrapping")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(nil, Config{Backend: "etcd"})
	if err == nil {
		t.Fatal("unknown backend must be rejected")
	}
}
