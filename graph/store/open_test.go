package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		url  string
		want interface{}
	}{
		{"memory", "memory://", &MemStore[testState]{}},
		{"file", "file://" + filepath.Join(dir, "files"), &FileStore[testState]{}},
		{"sqlite file", "sqlite://" + filepath.Join(dir, "cp.db"), &SQLStore[testState]{}},
		{"sqlite memory", "sqlite://:memory:", &SQLStore[testState]{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Open[testState](context.Background(), tt.url)
			require.NoError(t, err)
			defer func() { _ = st.Close() }()

			assert.IsType(t, tt.want, st)
			require.NoError(t, st.Put(context.Background(), checkpoint("inv_a", 1, "")))
			_, err = st.Get(context.Background(), "inv_a")
			assert.NoError(t, err)
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	for _, raw := range []string{"", "no-scheme", "ftp://example.com"} {
		_, err := Open[testState](context.Background(), raw)
		assert.Error(t, err, raw)
	}
}
