package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validProfile = "Values: [100, 200, 300, 400, 500, 600, 700, 800, 900, 1000]\n"

func writeProfile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yml")
	writeProfile(t, path, validProfile)

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []uint16{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}, p.Values)
}

func TestLoad_HexValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yml")
	writeProfile(t, path, "Values: [0x3FF, 0, 0, 0, 0, 0, 0, 0, 0, 0x10]\n")

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x3FF), p.Values[0])
	assert.Equal(t, uint16(0x10), p.Values[9])
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"too few values": "Values: [1, 2, 3]\n",
		"unknown key":    validProfile + "Name: x\n",
		"negative":       "Values: [-1, 0, 0, 0, 0, 0, 0, 0, 0, 0]\n",
		"empty":          "",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.yml")
			writeProfile(t, path, content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatch_AppliesInitialAndChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yml")
	writeProfile(t, path, validProfile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan []uint16, 10)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 10*time.Millisecond, func(p *Profile) error {
			applied <- p.Values
			return nil
		})
	}()

	select {
	case v := <-applied:
		assert.Equal(t, uint16(100), v[0])
	case <-time.After(2 * time.Second):
		t.Fatal("initial profile not applied")
	}

	// broken content is skipped, the following fix is applied
	time.Sleep(50 * time.Millisecond)
	writeProfile(t, path, "Values: [1]\n")
	time.Sleep(100 * time.Millisecond)
	writeProfile(t, path, "Values: [7, 7, 7, 7, 7, 7, 7, 7, 7, 7]\n")

	select {
	case v := <-applied:
		assert.Equal(t, uint16(7), v[0])
	case <-time.After(2 * time.Second):
		t.Fatal("changed profile not applied")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_InitialLoadError(t *testing.T) {
	called := false
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope.yml"), 0, func(*Profile) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestWatch_ApplyErrorEnds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yml")
	writeProfile(t, path, validProfile)
	applyErr := errors.New("transfer failed")

	err := Watch(context.Background(), path, 0, func(*Profile) error { return applyErr })
	assert.ErrorIs(t, err, applyErr)
}
