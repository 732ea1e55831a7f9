package config

import (
	"os"
	"testing"
)

// testChdir stands in for testing.T.Chdir (Go 1.24+): it changes the working
// directory and restores the previous one when the test finishes.
func testChdir(t testing.TB, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
