package util

import (
	"testing"
)

func TestNameBucket_Deterministic(t *testing.T) {
	names := []string{"a", "hello.txt", "2024-01-01.json", "with space", "ünïcode"}
	for _, name := range names {
		if NameBucket(name) != NameBucket(name) {
			t.Errorf("NameBucket(%q) is not stable", name)
		}
		if NameBucket(name) >= BucketCount {
			t.Errorf("NameBucket(%q) = %d out of range", name, NameBucket(name))
		}
	}
}
