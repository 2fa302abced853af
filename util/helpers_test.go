package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetURIPath(t *testing.T) {
	cases := []struct {
		title        string
		in           string
		withoutQuery bool
		expected     string
	}{
		{title: "ipfs uri", in: "ipfs://bafybeigdyrzt/image.png", expected: "bafybeigdyrzt/image.png"},
		{title: "ipfs uri with ipfs prefix", in: "ipfs://ipfs/bafybeigdyrzt", expected: "bafybeigdyrzt"},
		{title: "gateway url", in: "https://ipfs.io/ipfs/bafybeigdyrzt/a.json?x=1", withoutQuery: true, expected: "bafybeigdyrzt/a.json"},
		{title: "keeps query", in: "https://ipfs.io/ipfs/bafybeigdyrzt?x=1", expected: "bafybeigdyrzt?x=1"},
	}
	for _, c := range cases {
		t.Run(c.title, func(t *testing.T) {
			assert.Equal(t, c.expected, GetURIPath(c.in, c.withoutQuery))
		})
	}
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedupe([]string{"a", "b", "a", "c", "b"}, false))
}
