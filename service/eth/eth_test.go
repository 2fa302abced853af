package eth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/util"
	"github.com/mikeydub/comment-references/util/retry"
)

func TestToRecord(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected AvatarRecord
		err      error
	}{
		{"http record", "https://example.com/a.png", EnsHttpRecord{URL: "https://example.com/a.png"}, nil},
		{"ipfs record", "ipfs://QmHash/a.png", EnsIpfsRecord{URL: "ipfs://QmHash/a.png"}, nil},
		{"token record", "eip155:1/erc721:0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB/2430", EnsTokenRecord{
			ChainID:        "eip155:1",
			AssetNamespace: "erc721",
			AssetReference: "0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB",
			AssetID:        "2430",
		}, nil},
		{"unknown record", "data:image/png;base64,AAAA", nil, ErrUnknownENSAvatarURI},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := toRecord(tc.input)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.False(t, IsExpired(nil, now))
	assert.False(t, IsExpired(util.ToPointer(""), now))
	assert.False(t, IsExpired(util.ToPointer("1800000000"), now))
	assert.True(t, IsExpired(util.ToPointer("1600000000"), now))
}

func TestSearchNames(t *testing.T) {
	active := "0x0000000000000000000000000000000000000001"
	expired := "0x0000000000000000000000000000000000000002"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Query, "resolvedAddress_in")
		assert.Len(t, body.Variables["addresses"], 2)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"domains": [
			{"name": "old.eth", "resolvedAddress": {"id": "` + expired + `"}, "expiryDate": "1600000000"},
			{"name": "luc.eth", "resolvedAddress": {"id": "` + active + `"}, "expiryDate": null},
			{"name": "", "resolvedAddress": {"id": "` + active + `"}, "expiryDate": null},
			{"name": "second.eth", "resolvedAddress": {"id": "` + active + `"}, "expiryDate": "1800000000"}
		]}}`))
	}))
	defer server.Close()

	e := NewENS(nil, server.URL, server.Client())
	e.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	names, schemaErrs, err := e.SearchNames(context.Background(), []persist.Address{persist.Address(active), persist.Address(expired)})
	require.NoError(t, err)

	assert.Equal(t, map[persist.Address]string{persist.Address(active): "luc.eth"}, names)
	require.Len(t, schemaErrs, 1)
	assert.ErrorAs(t, schemaErrs[0], &ErrSchema{})
}

func TestSearchNamesRateLimited(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	e := NewENS(nil, server.URL, server.Client())

	start := time.Now()
	_, _, err := e.SearchNames(context.Background(), []persist.Address{"0x0000000000000000000000000000000000000001"})

	assert.ErrorIs(t, err, retry.ErrOutOfRetries)
	assert.EqualValues(t, subgraphRetry.Tries, atomic.LoadInt32(&calls))
	assert.Less(t, time.Since(start), 5*time.Second)
}
