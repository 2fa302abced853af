package references

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x06450dee7fd2fb8e39061434babcfc05599a6fb8"

func TestTokenize(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []Candidate
	}{
		{
			name:    "repeated ens name",
			content: "luc.eth luc.eth",
			want: []Candidate{
				{Kind: CandidateENSName, RawText: "luc.eth", Value: "luc.eth", Position: Position{0, 7}},
				{Kind: CandidateENSName, RawText: "luc.eth", Value: "luc.eth", Position: Position{8, 15}},
			},
		},
		{
			name:    "bare address",
			content: "Test " + testAddress,
			want: []Candidate{
				{Kind: CandidateAddress, RawText: testAddress, Value: testAddress, Position: Position{5, 47}},
			},
		},
		{
			name:    "at address",
			content: "@" + testAddress + "!",
			want: []Candidate{
				{Kind: CandidateAddress, RawText: "@" + testAddress, Value: testAddress, Position: Position{0, 43}},
			},
		},
		{
			name:    "dollar address",
			content: "buy $" + testAddress,
			want: []Candidate{
				{Kind: CandidateERC20Address, RawText: "$" + testAddress, Value: testAddress, Position: Position{4, 47}},
			},
		},
		{
			name:    "at ens name with subdomain",
			content: "gm @pay.Vitalik.ETH",
			want: []Candidate{
				{Kind: CandidateENSName, RawText: "@pay.Vitalik.ETH", Value: "pay.Vitalik.ETH", Position: Position{3, 19}},
			},
		},
		{
			name:    "farcaster name",
			content: "@dwr.fcast.id, hi",
			want: []Candidate{
				{Kind: CandidateFarcasterName, RawText: "@dwr.fcast.id", Value: "dwr.fcast.id", Position: Position{0, 13}},
			},
		},
		{
			name:    "caip-19 asset",
			content: "$eip155:1/erc20:0x6b175474e89094c44da98b954eedeac495271d0f",
			want: []Candidate{
				{
					Kind:     CandidateERC20Asset,
					RawText:  "$eip155:1/erc20:0x6b175474e89094c44da98b954eedeac495271d0f",
					Value:    "eip155:1/erc20:0x6b175474e89094c44da98b954eedeac495271d0f",
					Position: Position{0, 58},
				},
			},
		},
		{
			name:    "ticker",
			content: "I like $DEGEN and $eth",
			want: []Candidate{
				{Kind: CandidateTicker, RawText: "$DEGEN", Value: "DEGEN", Position: Position{7, 13}},
				{Kind: CandidateTicker, RawText: "$eth", Value: "eth", Position: Position{18, 22}},
			},
		},
		{
			name:    "urls",
			content: "see https://example.com/a?b=c and ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
			want: []Candidate{
				{Kind: CandidateURL, RawText: "https://example.com/a?b=c", Value: "https://example.com/a?b=c", Position: Position{4, 29}},
				{
					Kind:     CandidateIPFSURL,
					RawText:  "ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
					Value:    "ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
					Position: Position{34, 100},
				},
			},
		},
		{
			name:    "quoted comment",
			content: "eip155:8453:0xb20fe2f4fe5e4b11ebd3e6cf5b8cc06bad7f6e5c:call:0x9f5b0a10",
			want: []Candidate{
				{
					Kind:     CandidateQuotedComment,
					RawText:  "eip155:8453:0xb20fe2f4fe5e4b11ebd3e6cf5b8cc06bad7f6e5c:call:0x9f5b0a10",
					Value:    "eip155:8453:0xb20fe2f4fe5e4b11ebd3e6cf5b8cc06bad7f6e5c:call:0x9f5b0a10",
					Position: Position{0, 70},
				},
			},
		},
		{
			name:    "url containing an ens name is one url",
			content: "https://vitalik.eth.limo",
			want: []Candidate{
				{Kind: CandidateURL, RawText: "https://vitalik.eth.limo", Value: "https://vitalik.eth.limo", Position: Position{0, 24}},
			},
		},
		{
			name:    "ticker glued to a word",
			content: "gm$USDC",
			want: []Candidate{
				{Kind: CandidateTicker, RawText: "$USDC", Value: "USDC", Position: Position{2, 7}},
			},
		},
		{
			name:    "address glued to a word",
			content: "x" + testAddress,
			want: []Candidate{
				{Kind: CandidateAddress, RawText: testAddress, Value: testAddress, Position: Position{1, 43}},
			},
		},
		{
			name:    "mention glued to a word keeps its prefix",
			content: "hi@luc.eth",
			want: []Candidate{
				{Kind: CandidateENSName, RawText: "@luc.eth", Value: "luc.eth", Position: Position{2, 10}},
			},
		},
		{
			name:    "name after an underscore",
			content: "_luc.eth",
			want: []Candidate{
				{Kind: CandidateENSName, RawText: "luc.eth", Value: "luc.eth", Position: Position{1, 8}},
			},
		},
		{
			name:    "no match when the name continues",
			content: "luc.ethereum " + testAddress + "ff",
		},
		{
			name:    "empty",
			content: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.content)
			assert.Equal(t, tt.want, got)
			for _, c := range got {
				assert.Equal(t, c.RawText, Slice(tt.content, c.Position))
			}
		})
	}
}

func TestTokenizeUnicode(t *testing.T) {
	content := "👀 https://example.com 💻 and 🧑‍🚀@luc.eth🚀"

	got := Tokenize(content)

	require.Len(t, got, 2)
	assert.Equal(t, Position{2, 21}, got[0].Position)
	assert.Equal(t, CandidateURL, got[0].Kind)
	assert.Equal(t, CandidateENSName, got[1].Kind)
	assert.Equal(t, "luc.eth", got[1].Value)
	for _, c := range got {
		assert.Equal(t, c.RawText, Slice(content, c.Position))
	}
}

func TestTokenizeIsDeterministic(t *testing.T) {
	content := "gm @luc.eth, $DEGEN is at " + testAddress + " per https://example.com (and dwr.fcast.id) luc.eth"

	first := Tokenize(content)
	require.NotEmpty(t, first)

	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Tokenize(content))
	}

	for i := 1; i < len(first); i++ {
		assert.LessOrEqual(t, first[i-1].Position.End, first[i].Position.Start, "candidates overlap or are out of order")
	}
}

func TestSlice(t *testing.T) {
	assert.Equal(t, "💻", Slice("👀 💻", Position{2, 3}))
	assert.Equal(t, "", Slice("abc", Position{2, 5}))
	assert.Equal(t, "", Slice("abc", Position{2, 1}))
}
