package references

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type CandidateKind string

const (
	// CandidateAddress is a bare or @-prefixed address, resolved as ENS, then Farcaster, then ERC-20
	CandidateAddress CandidateKind = "address"
	// CandidateERC20Address is a $-prefixed address, resolved only as an ERC-20 token
	CandidateERC20Address  CandidateKind = "erc20Address"
	CandidateENSName       CandidateKind = "ensName"
	CandidateFarcasterName CandidateKind = "farcasterName"
	// CandidateERC20Asset is a $- or @-prefixed CAIP-19 ERC-20 asset id
	CandidateERC20Asset    CandidateKind = "erc20Asset"
	CandidateTicker        CandidateKind = "ticker"
	CandidateURL           CandidateKind = "url"
	CandidateIPFSURL       CandidateKind = "ipfsUrl"
	CandidateQuotedComment CandidateKind = "quotedComment"
)

// Candidate is a substring of a comment that may be a reference
type Candidate struct {
	Kind CandidateKind
	// RawText is the matched text, including any @ or $ prefix
	RawText string
	// Value is RawText without its prefix; this is what gets resolved
	Value    string
	Position Position
}

type matcher struct {
	kind CandidateKind
	// re must be anchored at the start and capture the mention in group 1
	re *regexp.Regexp
	// prefixes are the leading characters stripped from the mention before resolving it
	prefixes string
}

// boundary is the end of a mention: anything that can't continue a name, or the end of the content
const boundary = `(?:[^\p{L}\p{N}_-]|$)`

// matchers are tried in order at every position. Address forms come before name forms.
var matchers = []matcher{
	{kind: CandidateAddress, re: regexp.MustCompile(`^(@?0x[0-9a-fA-F]{40})` + boundary), prefixes: "@"},
	{kind: CandidateERC20Address, re: regexp.MustCompile(`^(\$0x[0-9a-fA-F]{40})` + boundary), prefixes: "$"},
	{kind: CandidateENSName, re: regexp.MustCompile(`^(@?[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)*\.(?i:eth))` + boundary), prefixes: "@"},
	{kind: CandidateFarcasterName, re: regexp.MustCompile(`^(@?[a-zA-Z0-9-]+\.(?i:fcast\.id))` + boundary), prefixes: "@"},
	{kind: CandidateERC20Asset, re: regexp.MustCompile(`^([$@]eip155:[0-9]+/erc20:0x[0-9a-fA-F]{40})` + boundary), prefixes: "$@"},
	{kind: CandidateTicker, re: regexp.MustCompile(`^(\$[a-zA-Z][a-zA-Z0-9]{0,19})` + boundary), prefixes: "$"},
	{kind: CandidateURL, re: regexp.MustCompile(`^((?i:https?|ipfs)://[^\s()\[\]{}<>]+)`)},
	{kind: CandidateQuotedComment, re: regexp.MustCompile(`^(eip155:[0-9]+:0x[0-9a-fA-F]{40}:call:0x[0-9a-fA-F]+)` + boundary)},
}

// Tokenize scans content once, left to right, and returns every candidate in order. At each position the
// first matcher that matches wins and the scan continues after the match; otherwise the scan moves ahead
// one codepoint. A mention may be glued to the text before it, as in "gm$USDC" or "hi@luc.eth", but must
// end at a boundary.
func Tokenize(content string) []Candidate {
	var candidates []Candidate

	byteOffset := 0
	runeOffset := 0

	for byteOffset < len(content) {
		if c, ok := matchAt(content[byteOffset:], runeOffset); ok {
			candidates = append(candidates, c)
			byteOffset += len(c.RawText)
			runeOffset = c.Position.End
			continue
		}

		_, size := utf8.DecodeRuneInString(content[byteOffset:])
		byteOffset += size
		runeOffset++
	}

	return candidates
}

func matchAt(suffix string, runeOffset int) (Candidate, bool) {
	for _, m := range matchers {
		loc := m.re.FindStringSubmatchIndex(suffix)
		if loc == nil {
			continue
		}

		raw := suffix[loc[2]:loc[3]]
		kind := m.kind
		if kind == CandidateURL && strings.EqualFold(raw[:4], "ipfs") {
			kind = CandidateIPFSURL
		}

		return Candidate{
			Kind:    kind,
			RawText: raw,
			Value:   stripPrefix(raw, m.prefixes),
			Position: Position{
				Start: runeOffset,
				End:   runeOffset + utf8.RuneCountInString(raw),
			},
		}, true
	}
	return Candidate{}, false
}

func stripPrefix(s string, prefixes string) string {
	for _, p := range prefixes {
		if len(s) > 0 && rune(s[0]) == p {
			return s[1:]
		}
	}
	return s
}

// Slice returns the codepoints of content within p
func Slice(content string, p Position) string {
	runes := []rune(content)
	if p.Start < 0 || p.End > len(runes) || p.Start > p.End {
		return ""
	}
	return string(runes[p.Start:p.End])
}
