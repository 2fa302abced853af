package references

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mikeydub/comment-references/service/media"
	"github.com/mikeydub/comment-references/service/persist"
)

// Position is a [Start, End) span of codepoints in comment content
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type ReferenceType string

const (
	ReferenceTypeENS           ReferenceType = "ens"
	ReferenceTypeFarcaster     ReferenceType = "farcaster"
	ReferenceTypeERC20         ReferenceType = "erc20"
	ReferenceTypeWebpage       ReferenceType = "webpage"
	ReferenceTypeImage         ReferenceType = "image"
	ReferenceTypeVideo         ReferenceType = "video"
	ReferenceTypeFile          ReferenceType = "file"
	ReferenceTypeQuotedComment ReferenceType = "quoted_comment"
)

// Reference is a resolved mention. Implementations are the *Reference types in this package.
type Reference interface {
	ReferenceType() ReferenceType
	ReferencePosition() Position
	// withPosition returns a copy of the reference at p, with its type tag set
	withPosition(p Position) Reference
}

type ENSReference struct {
	Type      ReferenceType   `json:"type"`
	Position  Position        `json:"position"`
	Name      string          `json:"name"`
	Address   persist.Address `json:"address"`
	AvatarURL *string         `json:"avatarUrl"`
	URL       string          `json:"url"`
}

type FarcasterReference struct {
	Type        ReferenceType   `json:"type"`
	Position    Position        `json:"position"`
	Fid         int             `json:"fid"`
	Fname       string          `json:"fname"`
	Username    string          `json:"username"`
	DisplayName *string         `json:"displayName"`
	PfpURL      *string         `json:"pfpUrl"`
	Address     persist.Address `json:"address"`
	URL         string          `json:"url"`
}

type ERC20Chain struct {
	ChainID persist.ChainID `json:"chainId"`
	CAIP    string          `json:"caip"`
}

type ERC20Reference struct {
	Type     ReferenceType   `json:"type"`
	Position Position        `json:"position"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Address  persist.Address `json:"address"`
	Decimals int             `json:"decimals"`
	LogoURI  *string         `json:"logoURI"`
	Chains   []ERC20Chain    `json:"chains"`
}

type OpenGraph struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Image       string  `json:"image"`
	URL         string  `json:"url"`
}

type WebpageReference struct {
	Type        ReferenceType `json:"type"`
	Position    Position      `json:"position"`
	URL         string        `json:"url"`
	MediaType   string        `json:"mediaType"`
	Title       string        `json:"title"`
	Description *string       `json:"description"`
	Favicon     *string       `json:"favicon"`
	OpenGraph   *OpenGraph    `json:"opengraph"`
}

// MediaReference is an image, video or other file
type MediaReference struct {
	Type      ReferenceType `json:"type"`
	Position  Position      `json:"position"`
	URL       string        `json:"url"`
	MediaType string        `json:"mediaType"`
}

type QuotedCommentReference struct {
	Type            ReferenceType   `json:"type"`
	Position        Position        `json:"position"`
	ID              string          `json:"id"`
	ChainID         persist.ChainID `json:"chainId"`
	ContractAddress persist.Address `json:"contractAddress"`
}

func (r ENSReference) ReferenceType() ReferenceType           { return ReferenceTypeENS }
func (r FarcasterReference) ReferenceType() ReferenceType     { return ReferenceTypeFarcaster }
func (r ERC20Reference) ReferenceType() ReferenceType         { return ReferenceTypeERC20 }
func (r WebpageReference) ReferenceType() ReferenceType       { return ReferenceTypeWebpage }
func (r MediaReference) ReferenceType() ReferenceType         { return r.Type }
func (r QuotedCommentReference) ReferenceType() ReferenceType { return ReferenceTypeQuotedComment }

func (r ENSReference) ReferencePosition() Position           { return r.Position }
func (r FarcasterReference) ReferencePosition() Position     { return r.Position }
func (r ERC20Reference) ReferencePosition() Position         { return r.Position }
func (r WebpageReference) ReferencePosition() Position       { return r.Position }
func (r MediaReference) ReferencePosition() Position         { return r.Position }
func (r QuotedCommentReference) ReferencePosition() Position { return r.Position }

func (r ENSReference) withPosition(p Position) Reference {
	r.Type, r.Position = ReferenceTypeENS, p
	return r
}

func (r FarcasterReference) withPosition(p Position) Reference {
	r.Type, r.Position = ReferenceTypeFarcaster, p
	return r
}

func (r ERC20Reference) withPosition(p Position) Reference {
	r.Type, r.Position = ReferenceTypeERC20, p
	return r
}

func (r WebpageReference) withPosition(p Position) Reference {
	r.Type, r.Position = ReferenceTypeWebpage, p
	return r
}

func (r MediaReference) withPosition(p Position) Reference {
	r.Position = p
	return r
}

func (r QuotedCommentReference) withPosition(p Position) Reference {
	r.Type, r.Position = ReferenceTypeQuotedComment, p
	return r
}

// NewMediaReference builds the reference for fetched content: a webpage with its scraped metadata, or an
// image, video or file
func NewMediaReference(m media.Metadata) Reference {
	switch m.Kind {
	case media.KindImage:
		return MediaReference{Type: ReferenceTypeImage, URL: m.URL, MediaType: m.MediaType}
	case media.KindVideo:
		return MediaReference{Type: ReferenceTypeVideo, URL: m.URL, MediaType: m.MediaType}
	case media.KindWebpage:
		ref := WebpageReference{Type: ReferenceTypeWebpage, URL: m.URL, MediaType: m.MediaType}
		if m.Page != nil {
			ref.Title = m.Page.Title
			ref.Description = nonEmpty(m.Page.Description)
			ref.Favicon = nonEmpty(m.Page.Favicon)
			if og := m.Page.OpenGraph; og != nil {
				ref.OpenGraph = &OpenGraph{Title: og.Title, Description: nonEmpty(og.Description), Image: og.Image, URL: og.URL}
			}
		}
		return ref
	default:
		return MediaReference{Type: ReferenceTypeFile, URL: m.URL, MediaType: m.MediaType}
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// References is a list of references ordered by position. It round trips through JSON using each
// reference's type tag.
type References []Reference

func (r References) sortByPosition() {
	sort.SliceStable(r, func(i, j int) bool {
		return r[i].ReferencePosition().Start < r[j].ReferencePosition().Start
	})
}

// At returns the reference at exactly p
func (r References) At(p Position) (Reference, bool) {
	for _, ref := range r {
		if ref.ReferencePosition() == p {
			return ref, true
		}
	}
	return nil, false
}

func (r References) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Reference(r))
}

func (r *References) UnmarshalJSON(b []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return err
	}

	refs := make(References, 0, len(raws))
	for _, raw := range raws {
		ref, err := unmarshalReference(raw)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	*r = refs
	return nil
}

func unmarshalReference(raw json.RawMessage) (Reference, error) {
	var tag struct {
		Type ReferenceType `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, err
	}

	switch tag.Type {
	case ReferenceTypeENS:
		return decodeAs[ENSReference](raw)
	case ReferenceTypeFarcaster:
		return decodeAs[FarcasterReference](raw)
	case ReferenceTypeERC20:
		return decodeAs[ERC20Reference](raw)
	case ReferenceTypeWebpage:
		return decodeAs[WebpageReference](raw)
	case ReferenceTypeImage, ReferenceTypeVideo, ReferenceTypeFile:
		return decodeAs[MediaReference](raw)
	case ReferenceTypeQuotedComment:
		return decodeAs[QuotedCommentReference](raw)
	default:
		return nil, fmt.Errorf("unknown reference type %q", tag.Type)
	}
}

func decodeAs[T Reference](raw json.RawMessage) (Reference, error) {
	var ref T
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// Result is the outcome of resolving one comment
type Result struct {
	References References               `json:"references"`
	Status     persist.ResolutionStatus `json:"status"`
	// AllResolvedPositions holds the position of every candidate that was attempted
	AllResolvedPositions []Position `json:"-"`
}

// FailedResult is returned when resolution could not run at all
func FailedResult() Result {
	return Result{References: References{}, Status: persist.ResolutionStatusFailed}
}
