package export

import (
	"sort"

	"github.com/Angelice80/redletters/pkg/pipeline"
	"github.com/Angelice80/redletters/pkg/sources"
)

// PackCitation pairs a pack's scholarly citation metadata with the role it
// played in producing a translation.
type PackCitation struct {
	PackID   string          `json:"pack_id"`
	Role     sources.Role    `json:"role"`
	Citation sources.Citation `json:"citation"`
}

// CitationsDocument is citations.json: the scholarly provenance behind a
// single translation response, resolvable back to the exact pack set used.
type CitationsDocument struct {
	SchemaVersion string         `json:"schema_version"`
	Reference     string         `json:"reference"`
	SpinePack     string         `json:"spine_pack"`
	Packs         []PackCitation `json:"packs"`
}

// ExportCitations writes citations.json, resolving resp.Provenance's spine
// source and lexicon packs against installed, packs sorted by pack_id for
// determinism.
func ExportCitations(resp *pipeline.TranslateResponse, installed map[string]sources.SourcePack, path string) (FileResult, error) {
	packIDs := append([]string(nil), resp.Provenance.LexiconPacks...)
	if resp.Provenance.SpineSource != "" {
		packIDs = append(packIDs, resp.Provenance.SpineSource)
	}
	sort.Strings(packIDs)

	seen := make(map[string]bool, len(packIDs))
	var cites []PackCitation
	for _, id := range packIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		pack, ok := installed[id]
		if !ok {
			continue
		}
		cites = append(cites, PackCitation{PackID: pack.PackID, Role: pack.Role, Citation: pack.Citation})
	}

	doc := CitationsDocument{
		SchemaVersion: SchemaVersion,
		Reference:     resp.Reference,
		SpinePack:     resp.Provenance.SpineSource,
		Packs:         cites,
	}
	return writeJSONDocument(path, doc)
}
