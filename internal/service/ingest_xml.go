package service

import (
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xxxsen/quitachat/internal/model"
)

// Pre-chunked documents look like
//
//	<itens>
//	  <item>
//	    <conteudo>text</conteudo>
//	    <metadados><source>/abs/edital.pdf</source><page>3</page></metadados>
//	  </item>
//	</itens>
//
// English element names (content, metadata) are accepted too.
type xmlDocument struct {
	Items []xmlItem `xml:"item"`
}

type xmlItem struct {
	Content   string      `xml:"content"`
	Conteudo  string      `xml:"conteudo"`
	Metadata  xmlMetadata `xml:"metadata"`
	Metadados xmlMetadata `xml:"metadados"`
}

type xmlMetadata struct {
	Fields []xmlField `xml:",any"`
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// parseXMLChunks returns the non-empty items of r. Absolute source paths are
// made relative to baseDir when one is given.
func parseXMLChunks(r io.Reader, baseDir string) ([]model.Chunk, int, error) {
	var doc xmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, 0, fmt.Errorf("parse xml: %w", err)
	}
	chunks := make([]model.Chunk, 0, len(doc.Items))
	skipped := 0
	for _, item := range doc.Items {
		content := strings.TrimSpace(item.Conteudo)
		if content == "" {
			content = strings.TrimSpace(item.Content)
		}
		if content == "" {
			skipped++
			continue
		}
		meta := map[string]string{}
		for _, fields := range [][]xmlField{item.Metadata.Fields, item.Metadados.Fields} {
			for _, f := range fields {
				if v := strings.TrimSpace(f.Value); v != "" {
					meta[f.XMLName.Local] = v
				}
			}
		}
		if src, ok := meta[model.MetaSource]; ok {
			meta[model.MetaSource] = relativeSource(src, baseDir)
		}
		chunks = append(chunks, model.Chunk{Content: content, Metadata: meta})
	}
	return chunks, skipped, nil
}

func relativeSource(src, baseDir string) string {
	if baseDir == "" || !filepath.IsAbs(src) {
		return src
	}
	rel, err := filepath.Rel(baseDir, src)
	if err != nil {
		return src
	}
	return filepath.ToSlash(rel)
}
