package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"shop-assist/internal/adapters/dto"
	"shop-assist/internal/core/ports"
)

var _ ports.KnowledgeBase = (*CozeKnowledgeBase)(nil)

// documentPageSize bounds one document list page
const documentPageSize = 100

// CozeKnowledgeBase keeps one product CSV document per shop in a Coze dataset
type CozeKnowledgeBase struct {
	http      *resty.Client
	tokens    ports.TokenSource
	datasetID string
	log       zerolog.Logger
}

// NewCozeKnowledgeBase creates a knowledge base adapter for datasetID
func NewCozeKnowledgeBase(baseURL, datasetID string, tokens ports.TokenSource, log zerolog.Logger) *CozeKnowledgeBase {
	return &CozeKnowledgeBase{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			// Keeps 64-bit ids as strings in responses.
			SetHeader("Agw-Js-Conv", "str").
			SetTimeout(60 * time.Second),
		tokens:    tokens,
		datasetID: datasetID,
		log:       log.With().Str("component", "knowledge-base").Logger(),
	}
}

// ProductDocumentName is the document name used for a shop's catalog
func ProductDocumentName(shopID string) string {
	return fmt.Sprintf("products-%s.csv", shopID)
}

// ReplaceProducts uploads csv as the shop's product document, deleting the
// previous version first.
func (k *CozeKnowledgeBase) ReplaceProducts(ctx context.Context, shopID string, csv []byte) error {
	if k.datasetID == "" {
		return fmt.Errorf("replace products: no dataset configured")
	}
	token, err := k.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("coze token: %w", err)
	}
	name := ProductDocumentName(shopID)

	stale, err := k.findDocuments(ctx, token, name)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		if err := k.deleteDocuments(ctx, token, stale); err != nil {
			return err
		}
		k.log.Info().Strs("document_ids", stale).Str("name", name).Msg("deleted previous product document")
	}

	var out dto.CozeBasicResponse
	resp, err := k.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(dto.CozeDocumentCreateRequest{
			DatasetID: k.datasetID,
			DocumentBases: []dto.CozeDocumentBase{{
				Name: name,
				SourceInfo: dto.CozeSourceInfo{
					FileBase64: base64.StdEncoding.EncodeToString(csv),
					FileType:   "csv",
				},
			}},
			ChunkStrategy: &dto.CozeChunkStrategy{ChunkType: 0},
		}).
		SetResult(&out).
		Post("/open_api/knowledge/document/create")
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	if err := apiError("create document", resp, out.Code, out.Msg); err != nil {
		return err
	}

	k.log.Info().Str("name", name).Int("bytes", len(csv)).Msg("product document uploaded")
	return nil
}

// findDocuments returns the ids of all documents named name.
func (k *CozeKnowledgeBase) findDocuments(ctx context.Context, token, name string) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		var out dto.CozeDocumentListResponse
		resp, err := k.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(dto.CozeDocumentListRequest{DatasetID: k.datasetID, Page: page, Size: documentPageSize}).
			SetResult(&out).
			Post("/open_api/knowledge/document/list")
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		if err := apiError("list documents", resp, out.Code, out.Msg); err != nil {
			return nil, err
		}
		for _, doc := range out.DocumentInfos {
			if doc.Name == name {
				ids = append(ids, doc.DocumentID)
			}
		}
		if len(out.DocumentInfos) < documentPageSize || page*documentPageSize >= out.Total {
			return ids, nil
		}
	}
}

func (k *CozeKnowledgeBase) deleteDocuments(ctx context.Context, token string, ids []string) error {
	var out dto.CozeBasicResponse
	resp, err := k.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(dto.CozeDocumentDeleteRequest{DocumentIDs: ids}).
		SetResult(&out).
		Post("/open_api/knowledge/document/delete")
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return apiError("delete documents", resp, out.Code, out.Msg)
}
