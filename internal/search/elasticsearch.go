// Package search indexes order audit entries into Elasticsearch so support
// staff can trace what happened to a payment. Indexing is best effort and
// never blocks or fails the reconciliation path.
package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/payments/config"
	"example.com/storefront/services/payments/internal/models"
)

// AuditIndexer records order history entries in a searchable index.
type AuditIndexer interface {
	IndexOrderHistory(ctx context.Context, order *models.Order, entry *models.OrderHistory) error
}

// ElasticIndexer implements AuditIndexer against Elasticsearch.
type ElasticIndexer struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticIndexer creates a new Elasticsearch audit indexer, or nil when
// the integration is disabled.
func NewElasticIndexer(cfg config.ElasticConfig) (AuditIndexer, error) {
	if !cfg.Enabled {
		return noopIndexer{}, nil
	}

	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticIndexer{
		client: client,
		config: cfg,
	}, nil
}

// IndexOrderHistory indexes one audit entry keyed by its history id, so a
// re-index of the same entry overwrites rather than duplicates.
func (c *ElasticIndexer) IndexOrderHistory(ctx context.Context, order *models.Order, entry *models.OrderHistory) error {
	doc := map[string]interface{}{
		"order_id":   order.ID.String(),
		"currency":   order.Currency,
		"amount":     order.Amount,
		"status":     entry.Status,
		"comment":    entry.Comment,
		"actor":      entry.Actor,
		"created_at": entry.CreatedAt,
	}
	if order.GatewayOrderID != nil {
		doc["gateway_order_id"] = *order.GatewayOrderID
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit document")
	}

	req := esapi.IndexRequest{
		Index:      c.config.Prefix + "-" + c.config.Index,
		DocumentID: entry.ID.String(),
		Body:       bytes.NewReader(docJSON),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute audit index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().
		Str("order_id", order.ID.String()).
		Str("entry_id", entry.ID.String()).
		Msg("Order history entry indexed")
	return nil
}

type noopIndexer struct{}

func (noopIndexer) IndexOrderHistory(context.Context, *models.Order, *models.OrderHistory) error {
	return nil
}
