package collector

import (
	"context"

	"go.uber.org/zap"
)

// Collector runs one webhook notification through parse, store and forward.
type Collector struct {
	store     *Store
	forwarder *Forwarder
	log       *zap.Logger
	metrics   *Metrics
}

func NewCollector(store *Store, forwarder *Forwarder, log *zap.Logger, metrics *Metrics) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Collector{store: store, forwarder: forwarder, log: log, metrics: metrics}
}

// Ingest parses and stores body. The returned error is a *ValidationError
// (nothing stored) or a *StorageError. Forwarding never produces an error.
func (c *Collector) Ingest(ctx context.Context, body []byte) (*Event, error) {
	ev, err := Parse(body)
	if err != nil {
		c.metrics.IngestErrors.WithLabelValues("invalid").Inc()
		return nil, err
	}
	shape := ev.Shape

	if err := c.store.Append(ctx, ev); err != nil {
		c.metrics.IngestErrors.WithLabelValues("storage").Inc()
		c.log.Error("store event", zap.Error(err), zap.String("event_type", ev.EventType))
		return nil, err
	}
	c.metrics.Ingested.WithLabelValues(string(shape)).Inc()

	fields := []zap.Field{
		zap.Uint("id", ev.ID),
		zap.String("shape", string(shape)),
		zap.String("event_type", ev.EventType),
		zap.String("user", ev.UserName),
		zap.String("board", ev.BoardName),
		zap.String("item", ev.ItemName),
	}
	if ev.CardID != nil && *ev.CardID != "" {
		fields = append(fields, zap.String("card_id", *ev.CardID))
	}
	if ev.FromList != nil && ev.ToList != nil {
		fields = append(fields, zap.String("from_list", *ev.FromList), zap.String("to_list", *ev.ToList))
	}
	if c.forwarder != nil {
		fields = append(fields, zap.Bool("forwarded", c.forwarder.Dispatch(ev)))
	}
	c.log.Info("event stored", fields...)
	return ev, nil
}

func (c *Collector) Recent(ctx context.Context, limit int) ([]Event, error) {
	return c.store.Recent(ctx, limit)
}

func (c *Collector) All(ctx context.Context) ([]Event, error) {
	return c.store.All(ctx)
}

func (c *Collector) Healthy(ctx context.Context) error {
	return c.store.Ping(ctx)
}
