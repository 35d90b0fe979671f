// Package queue feeds observed listing prices into the market snapshot
// table through a Redis Stream. Every published listing is a price
// observation; folding them in asynchronously keeps the publish path fast
// and lets observations fan in from all assistant instances.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pazarglobal/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Observation is one price data point waiting to be folded into the
// market snapshots.
type Observation struct {
	ID           string    `json:"id"`
	ProductKey   string    `json:"productKey"`
	Category     string    `json:"category"`
	Price        float64   `json:"price"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PriceQueue is a Redis Streams consumer-group queue for price
// observations.
type PriceQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type Config struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// NewPriceQueue builds the queue. Only Addr is required; everything else
// has serviceable defaults.
func NewPriceQueue(cfg Config) (*PriceQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "pazar:pricefeed"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "pricefeed"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &PriceQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// EnqueuePrice queues one observation.
func (q *PriceQueue) EnqueuePrice(ctx context.Context, productKey, category string, price float64) (Observation, error) {
	productKey = strings.ToLower(strings.TrimSpace(productKey))
	if productKey == "" {
		return Observation{}, errors.New("product key required")
	}
	if price <= 0 {
		return Observation{}, errors.New("price must be positive")
	}
	obs := Observation{
		ID:         util.NewID(),
		ProductKey: productKey,
		Category:   strings.TrimSpace(category),
		Price:      price,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := q.writeStatus(ctx, obs); err != nil {
		return Observation{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":      obs.ID,
			"product_key": obs.ProductKey,
			"category":    obs.Category,
			"price":       strconv.FormatFloat(obs.Price, 'f', -1, 64),
		},
	}).Err(); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

// GetObservation returns the tracked status of one observation.
func (q *PriceQueue) GetObservation(ctx context.Context, id string) (Observation, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Observation{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return Observation{}, false, err
	}
	if len(data) == 0 {
		return Observation{}, false, nil
	}
	return decodeObservation(id, data), true, nil
}

// Start launches consumers that run handler for every observation.
func (q *PriceQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, Observation) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *PriceQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// best-effort; errors will surface on consume
		}
	})
}

func (q *PriceQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Observation) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *PriceQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *PriceQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Observation) error) {
	obs, ok := observationFromMessage(msg)
	if !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	obs, err := q.markProcessing(ctx, obs)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, obs); err == nil {
		_ = q.markDone(ctx, obs.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	} else if obs.Attempts >= q.maxRetries {
		_ = q.markFailed(ctx, obs.ID, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	} else {
		_ = q.markQueued(ctx, obs.ID, err.Error())
	}
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, obs)
}

func observationFromMessage(msg redis.XMessage) (Observation, bool) {
	id, _ := msg.Values["job_id"].(string)
	productKey, _ := msg.Values["product_key"].(string)
	rawPrice, _ := msg.Values["price"].(string)
	price, err := strconv.ParseFloat(rawPrice, 64)
	if id == "" || productKey == "" || err != nil || price <= 0 {
		return Observation{}, false
	}
	category, _ := msg.Values["category"].(string)
	return Observation{ID: id, ProductKey: productKey, Category: category, Price: price}, true
}

func (q *PriceQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *PriceQueue) requeueAndAck(ctx context.Context, msgID string, obs Observation) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":      obs.ID,
			"product_key": obs.ProductKey,
			"category":    obs.Category,
			"price":       strconv.FormatFloat(obs.Price, 'f', -1, 64),
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *PriceQueue) markProcessing(ctx context.Context, obs Observation) (Observation, error) {
	tracked, found, err := q.GetObservation(ctx, obs.ID)
	if err != nil {
		return Observation{}, err
	}
	if found {
		obs.Attempts = tracked.Attempts
		obs.CreatedAt = tracked.CreatedAt
	}
	obs.Attempts++
	obs.Status = StatusProcessing
	obs.UpdatedAt = time.Now().UTC()
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = obs.UpdatedAt
	}
	if err := q.writeStatus(ctx, obs); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

func (q *PriceQueue) markQueued(ctx context.Context, id, errMsg string) error {
	return q.markStatus(ctx, id, StatusQueued, errMsg)
}

func (q *PriceQueue) markDone(ctx context.Context, id string) error {
	return q.markStatus(ctx, id, StatusDone, "")
}

func (q *PriceQueue) markFailed(ctx context.Context, id, errMsg string) error {
	return q.markStatus(ctx, id, StatusFailed, errMsg)
}

func (q *PriceQueue) markStatus(ctx context.Context, id, status, errMsg string) error {
	obs, _, err := q.GetObservation(ctx, id)
	if err != nil {
		return err
	}
	obs.ID = id
	obs.Status = status
	obs.ErrorMessage = errMsg
	obs.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, obs)
}

func (q *PriceQueue) writeStatus(ctx context.Context, obs Observation) error {
	key := q.jobKey(obs.ID)
	payload := map[string]any{
		"id":          obs.ID,
		"product_key": obs.ProductKey,
		"category":    obs.Category,
		"price":       strconv.FormatFloat(obs.Price, 'f', -1, 64),
		"status":      obs.Status,
		"error":       obs.ErrorMessage,
		"attempts":    strconv.Itoa(obs.Attempts),
		"created_at":  obs.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  obs.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *PriceQueue) jobKey(id string) string {
	return fmt.Sprintf("%s:job:%s", q.stream, id)
}

func decodeObservation(id string, data map[string]string) Observation {
	obs := Observation{ID: id}
	obs.ProductKey = data["product_key"]
	obs.Category = data["category"]
	if v := data["price"]; v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			obs.Price = p
		}
	}
	obs.Status = data["status"]
	obs.ErrorMessage = data["error"]
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			obs.Attempts = n
		}
	}
	if v := data["created_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			obs.CreatedAt = t
		}
	}
	if v := data["updated_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			obs.UpdatedAt = t
		}
	}
	return obs
}
