package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/AlloPay/accountd/internal/usecase"
)

const quoteKeyFmt = "accountd:quote:%s"

// CachedQuoter serves quotes from Redis, falling through to the wrapped
// quoter on a miss. Quotes are stored as exact "num/denom" ratios.
type CachedQuoter struct {
	client *redis.Client
	source usecase.PriceQuoter
	ttl    time.Duration
	log    *slog.Logger
}

// NewCachedQuoter wraps source with a Redis cache of the given TTL.
func NewCachedQuoter(client *redis.Client, source usecase.PriceQuoter, ttl time.Duration, log *slog.Logger) *CachedQuoter {
	return &CachedQuoter{
		client: client,
		source: source,
		ttl:    ttl,
		log:    log.With("component", "PriceCache"),
	}
}

// Quote returns the cached quote, refreshing it from the source when
// absent. Cache failures degrade to the source, never to an error.
func (q *CachedQuoter) Quote(ctx context.Context, token common.Address) (*big.Rat, error) {
	key := fmt.Sprintf(quoteKeyFmt, token.Hex())

	cached, err := q.client.Get(ctx, key).Result()
	if err == nil {
		if quote, ok := new(big.Rat).SetString(cached); ok {
			return quote, nil
		}
		q.log.Warn("dropping malformed cached quote", "token", token, "value", cached)
		q.client.Del(ctx, key)
	} else if err != redis.Nil {
		q.log.Warn("quote cache read failed", "token", token, "err", err)
	}

	quote, err := q.source.Quote(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := q.client.Set(ctx, key, quote.RatString(), q.ttl).Err(); err != nil {
		q.log.Warn("quote cache write failed", "token", token, "err", err)
	}
	return quote, nil
}

// Invalidate drops the cached quote for the token.
func (q *CachedQuoter) Invalidate(ctx context.Context, token common.Address) error {
	return q.client.Del(ctx, fmt.Sprintf(quoteKeyFmt, token.Hex())).Err()
}
