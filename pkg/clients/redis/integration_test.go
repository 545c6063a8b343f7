//go:build integration

// Integration tests against a Redis container. Run with:
//
//	go test -v -race -tags=integration ./pkg/clients/redis/...
package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/stricklysoft-trust/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-trust/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
	"github.com/StricklySoft/stricklysoft-trust/pkg/webhook"
)

type RedisIntegrationSuite struct {
	suite.Suite

	ctx    context.Context
	result *containers.RedisResult
	client *redis.Client
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartRedis(s.ctx)
	require.NoError(s.T(), err, "failed to start Redis container")
	s.result = result

	client, err := redis.NewClient(s.ctx, redis.Config{URI: result.ConnString})
	require.NoError(s.T(), err, "failed to connect to Redis")
	s.client = client
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.result != nil {
		_ = s.result.Container.Terminate(s.ctx)
	}
}

func TestRedisIntegration(t *testing.T) {
	suite.Run(t, new(RedisIntegrationSuite))
}

func (s *RedisIntegrationSuite) TestHealth() {
	s.Require().NoError(s.client.Health(s.ctx))
}

func (s *RedisIntegrationSuite) TestSetNX_ExpiresAfterTTL() {
	key := "it:setnx:" + uuid.NewString()

	ok, err := s.client.SetNX(s.ctx, key, "first", time.Second)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.client.SetNX(s.ctx, key, "second", time.Second)
	s.Require().NoError(err)
	s.False(ok)

	s.Eventually(func() bool {
		ok, err := s.client.SetNX(s.ctx, key, "third", time.Second)
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond, "key must be claimable again once the TTL lapses")
}

func (s *RedisIntegrationSuite) TestReceiptStore_ExactlyOneWinner() {
	store := webhook.NewRedisStore(s.client, "it:"+uuid.NewString()+":", time.Minute)
	nonce := uuid.NewString()

	var (
		mu       sync.Mutex
		inserted int
		wg       sync.WaitGroup
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Record(s.ctx, webhook.Receipt{
				ID: uuid.New(), Source: "crm", Nonce: nonce, ReceivedAt: time.Now().UTC(),
			})
			s.NoError(err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, inserted)
}

func (s *RedisIntegrationSuite) TestClosedClientFails() {
	c, err := redis.NewClient(s.ctx, redis.Config{URI: s.result.ConnString})
	s.Require().NoError(err)
	s.Require().NoError(c.Close())

	_, err = c.SetNX(s.ctx, "it:closed", "v", 0)
	s.Require().Error(err)
	s.Equal(sserr.CodeInternalDatabase, sserr.GetCode(err))
}
