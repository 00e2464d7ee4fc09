package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	rd "github.com/go-redis/redis/v9"
)

const DEFAULT_DIAL_TIMEOUT = 5 * time.Second

// Config is shared by the stores and the rate limiter. Addrs with more than
// one entry selects a cluster client.
type Config struct {
	Addrs       []string
	Namespace   string
	PoolSize    int
	Password    string
	DialTimeout time.Duration
}

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

// NewClient builds the client shared by the stores and the rate limiter.
func NewClient(conf Config) rd.UniversalClient {
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = DEFAULT_DIAL_TIMEOUT
	}
	return rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:       conf.Addrs,
		Password:    conf.Password,
		PoolSize:    conf.PoolSize,
		DialTimeout: conf.DialTimeout,
	})
}

func newBaseDao(redisClient rd.UniversalClient, namespace string) *baseDao {
	return &baseDao{
		redisClient: redisClient,
		namespace:   namespace,
	}
}

func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bs.namespace, strings.Join(args, ":"))
}

func (bs *baseDao) Ping(ctx context.Context) error {
	return bs.redisClient.Ping(ctx).Err()
}
