package redis

import (
	"fmt"
	"strings"

	rd "github.com/go-redis/redis/v9"
	"github.com/spaolacci/murmur3"
)

type Config struct {
	Addrs      []string
	Namespace  string
	Partitions int
}

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
	partitions  int
}

func newBaseDao(conf Config) *baseDao {
	redisClient := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs: conf.Addrs,
	})
	partitions := conf.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	return &baseDao{
		redisClient: redisClient,
		namespace:   conf.Namespace,
		partitions:  partitions,
	}
}

func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bs.namespace, strings.Join(args, ":"))
}

// getPartition pins all messages of one workflow id to one partition,
// preserving their order relative to each other.
func (bs *baseDao) getPartition(workflowId string) int {
	return int(murmur3.Sum32([]byte(workflowId)) % uint32(bs.partitions))
}
