package utils

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/remitmatch/cashapp-agent/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

// GetTypeName returns the bare struct name of T, used to namespace cache keys.
func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

// StoreRedis stores a single keyed instance with the package's default cache lifespan.
func StoreRedis[T any](obj any, id string) error {
	key := GetTypeName[T]() + ":" + id
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// RetrieveRedis returns nil if the key does not exist.
func RetrieveRedis[T any](id string) (*T, error) {
	var result *T
	key := GetTypeName[T]() + ":" + id
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

func RemoveRedisItem[T any](id string) error {
	key := GetTypeName[T]() + ":" + id
	return config.RemoveRedisKey(key)
}

func CacheKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

func FormatInt(n int) string {
	return fmt.Sprintf("%d", n)
}
