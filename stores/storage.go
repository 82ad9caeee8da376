package stores

import (
	"os"
	"paste-server/core"
	"paste-server/stores/filesystem"
	"paste-server/stores/memory"
	"paste-server/stores/postgres"
	"paste-server/stores/redis"
	"paste-server/stores/s3"
	"paste-server/stores/sqlite"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func GetStore() core.DocumentStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.DocumentStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		storageField["basePath"] = basePath
		store = filesystem.NewDocumentStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewDocumentStore(dataSourceName)
	case "redis":
		addr := os.Getenv("REDIS_ADDR")
		db, err := strconv.Atoi(os.Getenv("REDIS_DB"))
		if err != nil {
			db = 0
		}
		storageField["redisAddr"] = addr
		storageField["redisDB"] = db
		store = redis.NewDocumentStore(goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
		}))
	case "s3":
		bucket := os.Getenv("S3_BUCKET_NAME")
		storageField["bucket"] = bucket
		store = s3.NewDocumentStore(bucket)
	case "postgres":
		store = postgres.NewDocumentStore(os.Getenv("DATABASE_URL"))
	default:
		store = memory.NewDocumentStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
