// Package journal 把每条链上的部署尝试记录到 BoltDB。
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"ddp/pkg/models"
)

const (
	// DefaultDBPath 默认数据库路径
	DefaultDBPath = "./data/deployments.db"

	// DeploymentsBucket 存储桶名称
	DeploymentsBucket = "deployments"
)

// Journal 部署记录管理器
type Journal struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.Mutex
}

// Open 打开或创建部署记录数据库
func Open(dbPath string, logger *logrus.Logger) (*Journal, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开部署记录数据库失败: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(DeploymentsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Debugf("部署记录已打开，数据库路径: %s", dbPath)
	return &Journal{db: db, logger: logger, dbPath: dbPath}, nil
}

// recordKey 记录键：chainId/sender
func recordKey(chainID uint64, sender string) []byte {
	return []byte(fmt.Sprintf("%020d/%s", chainID, strings.ToLower(common.HexToAddress(sender).Hex())))
}

// Record 写入或更新一条记录，保留首次创建时间
func (j *Journal) Record(record *models.DeploymentRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(DeploymentsBucket))
		if bucket == nil {
			return fmt.Errorf("部署记录存储桶不存在")
		}

		key := recordKey(record.ChainID, record.Sender)
		now := time.Now().UTC()

		if existing := bucket.Get(key); existing != nil {
			var prev models.DeploymentRecord
			if err := json.Unmarshal(existing, &prev); err == nil && !prev.CreatedAt.IsZero() {
				record.CreatedAt = prev.CreatedAt
			}
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		record.UpdatedAt = now

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("序列化部署记录失败: %w", err)
		}
		return bucket.Put(key, data)
	})
}

// Get 读取一条记录，不存在时返回 nil
func (j *Journal) Get(chainID uint64, sender common.Address) (*models.DeploymentRecord, error) {
	var record *models.DeploymentRecord

	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(DeploymentsBucket))
		if bucket == nil {
			return nil
		}
		data := bucket.Get(recordKey(chainID, sender.Hex()))
		if data == nil {
			return nil
		}
		record = &models.DeploymentRecord{}
		return json.Unmarshal(data, record)
	})
	if err != nil {
		return nil, fmt.Errorf("读取部署记录失败: %w", err)
	}
	return record, nil
}

// List 按链ID排序列出所有记录
func (j *Journal) List() ([]*models.DeploymentRecord, error) {
	records := make([]*models.DeploymentRecord, 0)

	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(DeploymentsBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var record models.DeploymentRecord
			if err := json.Unmarshal(v, &record); err != nil {
				j.logger.Warnf("跳过无法解析的部署记录 %s: %v", string(k), err)
				return nil
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("列出部署记录失败: %w", err)
	}

	sort.SliceStable(records, func(a, b int) bool {
		return records[a].ChainID < records[b].ChainID
	})
	return records, nil
}

// Reset 清空所有记录
func (j *Journal) Reset() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(DeploymentsBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(DeploymentsBucket))
		return err
	})
}

// Path 数据库路径
func (j *Journal) Path() string {
	return j.dbPath
}

// Close 关闭数据库
func (j *Journal) Close() error {
	return j.db.Close()
}
