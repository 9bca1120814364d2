package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var persistLog = logrus.WithField("component", "persistence")

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// Store 存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

var (
	// ErrNotExists 表示数据不存在
	ErrNotExists = errors.New("persistence data not exists")
	// ErrKeyMismatch 文件名安全化后撞上了另一个 key 的文件
	ErrKeyMismatch = errors.New("persistence key mismatch")
)

const envelopeVersion = 1

// envelope 落盘格式：数据外面包一层 key/版本/时间
type envelope struct {
	Key     string          `json:"key"`
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// JSONFileService 基于 JSON 文件的持久化服务
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

// NewStore key 形如 "<prefix>:<id>:<tag>"
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &JSONFileStore{
		dir: s.baseDir,
		key: fmt.Sprintf("%s:%s:%s", prefix, id, tag),
	}
}

// JSONFileStore 一个 key 对应一个文件
// 写入先落临时文件并 fsync，再 rename 覆盖，进程中途被杀也不会留下半个文件
type JSONFileStore struct {
	dir string
	key string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Path 数据文件路径
func (s *JSONFileStore) Path() string {
	return filepath.Join(s.dir, keySanitizer.ReplaceAllString(s.key, "_")+".json")
}

func (s *JSONFileStore) Save(data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "encode %s", s.key)
	}
	b, err := json.MarshalIndent(envelope{
		Key:     s.key,
		Version: envelopeVersion,
		SavedAt: time.Now(),
		Data:    raw,
	}, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", s.key)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// rename 成功后文件已不存在，这里只清理失败路径
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		return err
	}
	persistLog.Debugf("已保存 %s (%d bytes)", s.key, len(b))
	return nil
}

// Load 文件不存在、为空或数据为 null 时返回 ErrNotExists
func (s *JSONFileStore) Load(data interface{}) error {
	b, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return errors.Wrapf(err, "decode %s", s.Path())
	}
	if env.Key != s.key {
		return errors.Wrapf(ErrKeyMismatch, "want %s, file has %s", s.key, env.Key)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrNotExists
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return errors.Wrapf(err, "decode %s", s.key)
	}
	persistLog.Debugf("已读取 %s（保存于 %s）", s.key, env.SavedAt.Format(time.RFC3339))
	return nil
}
