package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tnar/coincheck-rust/pkg/secretstore"
)

var credentialKeys = []string{"API_KEY", "SECRET_KEY"}

// env2badger 把 Coincheck API 凭证写进加密的 Badger 库
// 机器人在 API_KEY/SECRET_KEY 为空时通过 CC_SECRET_DB + CC_SECRET_KEY 读取
func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("badger", getenv("CC_SECRET_DB", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("CC_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		prefix    = flag.String("prefix", secretstore.DefaultPrefix, "key prefix inside badger")
		all       = flag.Bool("all", false, "import every key in the .env file, not only API_KEY/SECRET_KEY")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set CC_SECRET_KEY or pass -secret-key"))
	}

	kv, err := readEnv(*inPath)
	if err != nil {
		fatal(err)
	}
	entries, err := selectEntries(kv, *all)
	if err != nil {
		fatal(fmt.Errorf("%s: %w", *inPath, err))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	for _, k := range entries {
		if err := ss.SetString(*prefix+k, kv[k]); err != nil {
			fatal(err)
		}
	}
	// 回读一次，确认机器人能拿到凭证
	if _, _, err := ss.Credentials(*prefix); err != nil {
		fatal(fmt.Errorf("写入后校验失败: %w", err))
	}

	fmt.Fprintf(os.Stderr, "已导入 %d 项到 badger：%s（前缀 %s）: %s\n",
		len(entries), *dbPath, *prefix, strings.Join(entries, ", "))
}

// readEnv .env 不存在时退回进程环境变量
func readEnv(path string) (map[string]string, error) {
	kv, err := godotenv.Read(path)
	if err == nil {
		return kv, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	kv = map[string]string{}
	for _, k := range credentialKeys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			kv[k] = v
		}
	}
	return kv, nil
}

// selectEntries 返回排序后的待写入 key；凭证缺失时报错
func selectEntries(kv map[string]string, all bool) ([]string, error) {
	for _, k := range credentialKeys {
		if strings.TrimSpace(kv[k]) == "" {
			return nil, fmt.Errorf("缺少 %s", k)
		}
	}
	if !all {
		return append([]string(nil), credentialKeys...), nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
