package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/session"
	"github.com/betbot/circuitbot/pkg/secretstore"
)

func main() {
	_ = godotenv.Load()

	var (
		inPath    = flag.String("in", "", "会话材料 JSON 文件（{accountKey: material}）")
		credsPath = flag.String("credentials", "", "可选：登录凭据 JSON 文件（{accountId: {username, password}}）")
		dbPath    = flag.String("badger", getenv("CIRCUITBOT_SECRET_DB", "data/secrets"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("CIRCUITBOT_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		list      = flag.Bool("list", false, "只列出已导入的账户键")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      *list,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()
	store := session.NewSecretStore(ss)

	if *list {
		keys, err := store.Keys()
		if err != nil {
			fatal(err)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Println(k)
		}
		return
	}

	if *inPath == "" && *credsPath == "" {
		fatal(fmt.Errorf("nothing to import: pass -in and/or -credentials"))
	}

	if *inPath != "" {
		materials, err := session.LoadMaterialFile(*inPath)
		if err != nil {
			fatal(err)
		}
		now := time.Now()
		for key, m := range materials {
			if m.UpdatedAt.IsZero() {
				m.UpdatedAt = now
			}
			if err := store.SaveMaterial(key, m); err != nil {
				fatal(err)
			}
			fmt.Fprintf(os.Stderr, "  %s: tms=%v ats=%v securities=%d\n", key,
				m.Authenticated(domain.VenueTMS), m.Authenticated(domain.VenueATS), len(m.Securities))
		}
		fmt.Fprintf(os.Stderr, "已导入 %d 个会话到 badger：%s\n", len(materials), *dbPath)
	}

	if *credsPath != "" {
		b, err := os.ReadFile(*credsPath)
		if err != nil {
			fatal(err)
		}
		creds := map[string]domain.Credentials{}
		if err := json.Unmarshal(b, &creds); err != nil {
			fatal(fmt.Errorf("解析凭据文件失败: %w", err))
		}
		for id, c := range creds {
			if err := store.SaveCredentials(id, c); err != nil {
				fatal(err)
			}
		}
		fmt.Fprintf(os.Stderr, "已导入 %d 个账户凭据\n", len(creds))
	}
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
