// keystore 把 solana-keygen 密钥文件导入加密的 badger 密钥库，供 keeper 读取付款人密钥。
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/liqprotocol/zo-keeper/pkg/secretstore"
)

func main() {
	var (
		inPath    = flag.String("in", "", "solana-keygen 密钥文件（JSON 数组）")
		dbPath    = flag.String("badger", getenv("SECRET_STORE_PATH", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("SECRET_STORE_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		name      = flag.String("name", getenv("SECRET_STORE_KEY_NAME", "payer"), "key name inside badger")
		show      = flag.Bool("show", false, "只打印已保存密钥的公钥")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set SECRET_STORE_KEY or pass -secret-key"))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      *show,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	if *show {
		kp, err := ss.LoadKeypair(*name)
		if err != nil {
			fatal(err)
		}
		fmt.Println(kp.PublicKey().String())
		return
	}

	if strings.TrimSpace(*inPath) == "" {
		fatal(fmt.Errorf("-in is required"))
	}
	kp, err := solana.PrivateKeyFromSolanaKeygenFile(*inPath)
	if err != nil {
		fatal(err)
	}
	if err := ss.StoreKeypair(*name, kp); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已导入 %s 到 badger：%s（名称 %s）\n", kp.PublicKey(), *dbPath, *name)
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
