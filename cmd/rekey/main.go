// Command rekey rotates the Token Cryptor's key file: every stored
// access/refresh/id token is decrypted with the old key and re-encrypted
// with a new one, in a single pass over the account store.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/ssh352/codex-lb-sub001/internal/config"
	"github.com/ssh352/codex-lb-sub001/internal/pkg/cryptor"
	"github.com/ssh352/codex-lb-sub001/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to env/viper search path)")
	newKeyFile := flag.String("new-key-file", "", "path to the new key file (generated if it does not exist)")
	flag.Parse()

	if *newKeyFile == "" {
		log.Fatalf("rekey: -new-key-file is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("rekey: load config: %v", err)
	}

	if err := run(cfg, *newKeyFile); err != nil {
		log.Fatalf("rekey: %v", err)
	}
}

func run(cfg *config.Config, newKeyFile string) error {
	oldCryptor, err := cryptor.New(cfg.Balancer.EncryptionKeyFile)
	if err != nil {
		return err
	}
	newCryptor, err := cryptor.New(newKeyFile)
	if err != nil {
		return err
	}

	db, err := repository.OpenDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := repository.NewAccountStore(db, cfg.Database.Driver)

	ctx := context.Background()
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		encAccess, err := reencrypt(oldCryptor, newCryptor, account.EncAccessToken)
		if err != nil {
			log.Printf("rekey: account %d: access token: %v", account.ID, err)
			continue
		}
		encRefresh, err := reencrypt(oldCryptor, newCryptor, account.EncRefreshToken)
		if err != nil {
			log.Printf("rekey: account %d: refresh token: %v", account.ID, err)
			continue
		}
		encID, err := reencrypt(oldCryptor, newCryptor, account.EncIDToken)
		if err != nil {
			log.Printf("rekey: account %d: id token: %v", account.ID, err)
			continue
		}

		if err := store.UpdateTokens(ctx, account.ID, encAccess, encRefresh, encID, account.LastRefresh, account.PlanType, account.Email, account.ChatGPTAccountID); err != nil {
			log.Printf("rekey: account %d: write: %v", account.ID, err)
			continue
		}
		log.Printf("rekey: account %d: re-encrypted", account.ID)
	}

	log.Printf("rekey: done, %d accounts processed; point balancer.encryption_key_file at %s and restart the server", len(accounts), newKeyFile)
	return nil
}

// reencrypt decrypts with the old key and encrypts with the new one. An
// empty ciphertext (no token stored yet) passes through unchanged.
func reencrypt(oldCryptor, newCryptor *cryptor.Cryptor, enc []byte) ([]byte, error) {
	if len(enc) == 0 {
		return enc, nil
	}
	plaintext, err := oldCryptor.Decrypt(enc)
	if err != nil {
		return nil, err
	}
	return newCryptor.Encrypt(plaintext)
}
