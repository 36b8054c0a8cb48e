package util

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

func TimePtr(t time.Time) *time.Time {
	return &t
}

func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

type Secrets struct {
	CoinGeckoKey string `json:"coingecko"`
}

func LoadSecrets(path string) (*Secrets, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	secrets := Secrets{}
	err = json.Unmarshal(f, &secrets)
	if err != nil {
		return nil, err
	}

	return &secrets, nil
}

// MaskKey keeps enough of a credential to tell two apart in logs
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
