package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Update lists every field that may change at runtime. Nil fields are left as is.
type Update struct {
	DropPercentage       *decimal.Decimal `json:"dropPercentage,omitempty"`
	CheckIntervalSeconds *int             `json:"checkInterval,omitempty"`
	SlippageTolerance    *decimal.Decimal `json:"slippageTolerance,omitempty"`
	RPCURL               *string          `json:"rpcUrl,omitempty"`
	PrivateKey           *string          `json:"privateKey,omitempty"`
	Assets               []AssetUpdate    `json:"pairs,omitempty"`
}

// AssetUpdate changes one configured asset, matched by id.
type AssetUpdate struct {
	ID             string           `json:"id"`
	PurchaseAmount *decimal.Decimal `json:"purchaseAmount,omitempty"`
	MaxPurchases   *int             `json:"maxPurchases,omitempty"`
	DropPercentage *decimal.Decimal `json:"dropPercentage,omitempty"`
	FeeTier        *uint32          `json:"feeTier,omitempty"`
	Enabled        *bool            `json:"enabled,omitempty"`
}

// Apply returns a new validated config with u applied. c is not modified.
func (c Config) Apply(u Update) (Config, error) {
	out := c.clone()

	if u.DropPercentage != nil {
		out.DropPercentage = *u.DropPercentage
	}
	if u.CheckIntervalSeconds != nil {
		out.CheckInterval = time.Duration(*u.CheckIntervalSeconds) * time.Second
	}
	if u.SlippageTolerance != nil {
		out.SlippageTolerance = *u.SlippageTolerance
	}
	if u.RPCURL != nil {
		out.Chain.RPCURL = *u.RPCURL
	}
	if u.PrivateKey != nil {
		out.Chain.PrivateKey = *u.PrivateKey
	}

	for _, au := range u.Assets {
		idx := -1
		for i := range out.Assets {
			if out.Assets[i].ID == au.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Config{}, fmt.Errorf("unknown asset %q", au.ID)
		}

		a := &out.Assets[idx]
		if au.PurchaseAmount != nil {
			a.PurchaseAmount = *au.PurchaseAmount
			// an explicit amount wins over the env lookup from now on
			a.PurchaseAmountEnv = ""
		}
		if au.MaxPurchases != nil {
			a.MaxPurchases = *au.MaxPurchases
		}
		if au.DropPercentage != nil {
			drop := *au.DropPercentage
			a.DropPercentage = &drop
		}
		if au.FeeTier != nil {
			a.FeeTier = *au.FeeTier
		}
		if au.Enabled != nil {
			a.Enabled = *au.Enabled
		}
	}

	if err := out.Validate(); err != nil {
		return Config{}, err
	}

	return out, nil
}

// ToTmp converts the config back into its YAML form. Secrets are omitted;
// they belong in the environment.
func (c Config) ToTmp() ConfigTmp {
	out := ConfigTmp{
		Mode: c.Mode,
		Chain: ChainTmp{
			Router:             c.Chain.Router.Hex(),
			Quoter:             c.Chain.Quoter.Hex(),
			Stablecoin:         c.Chain.Stablecoin.Token.Hex(),
			StablecoinSymbol:   c.Chain.Stablecoin.Symbol,
			StablecoinDecimals: strconv.Itoa(int(c.Chain.Stablecoin.Decimals)),
		},
		DropPercentage:    c.DropPercentage.String(),
		CheckInterval:     c.CheckInterval,
		SlippageTolerance: c.SlippageTolerance.String(),
		Store:             StoreConfigTmp{Backend: c.Store.Backend, Path: c.Store.Path},
		Server: ServerConfigTmp{
			Listen:      c.Server.Listen,
			TLSDomains:  c.Server.TLSDomains,
			TLSCacheDir: c.Server.TLSCacheDir,
		},
		Log: LogConfigTmp{
			Level:      c.Log.Level,
			Dir:        c.Log.Dir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
		},
		Simulate: SimulateConfigTmp{StableBalance: c.Simulate.StableBalance.String()},
	}
	if c.Telegram.ChatID != 0 {
		out.Telegram.ChatID = strconv.FormatInt(c.Telegram.ChatID, 10)
	}
	if len(c.Simulate.Prices) > 0 {
		out.Simulate.Prices = make(map[string]string, len(c.Simulate.Prices))
		for id, p := range c.Simulate.Prices {
			out.Simulate.Prices[id] = p.String()
		}
	}

	for _, a := range c.Assets {
		enabled := a.Enabled
		tmp := AssetTmp{
			ID:                a.ID,
			Symbol:            a.Symbol,
			Token:             a.Token.Hex(),
			Decimals:          strconv.Itoa(int(a.Decimals)),
			PurchaseAmount:    a.PurchaseAmount.String(),
			PurchaseAmountEnv: a.PurchaseAmountEnv,
			MaxPurchases:      strconv.Itoa(a.MaxPurchases),
			FeeTier:           strconv.FormatUint(uint64(a.FeeTier), 10),
			Enabled:           &enabled,
		}
		if a.DropPercentage != nil {
			tmp.DropPercentage = a.DropPercentage.String()
		}
		out.Assets = append(out.Assets, tmp)
	}

	return out
}

// Save writes the config as YAML, atomically via temp file.
func Save(path string, c Config) error {
	payload, err := yaml.Marshal(c.ToTmp())
	if err != nil {
		return errors.Wrap(err, "encode config")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create config dir")
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return errors.Wrap(err, "write config temp file")
	}

	return errors.Wrap(os.Rename(tmp, path), "persist config")
}
