package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	ModeLive     = "live"
	ModeSimulate = "simulate"

	defaultDropPercentage    = 2
	defaultCheckInterval     = 60 * time.Second
	defaultSlippageTolerance = 1
	defaultFeeTier           = 3000
	defaultMaxPurchases      = 10
	defaultListen            = ":3000"
	defaultStoreBackend      = "file"
	defaultStorePath         = "./data/bot-state.json"
	defaultLogLevel          = "info"
	defaultLogDir            = "./logs"
	defaultSimulateBalance   = "10000"

	// Arbitrum One deployments.
	defaultRouter     = "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45"
	defaultQuoter     = "0x61fFE014bA17989E743c5F6cB21bF9697530B21e"
	defaultStablecoin = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
)

const (
	EnvRPCURL         = "ARBITRUM_RPC_URL"
	EnvPrivateKey     = "PRIVATE_KEY"
	EnvTelegramToken  = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
	EnvListenAddr     = "LISTEN_ADDR"
)

// Config is the validated bot configuration. It is treated as immutable;
// changes go through Apply.
type Config struct {
	Mode              string
	Chain             ChainConfig
	DropPercentage    decimal.Decimal
	CheckInterval     time.Duration
	SlippageTolerance decimal.Decimal
	Assets            []AssetConfig
	Store             StoreConfig
	Server            ServerConfig
	Log               LogConfig
	Telegram          TelegramConfig
	Simulate          SimulateConfig
}

type ChainConfig struct {
	RPCURL     string
	PrivateKey string
	Router     common.Address
	Quoter     common.Address
	Stablecoin domain.Stablecoin
}

type AssetConfig struct {
	ID                string
	Symbol            string
	Token             common.Address
	Decimals          uint8
	PurchaseAmount    decimal.Decimal
	PurchaseAmountEnv string
	MaxPurchases      int
	// DropPercentage overrides the global threshold when set.
	DropPercentage *decimal.Decimal
	FeeTier        uint32
	Enabled        bool
}

type StoreConfig struct {
	Backend string
	Path    string
}

type ServerConfig struct {
	Listen string
	// TLSDomains enables ACME certificates for the listed hosts.
	TLSDomains  []string
	TLSCacheDir string
}

type LogConfig struct {
	Level      string
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// SimulateConfig seeds the in-memory exchange used in simulate mode.
type SimulateConfig struct {
	StableBalance decimal.Decimal
	// Prices maps asset id to its stablecoin price.
	Prices map[string]decimal.Decimal
}

// ConfigTmp is the raw YAML representation.
type ConfigTmp struct {
	Mode              string            `yaml:"mode,omitempty"`
	Chain             ChainTmp          `yaml:"chain"`
	DropPercentage    string            `yaml:"drop_percentage,omitempty"`
	CheckInterval     time.Duration     `yaml:"check_interval,omitempty"`
	SlippageTolerance string            `yaml:"slippage_tolerance,omitempty"`
	Assets            []AssetTmp        `yaml:"assets,omitempty"`
	Store             StoreConfigTmp    `yaml:"store,omitempty"`
	Server            ServerConfigTmp   `yaml:"server,omitempty"`
	Log               LogConfigTmp      `yaml:"log,omitempty"`
	Telegram          TelegramTmp       `yaml:"telegram,omitempty"`
	Simulate          SimulateConfigTmp `yaml:"simulate,omitempty"`
}

type ChainTmp struct {
	RPCURL             string `yaml:"rpc_url,omitempty"`
	PrivateKey         string `yaml:"private_key,omitempty"`
	Router             string `yaml:"router,omitempty"`
	Quoter             string `yaml:"quoter,omitempty"`
	Stablecoin         string `yaml:"stablecoin,omitempty"`
	StablecoinSymbol   string `yaml:"stablecoin_symbol,omitempty"`
	StablecoinDecimals string `yaml:"stablecoin_decimals,omitempty"`
}

type AssetTmp struct {
	ID                string `yaml:"id"`
	Symbol            string `yaml:"symbol,omitempty"`
	Token             string `yaml:"token"`
	Decimals          string `yaml:"decimals"`
	PurchaseAmount    string `yaml:"purchase_amount,omitempty"`
	PurchaseAmountEnv string `yaml:"purchase_amount_env,omitempty"`
	MaxPurchases      string `yaml:"max_purchases,omitempty"`
	DropPercentage    string `yaml:"drop_percentage,omitempty"`
	FeeTier           string `yaml:"fee_tier,omitempty"`
	Enabled           *bool  `yaml:"enabled,omitempty"`
}

type StoreConfigTmp struct {
	Backend string `yaml:"backend,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

type ServerConfigTmp struct {
	Listen      string   `yaml:"listen,omitempty"`
	TLSDomains  []string `yaml:"tls_domains,omitempty"`
	TLSCacheDir string   `yaml:"tls_cache_dir,omitempty"`
}

type LogConfigTmp struct {
	Level      string `yaml:"level,omitempty"`
	Dir        string `yaml:"dir,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

type TelegramTmp struct {
	Token  string `yaml:"token,omitempty"`
	ChatID string `yaml:"chat_id,omitempty"`
}

type SimulateConfigTmp struct {
	StableBalance string            `yaml:"stable_balance,omitempty"`
	Prices        map[string]string `yaml:"prices,omitempty"`
}

// Load reads the YAML file at path and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	var raw ConfigTmp
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, err
		}
		if err == nil {
			if err := yaml.Unmarshal(f, &raw); err != nil {
				return Config{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
			}
		}
	}

	cfg, err := fromTmp(raw)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func fromTmp(c ConfigTmp) (Config, error) {
	cfg := Config{
		Mode:          strings.ToLower(strings.TrimSpace(c.Mode)),
		CheckInterval: c.CheckInterval,
		Store:         StoreConfig{Backend: c.Store.Backend, Path: c.Store.Path},
		Server: ServerConfig{
			Listen:      envOr(EnvListenAddr, c.Server.Listen),
			TLSDomains:  c.Server.TLSDomains,
			TLSCacheDir: c.Server.TLSCacheDir,
		},
		Log: LogConfig{
			Level:      c.Log.Level,
			Dir:        c.Log.Dir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
		},
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeLive
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaultStoreBackend
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultListen
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = defaultLogDir
	}

	var err error
	if cfg.DropPercentage, err = decimalOr(c.DropPercentage, defaultDropPercentage); err != nil {
		return Config{}, fmt.Errorf("incorrect 'drop_percentage' param in yaml config (must be a decimal), error: %w", err)
	}
	if cfg.SlippageTolerance, err = decimalOr(c.SlippageTolerance, defaultSlippageTolerance); err != nil {
		return Config{}, fmt.Errorf("incorrect 'slippage_tolerance' param in yaml config (must be a decimal), error: %w", err)
	}

	if cfg.Chain, err = chainFromTmp(c.Chain); err != nil {
		return Config{}, err
	}

	if cfg.Telegram, err = telegramFromTmp(c.Telegram); err != nil {
		return Config{}, err
	}

	if cfg.Simulate, err = simulateFromTmp(c.Simulate); err != nil {
		return Config{}, err
	}

	assets := c.Assets
	if len(assets) == 0 {
		assets = DefaultAssets()
	}
	for _, a := range assets {
		asset, err := assetFromTmp(a)
		if err != nil {
			return Config{}, err
		}
		cfg.Assets = append(cfg.Assets, asset)
	}

	return cfg, nil
}

func chainFromTmp(c ChainTmp) (ChainConfig, error) {
	chain := ChainConfig{
		RPCURL:     envOr(EnvRPCURL, c.RPCURL),
		PrivateKey: envOr(EnvPrivateKey, c.PrivateKey),
	}

	var err error
	if chain.Router, err = addressOr(c.Router, defaultRouter); err != nil {
		return ChainConfig{}, fmt.Errorf("incorrect 'chain.router' param in yaml config: %w", err)
	}
	if chain.Quoter, err = addressOr(c.Quoter, defaultQuoter); err != nil {
		return ChainConfig{}, fmt.Errorf("incorrect 'chain.quoter' param in yaml config: %w", err)
	}
	stableToken, err := addressOr(c.Stablecoin, defaultStablecoin)
	if err != nil {
		return ChainConfig{}, fmt.Errorf("incorrect 'chain.stablecoin' param in yaml config: %w", err)
	}

	decimals := uint64(6)
	if c.StablecoinDecimals != "" {
		decimals, err = strconv.ParseUint(c.StablecoinDecimals, 10, 8)
		if err != nil || decimals > domain.PriceDecimals {
			return ChainConfig{}, fmt.Errorf("incorrect 'chain.stablecoin_decimals' param in yaml config: %s", c.StablecoinDecimals)
		}
	}
	symbol := c.StablecoinSymbol
	if symbol == "" {
		symbol = "USDC"
	}
	chain.Stablecoin = domain.Stablecoin{Symbol: symbol, Token: stableToken, Decimals: uint8(decimals)}

	return chain, nil
}

func assetFromTmp(a AssetTmp) (AssetConfig, error) {
	asset := AssetConfig{
		ID:                strings.TrimSpace(a.ID),
		Symbol:            a.Symbol,
		PurchaseAmountEnv: a.PurchaseAmountEnv,
		Enabled:           a.Enabled == nil || *a.Enabled,
	}
	if asset.ID == "" {
		return AssetConfig{}, fmt.Errorf("asset without 'id' in yaml config")
	}
	if asset.Symbol == "" {
		asset.Symbol = asset.ID
	}
	if !common.IsHexAddress(a.Token) {
		return AssetConfig{}, fmt.Errorf("incorrect 'token' param for asset %s: %q", asset.ID, a.Token)
	}
	asset.Token = common.HexToAddress(a.Token)

	decimals, err := strconv.ParseUint(a.Decimals, 10, 8)
	if err != nil {
		return AssetConfig{}, fmt.Errorf("incorrect 'decimals' param for asset %s (must be an integer), error: %w", asset.ID, err)
	}
	asset.Decimals = uint8(decimals)

	amount := a.PurchaseAmount
	if a.PurchaseAmountEnv != "" {
		if v := os.Getenv(a.PurchaseAmountEnv); v != "" {
			amount = v
		}
	}
	if amount == "" {
		return AssetConfig{}, fmt.Errorf("asset %s: 'purchase_amount' or a set 'purchase_amount_env' is required", asset.ID)
	}
	if asset.PurchaseAmount, err = decimal.NewFromString(amount); err != nil {
		return AssetConfig{}, fmt.Errorf("incorrect 'purchase_amount' param for asset %s (must be a decimal), error: %w", asset.ID, err)
	}

	if a.MaxPurchases == "" {
		asset.MaxPurchases = defaultMaxPurchases
	} else if asset.MaxPurchases, err = strconv.Atoi(a.MaxPurchases); err != nil {
		return AssetConfig{}, fmt.Errorf("incorrect 'max_purchases' param for asset %s (must be an integer), error: %w", asset.ID, err)
	}

	if a.DropPercentage != "" {
		drop, err := decimal.NewFromString(a.DropPercentage)
		if err != nil {
			return AssetConfig{}, fmt.Errorf("incorrect 'drop_percentage' param for asset %s (must be a decimal), error: %w", asset.ID, err)
		}
		asset.DropPercentage = &drop
	}

	asset.FeeTier = defaultFeeTier
	if a.FeeTier != "" {
		fee, err := strconv.ParseUint(a.FeeTier, 10, 32)
		if err != nil {
			return AssetConfig{}, fmt.Errorf("incorrect 'fee_tier' param for asset %s (must be an integer), error: %w", asset.ID, err)
		}
		asset.FeeTier = uint32(fee)
	}

	return asset, nil
}

func telegramFromTmp(t TelegramTmp) (TelegramConfig, error) {
	out := TelegramConfig{Token: envOr(EnvTelegramToken, t.Token)}
	chat := envOr(EnvTelegramChatID, t.ChatID)
	if chat == "" {
		return out, nil
	}
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return TelegramConfig{}, fmt.Errorf("incorrect telegram chat id %q: %w", chat, err)
	}
	out.ChatID = id

	return out, nil
}

func simulateFromTmp(s SimulateConfigTmp) (SimulateConfig, error) {
	balance := s.StableBalance
	if balance == "" {
		balance = defaultSimulateBalance
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return SimulateConfig{}, fmt.Errorf("incorrect 'simulate.stable_balance' param in yaml config: %w", err)
	}

	out := SimulateConfig{StableBalance: b, Prices: make(map[string]decimal.Decimal, len(s.Prices))}
	for id, p := range s.Prices {
		price, err := decimal.NewFromString(p)
		if err != nil {
			return SimulateConfig{}, fmt.Errorf("incorrect simulate price for %s: %w", id, err)
		}
		out.Prices[id] = price
	}

	return out, nil
}

// Validate checks ranges that the typed fields cannot express.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModeSimulate:
	default:
		return fmt.Errorf("unsupported mode %q, want %s or %s", c.Mode, ModeLive, ModeSimulate)
	}
	if !c.DropPercentage.IsPositive() || c.DropPercentage.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("drop_percentage must be within (0, 100), got %s", c.DropPercentage)
	}
	if c.SlippageTolerance.IsNegative() || c.SlippageTolerance.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("slippage_tolerance must be within [0, 100), got %s", c.SlippageTolerance)
	}
	if c.CheckInterval < time.Second {
		return fmt.Errorf("check_interval must be at least 1s, got %s", c.CheckInterval)
	}

	seen := make(map[string]struct{}, len(c.Assets))
	for _, a := range c.Assets {
		if _, ok := seen[a.ID]; ok {
			return fmt.Errorf("duplicate asset id %s", a.ID)
		}
		seen[a.ID] = struct{}{}

		asset, err := c.domainAsset(a)
		if err != nil {
			return err
		}
		if err := asset.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// SlippageBps returns the slippage tolerance in basis points.
func (c Config) SlippageBps() int64 {
	return domain.PercentToBps(c.SlippageTolerance)
}

// DomainAssets converts every configured asset, enabled or not.
func (c Config) DomainAssets() ([]domain.Asset, error) {
	out := make([]domain.Asset, 0, len(c.Assets))
	for _, a := range c.Assets {
		asset, err := c.domainAsset(a)
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}

	return out, nil
}

func (c Config) domainAsset(a AssetConfig) (domain.Asset, error) {
	amount, err := domain.ParseUnits(a.PurchaseAmount.String(), c.Chain.Stablecoin.Decimals)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("asset %s: %w", a.ID, err)
	}
	drop := c.DropPercentage
	if a.DropPercentage != nil {
		drop = *a.DropPercentage
	}

	return domain.Asset{
		ID:             a.ID,
		Symbol:         a.Symbol,
		Token:          a.Token,
		Decimals:       a.Decimals,
		PurchaseAmount: amount,
		MaxPurchases:   a.MaxPurchases,
		DropBps:        domain.PercentToBps(drop),
		FeeTier:        a.FeeTier,
		Enabled:        a.Enabled,
	}, nil
}

// RedactedMask replaces configured secrets in Redacted copies.
const RedactedMask = "***configured***"

// Redacted returns a copy safe to expose over the control surface.
func (c Config) Redacted() Config {
	out := c.clone()
	if out.Chain.RPCURL != "" {
		out.Chain.RPCURL = RedactedMask
	}
	if out.Chain.PrivateKey != "" {
		out.Chain.PrivateKey = RedactedMask
	}
	if out.Telegram.Token != "" {
		out.Telegram.Token = RedactedMask
	}

	return out
}

func (c Config) clone() Config {
	out := c
	out.Assets = make([]AssetConfig, len(c.Assets))
	copy(out.Assets, c.Assets)
	out.Server.TLSDomains = append([]string(nil), c.Server.TLSDomains...)
	out.Simulate.Prices = make(map[string]decimal.Decimal, len(c.Simulate.Prices))
	for k, v := range c.Simulate.Prices {
		out.Simulate.Prices[k] = v
	}

	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}

	return fallback
}

func decimalOr(s string, fallback int64) (decimal.Decimal, error) {
	if s == "" {
		return decimal.NewFromInt(fallback), nil
	}

	return decimal.NewFromString(s)
}

func addressOr(s, fallback string) (common.Address, error) {
	if s == "" {
		s = fallback
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}

	return common.HexToAddress(s), nil
}
