package setup

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dipbuyer/config"
	"github.com/vadiminshakov/dipbuyer/internal/storage/statestore"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const title = "DIPBUYER CONFIG WIZARD"

// assetAnswers are the per-asset wizard inputs.
type assetAnswers struct {
	amount       string
	maxPurchases string
}

// answers collects everything the wizard asks.
type answers struct {
	mode         string
	dropPercent  string
	interval     string
	slippage     string
	storeBackend string
	enabled      []string
	assets       map[string]*assetAnswers
	rpcURL       string
	privateKey   string
}

// RunTUI launches the terminal configuration wizard. The YAML config goes to configPath,
// secrets go to envPath.
func RunTUI(configPath, envPath string) error {
	base, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", configPath, err)
	}

	a := defaults(base)

	// step 1: welcome + mode
	step("STEP 1: MODE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Buy the dip on Arbitrum, one asset at a time.\n"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How should the bot trade?").
				Options(
					huh.NewOption("Live (Uniswap on Arbitrum)", config.ModeLive),
					huh.NewOption("Simulation (in-memory exchange)", config.ModeSimulate),
				).
				Value(&a.mode),
		),
	).Run()
	if err != nil {
		return err
	}

	// global thresholds
	step("STEP 2: STRATEGY")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Drop % from ATH").
				Description("Buy again when price falls this far below the high (e.g. 2)").
				Value(&a.dropPercent).
				Validate(validatePercent),
			huh.NewInput().
				Title("Check interval").
				Description("Duration string (e.g. 30s, 1m, 5m)").
				Value(&a.interval).
				Validate(func(s string) error {
					d, err := time.ParseDuration(s)
					if err != nil {
						return err
					}
					if d < time.Second {
						return fmt.Errorf("must be at least 1s")
					}
					return nil
				}),
			huh.NewInput().
				Title("Slippage tolerance %").
				Value(&a.slippage).
				Validate(validatePercent),
		),
	).Run()
	if err != nil {
		return err
	}

	// assets
	step("STEP 3: ASSETS")
	options := make([]huh.Option[string], 0, len(base.Assets))
	for _, asset := range base.Assets {
		options = append(options, huh.NewOption(asset.ID, asset.ID).Selected(asset.Enabled))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Which assets should be accumulated?").
				Options(options...).
				Value(&a.enabled).
				Validate(func(ids []string) error {
					if len(ids) == 0 {
						return fmt.Errorf("select at least one asset")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 4: BUDGET")
	var groups []*huh.Group
	for _, id := range a.enabled {
		answer := a.assets[id]
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title(id+" purchase amount (USDC)").
				Value(&answer.amount).
				Validate(validatePositive),
			huh.NewInput().
				Title(id+" max purchases").
				Value(&answer.maxPurchases).
				Validate(validateCount),
		))
	}
	if err := huh.NewForm(groups...).Run(); err != nil {
		return err
	}

	step("STEP 5: STORAGE & WALLET")
	fields := []huh.Field{
		huh.NewSelect[string]().
			Title("Where should state survive restarts?").
			Options(
				huh.NewOption("JSON file", statestore.BackendFile),
				huh.NewOption("Write-ahead log", statestore.BackendWAL),
				huh.NewOption("Badger", statestore.BackendBadger),
			).
			Value(&a.storeBackend),
	}
	if a.mode == config.ModeLive {
		fields = append(fields,
			huh.NewInput().
				Title("Arbitrum RPC URL").
				Value(&a.rpcURL),
			huh.NewInput().
				Title("Wallet private key").
				Description("Stored in "+envPath+", never in the YAML config").
				Value(&a.privateKey).
				EchoMode(huh.EchoModePassword),
		)
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}

	cfg, err := buildConfig(base, a)
	if err != nil {
		return err
	}

	// confirmation
	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Mode: %s\nDrop: %s%%\nInterval: %s\nSlippage: %s%%\nAssets: %v\nStore: %s\n",
		cfg.Mode, cfg.DropPercentage, cfg.CheckInterval, cfg.SlippageTolerance, a.enabled, cfg.Store.Backend,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	var confirm bool
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	if err := saveSecrets(envPath, a); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", configPath)))
	return nil
}

func step(name string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render(name))
}

func defaults(base config.Config) *answers {
	a := &answers{
		mode:         base.Mode,
		dropPercent:  base.DropPercentage.String(),
		interval:     base.CheckInterval.String(),
		slippage:     base.SlippageTolerance.String(),
		storeBackend: base.Store.Backend,
		assets:       make(map[string]*assetAnswers, len(base.Assets)),
		rpcURL:       base.Chain.RPCURL,
	}
	if a.storeBackend == "" {
		a.storeBackend = statestore.BackendFile
	}
	for _, asset := range base.Assets {
		if asset.Enabled {
			a.enabled = append(a.enabled, asset.ID)
		}
		a.assets[asset.ID] = &assetAnswers{
			amount:       asset.PurchaseAmount.String(),
			maxPurchases: strconv.Itoa(asset.MaxPurchases),
		}
	}

	return a
}

// buildConfig applies the wizard answers on top of base.
func buildConfig(base config.Config, a *answers) (config.Config, error) {
	drop, err := decimal.NewFromString(a.dropPercent)
	if err != nil {
		return config.Config{}, fmt.Errorf("drop percentage: %w", err)
	}
	slippage, err := decimal.NewFromString(a.slippage)
	if err != nil {
		return config.Config{}, fmt.Errorf("slippage: %w", err)
	}
	interval, err := time.ParseDuration(a.interval)
	if err != nil {
		return config.Config{}, fmt.Errorf("interval: %w", err)
	}
	seconds := int(interval / time.Second)

	selected := make(map[string]bool, len(a.enabled))
	for _, id := range a.enabled {
		selected[id] = true
	}

	u := config.Update{
		DropPercentage:       &drop,
		CheckIntervalSeconds: &seconds,
		SlippageTolerance:    &slippage,
	}
	for _, asset := range base.Assets {
		enabled := selected[asset.ID]
		au := config.AssetUpdate{ID: asset.ID, Enabled: &enabled}
		if answer, ok := a.assets[asset.ID]; ok && enabled {
			amount, err := decimal.NewFromString(answer.amount)
			if err != nil {
				return config.Config{}, fmt.Errorf("%s amount: %w", asset.ID, err)
			}
			maxPurchases, err := strconv.Atoi(answer.maxPurchases)
			if err != nil {
				return config.Config{}, fmt.Errorf("%s max purchases: %w", asset.ID, err)
			}
			au.PurchaseAmount = &amount
			au.MaxPurchases = &maxPurchases
		}
		u.Assets = append(u.Assets, au)
	}

	cfg, err := base.Apply(u)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Mode = a.mode
	cfg.Store.Backend = a.storeBackend

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

// saveSecrets merges the RPC URL and key into the .env file.
func saveSecrets(envPath string, a *answers) error {
	if a.rpcURL == "" && a.privateKey == "" {
		return nil
	}

	env, err := godotenv.Read(envPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", envPath, err)
		}
		env = make(map[string]string)
	}
	if a.rpcURL != "" {
		env[config.EnvRPCURL] = a.rpcURL
	}
	if a.privateKey != "" {
		env[config.EnvPrivateKey] = a.privateKey
	}

	if err := godotenv.Write(env, envPath); err != nil {
		return fmt.Errorf("failed to save %s: %w", envPath, err)
	}

	return os.Chmod(envPath, 0o600)
}

func validatePercent(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("must be between 0 and 100")
	}
	return nil
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateCount(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a whole number of at least 1")
	}
	return nil
}
